package domain

import (
	"errors"
	"testing"
)

func TestNormalizeValue(t *testing.T) {
	cases := []struct {
		in   any
		want any
		ok   bool
	}{
		{nil, nil, true},
		{"x", "x", true},
		{true, true, true},
		{int(3), float64(3), true},
		{uint8(7), float64(7), true},
		{float32(1.5), float64(1.5), true},
		{[]string{"a"}, nil, false},
		{map[string]any{}, nil, false},
	}
	for _, tc := range cases {
		got, err := NormalizeValue(tc.in)
		if (err == nil) != tc.ok {
			t.Errorf("NormalizeValue(%#v) err=%v, want ok=%v", tc.in, err, tc.ok)
			continue
		}
		if tc.ok && got != tc.want {
			t.Errorf("NormalizeValue(%#v) = %#v, want %#v", tc.in, got, tc.want)
		}
	}
}

func TestIntakeRecordIsBlank(t *testing.T) {
	r := IntakeRecord{"a": "  ", "b": nil, "c": false, "d": "x"}
	for name, want := range map[string]bool{"a": true, "b": true, "c": false, "d": false, "missing": true} {
		if got := r.IsBlank(name); got != want {
			t.Errorf("IsBlank(%q) = %v, want %v", name, got, want)
		}
	}
}

func TestIntakeRecordCloneIsIndependent(t *testing.T) {
	r := IntakeRecord{"a": "1"}
	c := r.Clone()
	c["a"] = "2"
	if r["a"] != "1" {
		t.Fatal("clone must not share storage")
	}
}

func TestNormalizeEmail(t *testing.T) {
	got, err := NormalizeEmail("  Ana@Example.COM ")
	if err != nil || got != "ana@example.com" {
		t.Fatalf("NormalizeEmail = %q, %v", got, err)
	}
	for _, bad := range []string{"", "not-an-email", "Ana <ana@example.com>"} {
		if _, err := NormalizeEmail(bad); !errors.Is(err, ErrInvalidEmail) {
			t.Errorf("NormalizeEmail(%q) expected ErrInvalidEmail, got %v", bad, err)
		}
	}
}
