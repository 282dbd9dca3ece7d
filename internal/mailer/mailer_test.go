package mailer

import (
	"context"
	"errors"
	"net/smtp"
	"strings"
	"testing"
	"time"
)

func TestSMTPSendLoginCode(t *testing.T) {
	m := NewSMTP(SMTPConfig{Host: "smtp.example.com", Port: 2525, Username: "u", Password: "p", From: "intake@example.com"})

	var gotAddr, gotFrom string
	var gotTo []string
	var gotMsg []byte
	var gotAuth smtp.Auth
	m.send = func(addr string, a smtp.Auth, from string, to []string, msg []byte) error {
		gotAddr, gotAuth, gotFrom, gotTo, gotMsg = addr, a, from, to, msg
		return nil
	}

	expires := time.Date(2026, 1, 2, 15, 4, 0, 0, time.UTC)
	if err := m.SendLoginCode(context.Background(), "ana@example.com", "042917", expires); err != nil {
		t.Fatalf("SendLoginCode failed: %v", err)
	}
	if gotAddr != "smtp.example.com:2525" || gotFrom != "intake@example.com" {
		t.Fatalf("unexpected envelope addr=%q from=%q", gotAddr, gotFrom)
	}
	if len(gotTo) != 1 || gotTo[0] != "ana@example.com" {
		t.Fatalf("unexpected recipients %v", gotTo)
	}
	if gotAuth == nil {
		t.Fatal("expected PLAIN auth when a username is configured")
	}
	body := string(gotMsg)
	for _, want := range []string{"To: ana@example.com\r\n", "042917", "15:04 UTC"} {
		if !strings.Contains(body, want) {
			t.Errorf("message missing %q:\n%s", want, body)
		}
	}
}

func TestSMTPRejectsHeaderInjection(t *testing.T) {
	m := NewSMTP(SMTPConfig{Host: "smtp.example.com", Port: 25, From: "intake@example.com"})
	m.send = func(string, smtp.Auth, string, []string, []byte) error {
		t.Fatal("send must not be called")
		return nil
	}
	if err := m.SendLoginCode(context.Background(), "a@example.com\r\nBcc: x@example.com", "1", time.Now()); err == nil {
		t.Fatal("expected error for CRLF in recipient")
	}
}

func TestSMTPWrapsSendErrors(t *testing.T) {
	m := NewSMTP(SMTPConfig{Host: "smtp.example.com", Port: 25, From: "intake@example.com"})
	relayDown := errors.New("connection refused")
	m.send = func(string, smtp.Auth, string, []string, []byte) error { return relayDown }

	err := m.SendLoginCode(context.Background(), "a@example.com", "1", time.Now())
	if !errors.Is(err, relayDown) {
		t.Fatalf("expected wrapped relay error, got %v", err)
	}
}
