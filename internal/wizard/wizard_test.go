package wizard

import (
	"encoding/json"
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/ashureev/intake-portal/internal/domain"
	"github.com/google/go-cmp/cmp"
)

const testCatalogYAML = `
steps:
  - id: about
    title: About you
    required: true
    fields:
      - {name: name, type: text, required: true, max_length: 10}
      - {name: email, type: email, required: true}
  - id: extras
    title: Extras
    required: false
    fields:
      - {name: age, type: number, required: true}
      - {name: color, type: select, options: [red, blue]}
  - id: consent
    title: Consent
    required: true
    fields:
      - {name: agree, type: boolean, required: true}
`

func testCatalog(t *testing.T) *Catalog {
	t.Helper()
	c, err := LoadCatalog([]byte(testCatalogYAML))
	if err != nil {
		t.Fatalf("LoadCatalog failed: %v", err)
	}
	return c
}

func TestNextRequiresFieldsOnRequiredStep(t *testing.T) {
	w := New(testCatalog(t), "a@example.com")

	err := w.Next()
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	var fields []string
	for _, f := range verr.Fields {
		fields = append(fields, f.Field)
	}
	if diff := cmp.Diff([]string{"name", "email"}, fields); diff != "" {
		t.Fatalf("invalid fields mismatch (-want +got):\n%s", diff)
	}
	if w.Current().ID != "about" {
		t.Fatalf("expected to stay on about, got %s", w.Current().ID)
	}

	if err := w.Merge(map[string]any{"name": "Ana", "email": "ana@example.com"}); err != nil {
		t.Fatalf("Merge failed: %v", err)
	}
	if err := w.Next(); err != nil {
		t.Fatalf("Next failed: %v", err)
	}
	if w.Current().ID != "extras" {
		t.Fatalf("expected extras, got %s", w.Current().ID)
	}
}

func TestOptionalStepSkipsRequiredButChecksTypes(t *testing.T) {
	w := New(testCatalog(t), "a@example.com")
	mustMerge(t, w, map[string]any{"name": "Ana", "email": "ana@example.com"})
	mustNext(t, w)

	// age is required on an optional step: blank is fine.
	mustNext(t, w)
	if w.Current().ID != "consent" {
		t.Fatalf("expected consent, got %s", w.Current().ID)
	}

	mustBack(t, w)
	mustMerge(t, w, map[string]any{"color": "green"})
	err := w.Next()
	var verr *ValidationError
	if !errors.As(err, &verr) || verr.Fields[0].Field != "color" {
		t.Fatalf("expected color validation error, got %v", err)
	}
}

func TestRequiredBooleanMustBeTrue(t *testing.T) {
	w := New(testCatalog(t), "a@example.com")
	mustMerge(t, w, map[string]any{"name": "Ana", "email": "ana@example.com"})
	mustNext(t, w)
	mustNext(t, w)

	mustMerge(t, w, map[string]any{"agree": false})
	if err := w.Submit(); err == nil {
		t.Fatal("expected submit to fail when consent is false")
	}
	mustMerge(t, w, map[string]any{"agree": "true"})
	if err := w.Submit(); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if w.Status() != domain.StatusSubmitted {
		t.Fatalf("expected submitted, got %s", w.Status())
	}
	if err := w.Set("name", "Bo"); !errors.Is(err, ErrSubmitted) {
		t.Fatalf("expected ErrSubmitted after submit, got %v", err)
	}
	if w.Progress() != 100 {
		t.Fatalf("expected 100%% progress, got %d", w.Progress())
	}
}

func TestSetCoercesAndSanitizes(t *testing.T) {
	w := New(testCatalog(t), "a@example.com")

	mustMerge(t, w, map[string]any{
		"name":  "Ana",
		"age":   "42",
		"agree": "yes-ish",
	}, true)

	if err := w.Set("age", "1,250.5"); err != nil {
		t.Fatalf("Set age failed: %v", err)
	}
	if err := w.Set("name", " <b>Ana</b> & Co "); err != nil {
		t.Fatalf("Set name failed: %v", err)
	}
	rec := w.Record()
	if rec["age"] != 1250.5 {
		t.Fatalf("expected age 1250.5, got %#v", rec["age"])
	}
	if rec["name"] != "Ana & Co" {
		t.Fatalf("expected sanitized name, got %#v", rec["name"])
	}
	for _, encoded := range []string{
		"&lt;script&gt;alert(1)&lt;/script&gt;Ana",
		"&amp;lt;b&amp;gt;Ana&amp;lt;/b&amp;gt;",
		"&#60;img src=x onerror=alert(1)&#62;Ana",
	} {
		if err := w.Set("name", encoded); err != nil {
			t.Fatalf("Set name %q failed: %v", encoded, err)
		}
		got, _ := w.Record()["name"].(string)
		if strings.ContainsAny(got, "<>") || got != "Ana" {
			t.Fatalf("expected encoded markup stripped from %q, got %q", encoded, got)
		}
	}
	if err := w.Set("age", ""); err != nil {
		t.Fatalf("Set blank age failed: %v", err)
	}
	if w.Record()["age"] != nil {
		t.Fatalf("expected blank number to become nil")
	}
}

func TestSetRejectsNonFiniteNumbers(t *testing.T) {
	w := New(testCatalog(t), "a@example.com")
	for _, v := range []any{"NaN", "Inf", "-Infinity", math.NaN(), math.Inf(1)} {
		var ferr *FieldError
		if err := w.Set("age", v); !errors.As(err, &ferr) {
			t.Fatalf("Set age %v: expected FieldError, got %v", v, err)
		}
		if ferr.Field != "age" || ferr.Step != "extras" {
			t.Fatalf("unexpected field error: %+v", ferr)
		}
	}
	if _, ok := w.Record()["age"]; ok {
		t.Fatalf("expected rejected values to leave age unset, got %#v", w.Record()["age"])
	}
	if _, err := json.Marshal(w.Snapshot()); err != nil {
		t.Fatalf("snapshot must stay encodable: %v", err)
	}
}

func TestSetRejectsUnknownFieldsAndNestedValues(t *testing.T) {
	w := New(testCatalog(t), "a@example.com")
	if err := w.Set("nope", "x"); !errors.Is(err, ErrUnknownField) {
		t.Fatalf("expected ErrUnknownField, got %v", err)
	}
	var ferr *FieldError
	if err := w.Set("name", map[string]any{"a": 1}); !errors.As(err, &ferr) {
		t.Fatalf("expected FieldError for nested value, got %v", err)
	}
}

func TestMergeIsAllOrNothing(t *testing.T) {
	w := New(testCatalog(t), "a@example.com")
	err := w.Merge(map[string]any{"name": "Ana", "unknown": "x"})
	if err == nil {
		t.Fatal("expected merge error")
	}
	if len(w.Record()) != 0 {
		t.Fatalf("expected record untouched, got %v", w.Record())
	}
	if w.Dirty() {
		t.Fatal("expected wizard to stay clean after failed merge")
	}
}

func TestGoToOnlyReachedSteps(t *testing.T) {
	w := New(testCatalog(t), "a@example.com")
	if err := w.GoTo("consent"); !errors.Is(err, ErrStepLocked) {
		t.Fatalf("expected ErrStepLocked, got %v", err)
	}
	if err := w.GoTo("missing"); !errors.Is(err, ErrUnknownStep) {
		t.Fatalf("expected ErrUnknownStep, got %v", err)
	}

	mustMerge(t, w, map[string]any{"name": "Ana", "email": "ana@example.com"})
	mustNext(t, w)
	mustNext(t, w)
	if err := w.GoTo("about"); err != nil {
		t.Fatalf("GoTo about failed: %v", err)
	}
	if err := w.GoTo("consent"); err != nil {
		t.Fatalf("GoTo consent failed: %v", err)
	}
}

func TestBackAndLastStepBoundaries(t *testing.T) {
	w := New(testCatalog(t), "a@example.com")
	if err := w.Back(); !errors.Is(err, ErrFirstStep) {
		t.Fatalf("expected ErrFirstStep, got %v", err)
	}
	mustMerge(t, w, map[string]any{"name": "Ana", "email": "ana@example.com", "agree": true})
	mustNext(t, w)
	mustNext(t, w)
	if err := w.Next(); !errors.Is(err, ErrLastStep) {
		t.Fatalf("expected ErrLastStep, got %v", err)
	}
}

func TestSubmitMovesToFirstInvalidStep(t *testing.T) {
	w := New(testCatalog(t), "a@example.com")
	mustMerge(t, w, map[string]any{"name": "Ana", "email": "ana@example.com"})
	mustNext(t, w)
	mustNext(t, w)
	mustMerge(t, w, map[string]any{"agree": true, "name": ""})

	err := w.Submit()
	var verr *ValidationError
	if !errors.As(err, &verr) || verr.Step != "about" {
		t.Fatalf("expected about validation error, got %v", err)
	}
	if w.Current().ID != "about" {
		t.Fatalf("expected wizard on about, got %s", w.Current().ID)
	}
}

func TestSnapshotRestoreRoundTrip(t *testing.T) {
	c := testCatalog(t)
	w := New(c, "a@example.com")
	mustMerge(t, w, map[string]any{"name": "Ana", "email": "ana@example.com"})
	mustNext(t, w)

	snap := w.Snapshot()
	if snap.Version != 1 || snap.CurrentStep != "extras" || snap.FurthestStep != "extras" {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}
	w.MarkSaved(snap.Version, snap.UpdatedAt)
	if w.Dirty() {
		t.Fatal("expected clean wizard after MarkSaved")
	}

	restored := Restore(c, snap)
	if diff := cmp.Diff(w.State(), restored.State()); diff != "" {
		t.Fatalf("restored state mismatch (-want +got):\n%s", diff)
	}
}

func TestRestoreUnknownStepFallsBack(t *testing.T) {
	w := Restore(testCatalog(t), &domain.Draft{Email: "a@example.com", CurrentStep: "gone", FurthestStep: "gone"})
	if w.Index() != 0 {
		t.Fatalf("expected index 0, got %d", w.Index())
	}
	if w.Status() != domain.StatusDraft {
		t.Fatalf("expected draft status, got %s", w.Status())
	}
}

func TestMarkSavedKeepsDirtyAfterLaterEdit(t *testing.T) {
	w := New(testCatalog(t), "a@example.com")
	mustMerge(t, w, map[string]any{"name": "Ana"})
	snap := w.Snapshot()
	mustMerge(t, w, map[string]any{"name": "Bo"})
	w.MarkSaved(snap.Version, snap.UpdatedAt.Add(-1))
	if !w.Dirty() {
		t.Fatal("expected wizard to stay dirty after a newer edit")
	}
}

func mustMerge(t *testing.T, w *Wizard, values map[string]any, allowErr ...bool) {
	t.Helper()
	if err := w.Merge(values); err != nil && len(allowErr) == 0 {
		t.Fatalf("Merge failed: %v", err)
	}
}

func mustNext(t *testing.T, w *Wizard) {
	t.Helper()
	if err := w.Next(); err != nil {
		t.Fatalf("Next failed: %v", err)
	}
}

func mustBack(t *testing.T, w *Wizard) {
	t.Helper()
	if err := w.Back(); err != nil {
		t.Fatalf("Back failed: %v", err)
	}
}
