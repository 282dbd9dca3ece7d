package wizard

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ashureev/intake-portal/internal/domain"
)

var (
	ErrUnknownField = errors.New("unknown field")
	ErrUnknownStep  = errors.New("unknown step")
	ErrSubmitted    = errors.New("intake already submitted")
	ErrLastStep     = errors.New("already at last step")
	ErrFirstStep    = errors.New("already at first step")
	ErrStepLocked   = errors.New("step not yet reached")
)

// Wizard walks one applicant through a catalog. It owns the applicant's
// intake record and is safe for concurrent use.
type Wizard struct {
	mu       sync.Mutex
	catalog  *Catalog
	email    string
	record   domain.IntakeRecord
	index    int
	furthest int
	status   domain.DraftStatus
	version  int64
	created  time.Time
	updated  time.Time
	submit   *time.Time
	dirty    bool
}

// New starts a fresh wizard at the first step with an empty record.
func New(catalog *Catalog, email string) *Wizard {
	now := time.Now()
	return &Wizard{
		catalog: catalog,
		email:   email,
		record:  domain.IntakeRecord{},
		status:  domain.StatusDraft,
		created: now,
		updated: now,
	}
}

// Restore resumes a wizard from a persisted draft. Fields no longer in the
// catalog are kept in the record but ignored by validation. An unknown
// current step falls back to the first step.
func Restore(catalog *Catalog, d *domain.Draft) *Wizard {
	w := New(catalog, d.Email)
	if d.Record != nil {
		w.record = d.Record.Clone()
	}
	w.index = max(catalog.IndexOf(d.CurrentStep), 0)
	w.furthest = max(catalog.IndexOf(d.FurthestStep), w.index)
	w.status = d.Status
	if w.status == "" {
		w.status = domain.StatusDraft
	}
	w.version = d.Version
	if !d.CreatedAt.IsZero() {
		w.created = d.CreatedAt
	}
	if !d.UpdatedAt.IsZero() {
		w.updated = d.UpdatedAt
	}
	if d.SubmittedAt != nil {
		ts := *d.SubmittedAt
		w.submit = &ts
	}
	return w
}

// Email returns the owner of the record.
func (w *Wizard) Email() string { return w.email }

// Catalog returns the step catalog driving this wizard.
func (w *Wizard) Catalog() *Catalog { return w.catalog }

// Steps returns the catalog's step definitions.
func (w *Wizard) Steps() []domain.StepDefinition { return w.catalog.Steps() }

// Current returns the step the applicant is on.
func (w *Wizard) Current() domain.StepDefinition {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.catalog.Step(w.index)
}

// Index returns the zero-based position of the current step.
func (w *Wizard) Index() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.index
}

// Status returns draft or submitted.
func (w *Wizard) Status() domain.DraftStatus {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.status
}

// Record returns a copy of the intake record.
func (w *Wizard) Record() domain.IntakeRecord {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.record.Clone()
}

// Dirty reports whether the record changed since the last MarkSaved.
func (w *Wizard) Dirty() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.dirty
}

// Progress returns the percentage of steps behind the furthest step reached.
// A submitted record is always 100.
func (w *Wizard) Progress() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.status == domain.StatusSubmitted {
		return 100
	}
	return w.furthest * 100 / w.catalog.Len()
}

// Set stores a single field value after sanitizing and coercing it.
func (w *Wizard) Set(name string, value any) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	v, err := w.prepare(name, value)
	if err != nil {
		return err
	}
	w.record[name] = v
	w.touch()
	return nil
}

// Merge applies several field values at once. Either every value is
// accepted or the record is left unchanged.
func (w *Wizard) Merge(values map[string]any) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	prepared := make(map[string]any, len(values))
	for name, value := range values {
		v, err := w.prepare(name, value)
		if err != nil {
			return err
		}
		prepared[name] = v
	}
	for name, v := range prepared {
		w.record[name] = v
	}
	if len(prepared) > 0 {
		w.touch()
	}
	return nil
}

func (w *Wizard) prepare(name string, value any) (any, error) {
	if w.status == domain.StatusSubmitted {
		return nil, ErrSubmitted
	}
	field, step, ok := w.catalog.Field(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownField, name)
	}
	v, err := coerce(field, value)
	if err != nil {
		return nil, &FieldError{Step: w.catalog.steps[step].ID, Field: name, Message: err.Error()}
	}
	return v, nil
}

// ValidateStep checks the named step against the current record.
func (w *Wizard) ValidateStep(id string) ([]FieldError, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	i := w.catalog.IndexOf(id)
	if i < 0 {
		return nil, fmt.Errorf("%w: %s", ErrUnknownStep, id)
	}
	return validateStep(w.catalog.steps[i], w.record), nil
}

// Next validates the current step and advances to the following one.
func (w *Wizard) Next() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.status == domain.StatusSubmitted {
		return ErrSubmitted
	}
	step := w.catalog.steps[w.index]
	if problems := validateStep(step, w.record); len(problems) > 0 {
		return &ValidationError{Step: step.ID, Fields: problems}
	}
	if w.index == w.catalog.Len()-1 {
		return ErrLastStep
	}
	w.index++
	w.furthest = max(w.furthest, w.index)
	w.touch()
	return nil
}

// Back moves to the previous step without validating.
func (w *Wizard) Back() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.status == domain.StatusSubmitted {
		return ErrSubmitted
	}
	if w.index == 0 {
		return ErrFirstStep
	}
	w.index--
	w.touch()
	return nil
}

// GoTo jumps to any step already reached.
func (w *Wizard) GoTo(id string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.status == domain.StatusSubmitted {
		return ErrSubmitted
	}
	i := w.catalog.IndexOf(id)
	if i < 0 {
		return fmt.Errorf("%w: %s", ErrUnknownStep, id)
	}
	if i > w.furthest {
		return fmt.Errorf("%w: %s", ErrStepLocked, id)
	}
	if i != w.index {
		w.index = i
		w.touch()
	}
	return nil
}

// Submit validates every step and marks the record complete. On failure
// the wizard moves to the first invalid step.
func (w *Wizard) Submit() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.status == domain.StatusSubmitted {
		return ErrSubmitted
	}
	for i, step := range w.catalog.steps {
		if problems := validateStep(step, w.record); len(problems) > 0 {
			if i <= w.furthest {
				w.index = i
			}
			return &ValidationError{Step: step.ID, Fields: problems}
		}
	}
	now := time.Now()
	w.status = domain.StatusSubmitted
	w.submit = &now
	w.index = w.catalog.Len() - 1
	w.furthest = w.index
	w.touch()
	return nil
}

func (w *Wizard) touch() {
	w.dirty = true
	w.updated = time.Now()
}

// Snapshot returns the persistable draft for the wizard's current state.
// The returned version is one past the last saved version.
func (w *Wizard) Snapshot() *domain.Draft {
	w.mu.Lock()
	defer w.mu.Unlock()
	d := &domain.Draft{
		Email:        w.email,
		Record:       w.record.Clone(),
		CurrentStep:  w.catalog.steps[w.index].ID,
		FurthestStep: w.catalog.steps[w.furthest].ID,
		Status:       w.status,
		Version:      w.version + 1,
		CreatedAt:    w.created,
		UpdatedAt:    w.updated,
	}
	if w.submit != nil {
		ts := *w.submit
		d.SubmittedAt = &ts
	}
	return d
}

// MarkSaved records that version was persisted. The dirty flag is cleared
// only if nothing changed after the snapshot was taken.
func (w *Wizard) MarkSaved(version int64, snapshotAt time.Time) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if version > w.version {
		w.version = version
	}
	if !w.updated.After(snapshotAt) {
		w.dirty = false
	}
}

// Version returns the last persisted version.
func (w *Wizard) Version() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.version
}

// State is a read-only view of the wizard used by the HTTP layer.
type State struct {
	Email       string                `json:"email"`
	Status      domain.DraftStatus    `json:"status"`
	CurrentStep string                `json:"current_step"`
	StepIndex   int                   `json:"step_index"`
	StepCount   int                   `json:"step_count"`
	Furthest    string                `json:"furthest_step"`
	Progress    int                   `json:"progress"`
	Step        domain.StepDefinition `json:"step"`
	Record      domain.IntakeRecord   `json:"record"`
	Version     int64                 `json:"version"`
	UpdatedAt   time.Time             `json:"updated_at"`
	SubmittedAt *time.Time            `json:"submitted_at,omitempty"`
}

// State returns a consistent snapshot for rendering.
func (w *Wizard) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	progress := w.furthest * 100 / w.catalog.Len()
	if w.status == domain.StatusSubmitted {
		progress = 100
	}
	s := State{
		Email:       w.email,
		Status:      w.status,
		CurrentStep: w.catalog.steps[w.index].ID,
		StepIndex:   w.index,
		StepCount:   w.catalog.Len(),
		Furthest:    w.catalog.steps[w.furthest].ID,
		Progress:    progress,
		Step:        w.catalog.Step(w.index),
		Record:      w.record.Clone(),
		Version:     w.version,
		UpdatedAt:   w.updated,
	}
	if w.submit != nil {
		ts := *w.submit
		s.SubmittedAt = &ts
	}
	return s
}
