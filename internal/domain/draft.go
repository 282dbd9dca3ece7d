package domain

import "time"

// DraftStatus is the lifecycle state of an intake record.
type DraftStatus string

const (
	StatusDraft     DraftStatus = "draft"
	StatusSubmitted DraftStatus = "submitted"
)

// Draft is a persisted intake record plus wizard position.
type Draft struct {
	Email        string       `json:"email"`
	Record       IntakeRecord `json:"record"`
	CurrentStep  string       `json:"current_step"`
	FurthestStep string       `json:"furthest_step"`
	Status       DraftStatus  `json:"status"`
	Version      int64        `json:"version"`
	CreatedAt    time.Time    `json:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at"`
	SubmittedAt  *time.Time   `json:"submitted_at,omitempty"`
}

// IsDraft returns true while the record is incomplete and eligible for
// auto-save.
func (d *Draft) IsDraft() bool {
	return d.Status == "" || d.Status == StatusDraft
}
