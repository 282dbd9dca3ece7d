// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"time"

	"github.com/ashureev/intake-portal/internal/domain"
)

// Stats summarises repository contents for the back-office.
type Stats struct {
	Clients         int64 `json:"clients"`
	OpenDrafts      int64 `json:"open_drafts"`
	SubmittedDrafts int64 `json:"submitted_drafts"`
	Documents       int64 `json:"documents"`
	DocumentBytes   int64 `json:"document_bytes"`
}

// Repository defines the interface for persisting clients, drafts and
// document metadata.
type Repository interface {
	// GetClient retrieves a client by email. Returns nil, nil when absent.
	GetClient(ctx context.Context, email string) (*domain.Client, error)

	// UpsertClient creates or updates a client record.
	UpsertClient(ctx context.Context, client *domain.Client) error

	// UpdateLastSeen updates the last_seen_at timestamp for a client.
	UpdateLastSeen(ctx context.Context, email string, lastSeen time.Time) error

	// SessionEpoch returns the client's current session epoch, or 0 for
	// unknown clients.
	SessionEpoch(ctx context.Context, email string) (int64, error)

	// BumpSessionEpoch increments the client's session epoch and returns
	// the new value.
	BumpSessionEpoch(ctx context.Context, email string) (int64, error)

	// SaveLoginCode stores a pending sign-in code, replacing any earlier one.
	SaveLoginCode(ctx context.Context, code *domain.LoginCode) error

	// GetLoginCode retrieves the pending sign-in code. Returns nil, nil when absent.
	GetLoginCode(ctx context.Context, email string) (*domain.LoginCode, error)

	// IncrementLoginAttempts records a failed verification and returns the
	// new attempt count.
	IncrementLoginAttempts(ctx context.Context, email string) (int, error)

	// DeleteLoginCode removes the pending sign-in code.
	DeleteLoginCode(ctx context.Context, email string) error

	// DeleteExpiredLoginCodes removes codes that expired before now.
	DeleteExpiredLoginCodes(ctx context.Context, now time.Time) (int64, error)

	// GetDraft retrieves the intake draft for an email. Returns nil, nil when absent.
	GetDraft(ctx context.Context, email string) (*domain.Draft, error)

	// UpsertDraft overwrites the stored draft for draft.Email.
	UpsertDraft(ctx context.Context, draft *domain.Draft) error

	// DeleteDraft removes the draft for an email.
	DeleteDraft(ctx context.Context, email string) error

	// ListDrafts returns drafts ordered by most recently updated.
	// An empty status returns every draft.
	ListDrafts(ctx context.Context, status domain.DraftStatus) ([]*domain.Draft, error)

	// DeleteStaleDrafts removes incomplete drafts not updated within maxAge.
	DeleteStaleDrafts(ctx context.Context, maxAge time.Duration) (int64, error)

	// CreateDocument records metadata for an uploaded document.
	CreateDocument(ctx context.Context, doc *domain.Document) error

	// GetDocument retrieves document metadata by ID. Returns nil, nil when absent.
	GetDocument(ctx context.Context, id string) (*domain.Document, error)

	// ListDocuments returns documents for an owner, or all when owner is empty.
	ListDocuments(ctx context.Context, owner string) ([]*domain.Document, error)

	// DeleteDocument removes document metadata by ID.
	DeleteDocument(ctx context.Context, id string) error

	// Stats returns aggregate counts.
	Stats(ctx context.Context) (Stats, error)

	// Ping verifies database connectivity and returns an error if the database is unreachable.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
