// Package draft persists intake drafts and auto-saves open wizard sessions.
package draft

import (
	"context"
	"time"

	"github.com/ashureev/intake-portal/internal/domain"
	"github.com/ashureev/intake-portal/internal/shared"
	"github.com/ashureev/intake-portal/internal/store"
)

// Store is the key-value capability drafts are persisted through, keyed by
// normalized email. Saves overwrite; the last write wins.
type Store interface {
	// Load returns the draft for email, or nil, nil when none exists.
	Load(ctx context.Context, email string) (*domain.Draft, error)

	// Save overwrites the draft stored under d.Email.
	Save(ctx context.Context, d *domain.Draft) error

	// Delete removes the draft for email. Deleting a missing draft is not an error.
	Delete(ctx context.Context, email string) error

	// List returns stored drafts, filtered by status when non-empty.
	List(ctx context.Context, status domain.DraftStatus) ([]*domain.Draft, error)

	// DeleteStale removes incomplete drafts not updated within maxAge.
	DeleteStale(ctx context.Context, maxAge time.Duration) (int64, error)
}

// RepositoryStore persists drafts in the SQL repository, retrying writes
// that fail with SQLite lock contention.
type RepositoryStore struct {
	repo  store.Repository
	retry shared.RetryPolicy
}

// NewRepositoryStore wraps repo as a draft Store.
func NewRepositoryStore(repo store.Repository) *RepositoryStore {
	return &RepositoryStore{repo: repo, retry: shared.DefaultDBRetry}
}

// Load returns the draft for email.
func (s *RepositoryStore) Load(ctx context.Context, email string) (*domain.Draft, error) {
	return s.repo.GetDraft(ctx, email)
}

// Save overwrites the stored draft.
func (s *RepositoryStore) Save(ctx context.Context, d *domain.Draft) error {
	return shared.Retry(ctx, s.retry, shared.IsSQLiteConflictError, "save draft", func(ctx context.Context) error {
		return s.repo.UpsertDraft(ctx, d)
	})
}

// Delete removes the draft for email.
func (s *RepositoryStore) Delete(ctx context.Context, email string) error {
	return shared.Retry(ctx, s.retry, shared.IsSQLiteConflictError, "delete draft", func(ctx context.Context) error {
		return s.repo.DeleteDraft(ctx, email)
	})
}

// List returns stored drafts.
func (s *RepositoryStore) List(ctx context.Context, status domain.DraftStatus) ([]*domain.Draft, error) {
	return s.repo.ListDrafts(ctx, status)
}

// DeleteStale removes abandoned drafts.
func (s *RepositoryStore) DeleteStale(ctx context.Context, maxAge time.Duration) (int64, error) {
	var n int64
	err := shared.Retry(ctx, s.retry, shared.IsSQLiteConflictError, "delete stale drafts", func(ctx context.Context) error {
		var err error
		n, err = s.repo.DeleteStaleDrafts(ctx, maxAge)
		return err
	})
	return n, err
}
