package draft

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/ashureev/intake-portal/internal/domain"
)

// MemoryStore keeps serialized drafts in process memory.
type MemoryStore struct {
	mu     sync.Mutex
	drafts map[string][]byte
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{drafts: make(map[string][]byte)}
}

// Load returns the draft for email.
func (s *MemoryStore) Load(_ context.Context, email string) (*domain.Draft, error) {
	s.mu.Lock()
	data, ok := s.drafts[email]
	s.mu.Unlock()
	if !ok {
		return nil, nil
	}
	return decodeDraft(data)
}

// Save overwrites the draft.
func (s *MemoryStore) Save(_ context.Context, d *domain.Draft) error {
	data, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("encode draft: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.drafts[d.Email] = data
	return nil
}

// Delete removes the draft.
func (s *MemoryStore) Delete(_ context.Context, email string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.drafts, email)
	return nil
}

// List returns stored drafts.
func (s *MemoryStore) List(ctx context.Context, status domain.DraftStatus) ([]*domain.Draft, error) {
	s.mu.Lock()
	emails := make([]string, 0, len(s.drafts))
	for email := range s.drafts {
		emails = append(emails, email)
	}
	s.mu.Unlock()

	var out []*domain.Draft
	for _, email := range emails {
		d, err := s.Load(ctx, email)
		if err != nil {
			return nil, err
		}
		if d == nil || (status != "" && d.Status != status) {
			continue
		}
		out = append(out, d)
	}
	sortByUpdated(out)
	return out, nil
}

// DeleteStale removes incomplete drafts older than maxAge.
func (s *MemoryStore) DeleteStale(ctx context.Context, maxAge time.Duration) (int64, error) {
	drafts, err := s.List(ctx, domain.StatusDraft)
	if err != nil {
		return 0, err
	}
	threshold := time.Now().Add(-maxAge)
	var n int64
	for _, d := range drafts {
		if d.UpdatedAt.Before(threshold) {
			_ = s.Delete(ctx, d.Email)
			n++
		}
	}
	return n, nil
}
