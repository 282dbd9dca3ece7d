package draft

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/ashureev/intake-portal/internal/domain"
	"github.com/go-redis/redis/v8"
)

const defaultRedisPrefix = "intake:draft:"

// RedisStore persists drafts as JSON values in Redis. Incomplete drafts
// carry a TTL so abandoned ones expire on their own; submitted records do
// not expire.
type RedisStore struct {
	client redis.Cmdable
	prefix string
	ttl    time.Duration
}

// NewRedisStore wraps a Redis client. ttl <= 0 disables expiry.
func NewRedisStore(client redis.Cmdable, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, prefix: defaultRedisPrefix, ttl: ttl}
}

func (s *RedisStore) key(email string) string {
	return s.prefix + email
}

// Load returns the draft for email.
func (s *RedisStore) Load(ctx context.Context, email string) (*domain.Draft, error) {
	data, err := s.client.Get(ctx, s.key(email)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis get draft: %w", err)
	}
	return decodeDraft(data)
}

// Save overwrites the draft.
func (s *RedisStore) Save(ctx context.Context, d *domain.Draft) error {
	data, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("encode draft: %w", err)
	}
	ttl := s.ttl
	if !d.IsDraft() {
		ttl = 0
	}
	if err := s.client.Set(ctx, s.key(d.Email), data, ttl).Err(); err != nil {
		return fmt.Errorf("redis set draft: %w", err)
	}
	return nil
}

// Delete removes the draft.
func (s *RedisStore) Delete(ctx context.Context, email string) error {
	if err := s.client.Del(ctx, s.key(email)).Err(); err != nil {
		return fmt.Errorf("redis delete draft: %w", err)
	}
	return nil
}

// List scans every draft key.
func (s *RedisStore) List(ctx context.Context, status domain.DraftStatus) ([]*domain.Draft, error) {
	var drafts []*domain.Draft
	iter := s.client.Scan(ctx, 0, s.prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		d, err := s.Load(ctx, strings.TrimPrefix(iter.Val(), s.prefix))
		if err != nil {
			return nil, err
		}
		if d == nil || (status != "" && d.Status != status) {
			continue
		}
		drafts = append(drafts, d)
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("redis scan drafts: %w", err)
	}
	sortByUpdated(drafts)
	return drafts, nil
}

// DeleteStale removes incomplete drafts older than maxAge that were saved
// without a TTL.
func (s *RedisStore) DeleteStale(ctx context.Context, maxAge time.Duration) (int64, error) {
	drafts, err := s.List(ctx, domain.StatusDraft)
	if err != nil {
		return 0, err
	}
	threshold := time.Now().Add(-maxAge)
	var deleted int64
	for _, d := range drafts {
		if d.UpdatedAt.Before(threshold) {
			if err := s.Delete(ctx, d.Email); err != nil {
				return deleted, err
			}
			deleted++
		}
	}
	return deleted, nil
}

func decodeDraft(data []byte) (*domain.Draft, error) {
	var d domain.Draft
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("decode draft: %w", err)
	}
	if d.Record == nil {
		d.Record = domain.IntakeRecord{}
	}
	return &d, nil
}

func sortByUpdated(drafts []*domain.Draft) {
	sort.SliceStable(drafts, func(i, j int) bool {
		if drafts[i].UpdatedAt.Equal(drafts[j].UpdatedAt) {
			return drafts[i].Email < drafts[j].Email
		}
		return drafts[i].UpdatedAt.After(drafts[j].UpdatedAt)
	})
}
