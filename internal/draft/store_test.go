package draft

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/ashureev/intake-portal/internal/domain"
	"github.com/ashureev/intake-portal/internal/store"
	"github.com/go-redis/redis/v8"
	"github.com/google/go-cmp/cmp"
)

var equateTimes = cmp.Comparer(func(a, b time.Time) bool { return a.Equal(b) })

func newSQLiteDraftStore(t *testing.T) Store {
	t.Helper()
	repo, err := store.NewSQLite(filepath.Join(t.TempDir(), "drafts.db"))
	if err != nil {
		t.Fatalf("NewSQLite failed: %v", err)
	}
	t.Cleanup(func() { _ = repo.Close() })
	return NewRepositoryStore(repo)
}

func newRedisDraftStore(t *testing.T, ttl time.Duration) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisStore(client, ttl), mr
}

func TestStoreContract(t *testing.T) {
	backends := map[string]func(t *testing.T) Store{
		"sqlite": newSQLiteDraftStore,
		"memory": func(*testing.T) Store { return NewMemoryStore() },
		"redis": func(t *testing.T) Store {
			s, _ := newRedisDraftStore(t, time.Hour)
			return s
		},
	}
	for name, newStore := range backends {
		t.Run(name, func(t *testing.T) {
			testStoreContract(t, newStore(t))
		})
	}
}

func testStoreContract(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()
	now := time.Unix(time.Now().Unix(), 0)

	got, err := s.Load(ctx, "missing@example.com")
	if err != nil || got != nil {
		t.Fatalf("Load missing: expected nil, nil, got %+v, %v", got, err)
	}

	fresh := &domain.Draft{
		Email:        "a@example.com",
		Record:       domain.IntakeRecord{"name": "Ana", "dependents": 2.0, "agree": true},
		CurrentStep:  "one",
		FurthestStep: "two",
		Status:       domain.StatusDraft,
		Version:      3,
		CreatedAt:    now.Add(-time.Minute),
		UpdatedAt:    now,
	}
	stale := &domain.Draft{
		Email:        "stale@example.com",
		Record:       domain.IntakeRecord{},
		CurrentStep:  "one",
		FurthestStep: "one",
		Status:       domain.StatusDraft,
		Version:      1,
		CreatedAt:    now.Add(-3 * time.Hour),
		UpdatedAt:    now.Add(-2 * time.Hour),
	}
	submittedAt := now.Add(-2 * time.Hour)
	submitted := &domain.Draft{
		Email:        "done@example.com",
		Record:       domain.IntakeRecord{"name": "Bo"},
		CurrentStep:  "two",
		FurthestStep: "two",
		Status:       domain.StatusSubmitted,
		Version:      5,
		CreatedAt:    now.Add(-3 * time.Hour),
		UpdatedAt:    now.Add(-2 * time.Hour),
		SubmittedAt:  &submittedAt,
	}
	for _, d := range []*domain.Draft{fresh, stale, submitted} {
		if err := s.Save(ctx, d); err != nil {
			t.Fatalf("Save %s failed: %v", d.Email, err)
		}
	}

	got, err = s.Load(ctx, "a@example.com")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if diff := cmp.Diff(fresh, got, equateTimes); diff != "" {
		t.Fatalf("draft mismatch (-want +got):\n%s", diff)
	}
	got, _ = s.Load(ctx, "done@example.com")
	if diff := cmp.Diff(submitted, got, equateTimes); diff != "" {
		t.Fatalf("submitted draft mismatch (-want +got):\n%s", diff)
	}

	fresh.Version = 4
	fresh.Record["name"] = "Ana Maria"
	if err := s.Save(ctx, fresh); err != nil {
		t.Fatalf("overwrite failed: %v", err)
	}
	got, _ = s.Load(ctx, "a@example.com")
	if got.Version != 4 || got.Record["name"] != "Ana Maria" {
		t.Fatalf("expected overwrite to win, got %+v", got)
	}

	emails := func(list []*domain.Draft) []string {
		var out []string
		for _, d := range list {
			out = append(out, d.Email)
		}
		return out
	}
	all, err := s.List(ctx, "")
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if diff := cmp.Diff([]string{"a@example.com", "done@example.com", "stale@example.com"}, emails(all)); diff != "" {
		t.Fatalf("List order mismatch (-want +got):\n%s", diff)
	}
	open, err := s.List(ctx, domain.StatusDraft)
	if err != nil {
		t.Fatalf("List drafts failed: %v", err)
	}
	if diff := cmp.Diff([]string{"a@example.com", "stale@example.com"}, emails(open)); diff != "" {
		t.Fatalf("status filter mismatch (-want +got):\n%s", diff)
	}

	n, err := s.DeleteStale(ctx, time.Hour)
	if err != nil {
		t.Fatalf("DeleteStale failed: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 stale draft purged, got %d", n)
	}
	if d, _ := s.Load(ctx, "stale@example.com"); d != nil {
		t.Fatalf("expected stale draft purged, got %+v", d)
	}
	if d, _ := s.Load(ctx, "done@example.com"); d == nil {
		t.Fatal("submitted record must survive retention")
	}

	if err := s.Delete(ctx, "a@example.com"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if d, _ := s.Load(ctx, "a@example.com"); d != nil {
		t.Fatalf("expected draft deleted, got %+v", d)
	}
	if err := s.Delete(ctx, "a@example.com"); err != nil {
		t.Fatalf("Delete of missing draft failed: %v", err)
	}
}

func TestRedisStoreTTL(t *testing.T) {
	s, mr := newRedisDraftStore(t, time.Hour)
	ctx := context.Background()
	d := &domain.Draft{Email: "a@example.com", Status: domain.StatusDraft, Version: 1, UpdatedAt: time.Now()}

	if err := s.Save(ctx, d); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if !mr.Exists("intake:draft:a@example.com") {
		t.Fatalf("expected prefixed key, got keys %v", mr.Keys())
	}
	if got := mr.TTL("intake:draft:a@example.com"); got != time.Hour {
		t.Fatalf("expected draft TTL of 1h, got %v", got)
	}

	d.Status = domain.StatusSubmitted
	d.Version = 2
	if err := s.Save(ctx, d); err != nil {
		t.Fatalf("Save submitted failed: %v", err)
	}
	if got := mr.TTL("intake:draft:a@example.com"); got != 0 {
		t.Fatalf("expected submitted record to persist, got TTL %v", got)
	}

	d2 := &domain.Draft{Email: "b@example.com", Status: domain.StatusDraft, UpdatedAt: time.Now()}
	_ = s.Save(ctx, d2)
	mr.FastForward(2 * time.Hour)
	if got, err := s.Load(ctx, "b@example.com"); err != nil || got != nil {
		t.Fatalf("expected expired draft to load as nil, got %+v, %v", got, err)
	}
	if got, _ := s.Load(ctx, "a@example.com"); got == nil {
		t.Fatal("expected submitted record to outlive the TTL")
	}
}

func TestRedisStoreListSkipsForeignKeys(t *testing.T) {
	s, mr := newRedisDraftStore(t, 0)
	ctx := context.Background()
	for i := 0; i < 150; i++ {
		d := &domain.Draft{
			Email:     fmt.Sprintf("c%03d@example.com", i),
			Status:    domain.StatusDraft,
			UpdatedAt: time.Unix(int64(1000+i), 0),
		}
		if err := s.Save(ctx, d); err != nil {
			t.Fatalf("Save failed: %v", err)
		}
	}
	if err := mr.Set("session:other", "x"); err != nil {
		t.Fatalf("seed foreign key: %v", err)
	}

	list, err := s.List(ctx, "")
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(list) != 150 {
		t.Fatalf("expected 150 drafts across scan pages, got %d", len(list))
	}
	if list[0].Email != "c149@example.com" {
		t.Fatalf("expected newest first, got %s", list[0].Email)
	}
	if got := mr.TTL("intake:draft:c000@example.com"); got != 0 {
		t.Fatalf("ttl <= 0 must disable expiry, got %v", got)
	}
}

func TestRedisStoreReportsConnectionErrors(t *testing.T) {
	s, mr := newRedisDraftStore(t, time.Hour)
	mr.Close()
	if _, err := s.Load(context.Background(), "a@example.com"); err == nil {
		t.Fatal("expected Load to fail when redis is down")
	}
}

func TestMemoryStoreListOrdersByUpdated(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	base := time.Now()
	_ = s.Save(ctx, &domain.Draft{Email: "old@example.com", Status: domain.StatusDraft, UpdatedAt: base.Add(-time.Minute)})
	_ = s.Save(ctx, &domain.Draft{Email: "new@example.com", Status: domain.StatusDraft, UpdatedAt: base})

	list, err := s.List(ctx, "")
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	var emails []string
	for _, d := range list {
		emails = append(emails, d.Email)
	}
	if diff := cmp.Diff([]string{"new@example.com", "old@example.com"}, emails); diff != "" {
		t.Fatalf("order mismatch (-want +got):\n%s", diff)
	}
}

func TestOpenSelectsBackend(t *testing.T) {
	repo, err := store.NewSQLite(filepath.Join(t.TempDir(), "drafts.db"))
	if err != nil {
		t.Fatalf("NewSQLite failed: %v", err)
	}
	defer func() { _ = repo.Close() }()

	s, closeFn, err := Open(context.Background(), BackendConfig{Kind: BackendSQLite}, repo)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer closeFn()
	if _, ok := s.(*RepositoryStore); !ok {
		t.Fatalf("expected RepositoryStore, got %T", s)
	}

	mr := miniredis.RunT(t)
	rs, closeRedis, err := Open(context.Background(), BackendConfig{Kind: BackendRedis, RedisAddr: mr.Addr(), TTL: time.Hour}, repo)
	if err != nil {
		t.Fatalf("Open redis failed: %v", err)
	}
	defer closeRedis()
	if _, ok := rs.(*RedisStore); !ok {
		t.Fatalf("expected RedisStore, got %T", rs)
	}

	if _, _, err := Open(context.Background(), BackendConfig{Kind: "memcached"}, repo); err == nil {
		t.Fatal("expected error for unknown backend")
	}
}
