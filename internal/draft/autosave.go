package draft

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ashureev/intake-portal/internal/domain"
	"github.com/ashureev/intake-portal/internal/metrics"
	"github.com/ashureev/intake-portal/internal/wizard"
	"golang.org/x/sync/errgroup"
)

// Save triggers, used for logging and metrics.
const (
	TriggerTimer    = "timer"
	TriggerStep     = "step"
	TriggerSubmit   = "submit"
	TriggerEvict    = "evict"
	TriggerShutdown = "shutdown"
	TriggerLogout   = "logout"
)

const (
	defaultAutosaveInterval = 30 * time.Second
	defaultIdleEvict        = 30 * time.Minute
	defaultSaveConcurrency  = 8
)

// ErrClosed is returned once the autosaver has been closed.
var ErrClosed = errors.New("autosaver closed")

// Observer is notified after a draft is persisted.
type Observer interface {
	DraftSaved(email string, d *domain.Draft)
}

// Options configures an Autosaver.
type Options struct {
	Interval    time.Duration
	IdleEvict   time.Duration
	Concurrency int
	Observer    Observer
}

type session struct {
	wiz        *wizard.Wizard
	lastAccess time.Time
	inUse      int

	saveMu    sync.Mutex
	abandoned bool
}

// Autosaver holds open wizard sessions keyed by email and persists them to
// a Store on a timer, on demand (step transitions) and on shutdown.
type Autosaver struct {
	store   Store
	catalog *wizard.Catalog
	opts    Options

	mu       sync.Mutex
	sessions map[string]*session
	closed   bool
	running  bool
	abandons uint64

	stop      chan struct{}
	done      chan struct{}
	startOnce sync.Once
	stopOnce  sync.Once
}

// NewAutosaver creates an autosaver over store. Call Start to begin the
// timer loop and Close to flush and stop.
func NewAutosaver(store Store, catalog *wizard.Catalog, opts Options) *Autosaver {
	if opts.Interval <= 0 {
		opts.Interval = defaultAutosaveInterval
	}
	if opts.IdleEvict <= 0 {
		opts.IdleEvict = defaultIdleEvict
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = defaultSaveConcurrency
	}
	return &Autosaver{
		store:    store,
		catalog:  catalog,
		opts:     opts,
		sessions: make(map[string]*session),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Catalog returns the step catalog sessions are opened against.
func (a *Autosaver) Catalog() *wizard.Catalog { return a.catalog }

// Start launches the background save loop. It stops when ctx is done or
// Close is called.
func (a *Autosaver) Start(ctx context.Context) {
	a.startOnce.Do(func() {
		a.mu.Lock()
		a.running = true
		a.mu.Unlock()
		go a.loop(ctx)
	})
}

func (a *Autosaver) loop(ctx context.Context) {
	defer close(a.done)
	ticker := time.NewTicker(a.opts.Interval)
	defer ticker.Stop()
	slog.Info("Autosaver started", "interval", a.opts.Interval, "idle_evict", a.opts.IdleEvict)

	for {
		select {
		case <-ticker.C:
			a.sweep(ctx)
		case <-a.stop:
			return
		case <-ctx.Done():
			slog.Info("Autosaver shutting down", "reason", ctx.Err())
			return
		}
	}
}

// With runs fn against the wizard for email, loading or creating the draft
// on first use. The session is pinned in memory while fn runs.
func (a *Autosaver) With(ctx context.Context, email string, fn func(*wizard.Wizard) error) error {
	s, err := a.acquire(ctx, email)
	if err != nil {
		return err
	}
	defer a.release(s)
	return fn(s.wiz)
}

// State returns the current wizard state for email.
func (a *Autosaver) State(ctx context.Context, email string) (wizard.State, error) {
	var st wizard.State
	err := a.With(ctx, email, func(w *wizard.Wizard) error {
		st = w.State()
		return nil
	})
	return st, err
}

func (a *Autosaver) acquire(ctx context.Context, email string) (*session, error) {
	for {
		a.mu.Lock()
		if a.closed {
			a.mu.Unlock()
			return nil, ErrClosed
		}
		if s, ok := a.sessions[email]; ok {
			s.inUse++
			s.lastAccess = time.Now()
			a.mu.Unlock()
			return s, nil
		}
		abandons := a.abandons
		a.mu.Unlock()

		d, err := a.store.Load(ctx, email)
		if err != nil {
			return nil, fmt.Errorf("load draft: %w", err)
		}
		var wiz *wizard.Wizard
		if d != nil {
			wiz = wizard.Restore(a.catalog, d)
		} else {
			wiz = wizard.New(a.catalog, email)
		}

		a.mu.Lock()
		if a.closed {
			a.mu.Unlock()
			return nil, ErrClosed
		}
		// An abandon that started during the load may have deleted what we read.
		if a.abandons != abandons {
			a.mu.Unlock()
			continue
		}
		s, ok := a.sessions[email]
		if !ok {
			s = &session{wiz: wiz}
			a.sessions[email] = s
			metrics.SetOpenSessions(len(a.sessions))
			slog.Debug("Wizard session opened", "email", email, "restored", d != nil)
		}
		s.inUse++
		s.lastAccess = time.Now()
		a.mu.Unlock()
		return s, nil
	}
}

func (a *Autosaver) release(s *session) {
	a.mu.Lock()
	defer a.mu.Unlock()
	s.inUse--
	s.lastAccess = time.Now()
}

// Flush persists the session for email if it has unsaved changes.
func (a *Autosaver) Flush(ctx context.Context, email, trigger string) error {
	a.mu.Lock()
	s, ok := a.sessions[email]
	a.mu.Unlock()
	if !ok {
		return nil
	}
	return a.save(ctx, email, s, trigger)
}

// FlushAll persists every dirty session with bounded concurrency and
// returns the first error encountered.
func (a *Autosaver) FlushAll(ctx context.Context, trigger string) error {
	a.mu.Lock()
	pending := make(map[string]*session, len(a.sessions))
	for email, s := range a.sessions {
		pending[email] = s
	}
	a.mu.Unlock()

	var g errgroup.Group
	g.SetLimit(a.opts.Concurrency)
	for email, s := range pending {
		email, s := email, s
		g.Go(func() error {
			return a.save(ctx, email, s, trigger)
		})
	}
	return g.Wait()
}

func (a *Autosaver) save(ctx context.Context, email string, s *session, trigger string) error {
	s.saveMu.Lock()
	defer s.saveMu.Unlock()
	if s.abandoned || !s.wiz.Dirty() {
		return nil
	}

	d := s.wiz.Snapshot()
	err := a.store.Save(ctx, d)
	metrics.RecordDraftSave(trigger, err)
	if err != nil {
		slog.Error("Failed to save draft", "email", email, "trigger", trigger, "error", err)
		return fmt.Errorf("save draft for %s: %w", email, err)
	}
	s.wiz.MarkSaved(d.Version, d.UpdatedAt)
	slog.Debug("Draft saved", "email", email, "trigger", trigger, "version", d.Version, "step", d.CurrentStep)

	if a.opts.Observer != nil {
		a.opts.Observer.DraftSaved(email, d)
	}
	return nil
}

// sweep saves dirty sessions and evicts idle ones.
func (a *Autosaver) sweep(ctx context.Context) {
	if err := a.FlushAll(ctx, TriggerTimer); err != nil {
		slog.Warn("Autosave sweep incomplete", "error", err)
	}

	cutoff := time.Now().Add(-a.opts.IdleEvict)
	a.mu.Lock()
	var idle []string
	for email, s := range a.sessions {
		if s.inUse == 0 && s.lastAccess.Before(cutoff) {
			idle = append(idle, email)
		}
	}
	a.mu.Unlock()

	for _, email := range idle {
		a.evict(ctx, email, cutoff)
	}
}

func (a *Autosaver) evict(ctx context.Context, email string, cutoff time.Time) {
	a.mu.Lock()
	s, ok := a.sessions[email]
	a.mu.Unlock()
	if !ok {
		return
	}
	if err := a.save(ctx, email, s, TriggerEvict); err != nil {
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if cur, ok := a.sessions[email]; ok && cur == s && s.inUse == 0 && s.lastAccess.Before(cutoff) && !s.wiz.Dirty() {
		delete(a.sessions, email)
		metrics.SetOpenSessions(len(a.sessions))
		slog.Debug("Idle wizard session evicted", "email", email)
	}
}

// Abandon discards the session and deletes the stored draft. Until the
// delete completes the email maps to an abandoned session, so concurrent
// requests see a blank wizard whose edits are never saved.
func (a *Autosaver) Abandon(ctx context.Context, email string) error {
	s := &session{wiz: wizard.New(a.catalog, email), abandoned: true}
	a.mu.Lock()
	prev, ok := a.sessions[email]
	a.sessions[email] = s
	a.abandons++
	a.mu.Unlock()

	if ok {
		prev.saveMu.Lock()
		prev.abandoned = true
		prev.saveMu.Unlock()
	}

	err := a.store.Delete(ctx, email)

	a.mu.Lock()
	if cur, ok := a.sessions[email]; ok && cur == s {
		delete(a.sessions, email)
	}
	metrics.SetOpenSessions(len(a.sessions))
	a.mu.Unlock()

	if err != nil {
		return fmt.Errorf("delete draft: %w", err)
	}
	slog.Info("Draft abandoned", "email", email)
	return nil
}

// OpenSessions returns how many sessions are held in memory.
func (a *Autosaver) OpenSessions() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.sessions)
}

// Close stops the save loop and flushes every session. Further calls to
// With return ErrClosed.
func (a *Autosaver) Close(ctx context.Context) error {
	a.stopOnce.Do(func() {
		a.mu.Lock()
		a.closed = true
		a.mu.Unlock()
		close(a.stop)
	})

	a.mu.Lock()
	running := a.running
	a.mu.Unlock()
	if running {
		<-a.done
	}

	return a.FlushAll(ctx, TriggerShutdown)
}
