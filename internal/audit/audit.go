// Package audit writes an append-only NDJSON trail of client actions.
package audit

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"
)

// Actions recorded in the audit trail.
const (
	ActionLoginCodeSent  = "login_code_sent"
	ActionLoginFailed    = "login_failed"
	ActionSessionStart   = "session_start"
	ActionSessionEnd     = "session_end"
	ActionDraftSubmit    = "draft_submit"
	ActionDraftAbandon   = "draft_abandon"
	ActionDocumentUpload = "document_upload"
	ActionDocumentDelete = "document_delete"
)

// Event is one audit record.
type Event struct {
	Time    time.Time      `json:"time"`
	Action  string         `json:"action"`
	Email   string         `json:"email,omitempty"`
	IP      string         `json:"ip,omitempty"`
	Subject string         `json:"subject,omitempty"`
	Detail  map[string]any `json:"detail,omitempty"`
}

// Logger records audit events.
type Logger interface {
	Log(ev Event)
	Close() error
}

// Config controls the file logger.
type Config struct {
	Enabled   bool
	Path      string
	QueueSize int
}

// New returns a file-backed logger, or a no-op logger when disabled.
func New(cfg Config, logger *slog.Logger) (Logger, error) {
	if !cfg.Enabled {
		return Nop{}, nil
	}
	return NewFileLogger(cfg, logger)
}

// Nop discards events.
type Nop struct{}

func (Nop) Log(Event)    {}
func (Nop) Close() error { return nil }

// FileLogger appends events to a file from a background goroutine so callers
// never block on disk I/O. Events are dropped when the queue is full.
type FileLogger struct {
	logger *slog.Logger
	file   *os.File
	queue  chan Event

	mu      sync.RWMutex
	closed  bool
	done    chan struct{}
	dropped atomic.Int64
}

// NewFileLogger opens cfg.Path for appending and starts the writer.
func NewFileLogger(cfg Config, logger *slog.Logger) (*FileLogger, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1000
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o750); err != nil {
		return nil, fmt.Errorf("create audit log dir: %w", err)
	}
	f, err := os.OpenFile(cfg.Path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o640)
	if err != nil {
		return nil, fmt.Errorf("open audit log: %w", err)
	}

	l := &FileLogger{
		logger: logger,
		file:   f,
		queue:  make(chan Event, cfg.QueueSize),
		done:   make(chan struct{}),
	}
	go l.run()
	return l, nil
}

// Log queues ev. It never blocks.
func (l *FileLogger) Log(ev Event) {
	if ev.Time.IsZero() {
		ev.Time = time.Now().UTC()
	}

	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		return
	}
	select {
	case l.queue <- ev:
	default:
		l.dropped.Add(1)
		l.logger.Warn("Audit queue full, dropping event", "action", ev.Action, "email", ev.Email)
	}
}

func (l *FileLogger) run() {
	defer close(l.done)
	enc := json.NewEncoder(l.file)
	for ev := range l.queue {
		if err := enc.Encode(ev); err != nil {
			l.logger.Error("Failed to write audit event", "action", ev.Action, "error", err)
		}
	}
}

// Dropped returns how many events were discarded because the queue was full.
func (l *FileLogger) Dropped() int64 { return l.dropped.Load() }

// Close drains queued events and closes the file.
func (l *FileLogger) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	close(l.queue)
	l.mu.Unlock()

	<-l.done
	return errors.Join(l.file.Sync(), l.file.Close())
}
