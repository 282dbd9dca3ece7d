package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ashureev/intake-portal/internal/domain"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db      *sql.DB
	draftMu sync.Mutex // Serializes draft writes to prevent SQLITE_BUSY
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (Repository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// Open database with WAL mode for better concurrency.
	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS clients (
		email TEXT PRIMARY KEY,
		name TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL,
		last_seen_at INTEGER NOT NULL,
		session_epoch INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS login_codes (
		email TEXT PRIMARY KEY,
		code_hash TEXT NOT NULL,
		attempts INTEGER NOT NULL DEFAULT 0,
		expires_at INTEGER NOT NULL,
		created_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS drafts (
		email TEXT PRIMARY KEY,
		record_json TEXT NOT NULL,
		current_step TEXT NOT NULL,
		furthest_step TEXT NOT NULL,
		status TEXT NOT NULL,
		version INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		submitted_at INTEGER
	);
	CREATE INDEX IF NOT EXISTS idx_drafts_status_updated ON drafts(status, updated_at);

	CREATE TABLE IF NOT EXISTS documents (
		id TEXT PRIMARY KEY,
		owner_email TEXT NOT NULL,
		filename TEXT NOT NULL,
		content_type TEXT NOT NULL,
		size INTEGER NOT NULL,
		sha256 TEXT NOT NULL,
		category TEXT NOT NULL DEFAULT '',
		blob_key TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_documents_owner ON documents(owner_email, created_at);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

// GetClient retrieves a client by email.
func (s *SQLiteStore) GetClient(ctx context.Context, email string) (*domain.Client, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT email, name, created_at, last_seen_at, session_epoch FROM clients WHERE email = ?`, email)

	var client domain.Client
	var createdAt, lastSeen int64
	err := row.Scan(&client.Email, &client.Name, &createdAt, &lastSeen, &client.SessionEpoch)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan client row: %w", err)
	}
	client.CreatedAt = time.Unix(createdAt, 0)
	client.LastSeenAt = time.Unix(lastSeen, 0)
	return &client, nil
}

// UpsertClient creates or updates a client record.
func (s *SQLiteStore) UpsertClient(ctx context.Context, client *domain.Client) error {
	query := `
	INSERT INTO clients (email, name, created_at, last_seen_at)
	VALUES (?, ?, ?, ?)
	ON CONFLICT(email) DO UPDATE SET
		name = CASE WHEN excluded.name = '' THEN clients.name ELSE excluded.name END,
		last_seen_at = excluded.last_seen_at`

	_, err := s.db.ExecContext(ctx, query,
		client.Email, client.Name, client.CreatedAt.Unix(), client.LastSeenAt.Unix())
	if err != nil {
		return fmt.Errorf("upsert client: %w", err)
	}
	return nil
}

// UpdateLastSeen updates the last_seen_at timestamp for a client.
func (s *SQLiteStore) UpdateLastSeen(ctx context.Context, email string, lastSeen time.Time) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE clients SET last_seen_at = ? WHERE email = ?`, lastSeen.Unix(), email)
	if err != nil {
		return fmt.Errorf("update last_seen: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		slog.Warn("UpdateLastSeen affected 0 rows", "email", email)
	}
	return nil
}

// SessionEpoch returns the client's current session epoch.
func (s *SQLiteStore) SessionEpoch(ctx context.Context, email string) (int64, error) {
	var epoch int64
	err := s.db.QueryRowContext(ctx,
		`SELECT session_epoch FROM clients WHERE email = ?`, email).Scan(&epoch)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("query session epoch: %w", err)
	}
	return epoch, nil
}

// BumpSessionEpoch increments the client's session epoch.
func (s *SQLiteStore) BumpSessionEpoch(ctx context.Context, email string) (int64, error) {
	var epoch int64
	err := s.db.QueryRowContext(ctx,
		`UPDATE clients SET session_epoch = session_epoch + 1 WHERE email = ? RETURNING session_epoch`,
		email).Scan(&epoch)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("bump session epoch: %w", err)
	}
	return epoch, nil
}

// SaveLoginCode stores a pending sign-in code, resetting its attempt count.
func (s *SQLiteStore) SaveLoginCode(ctx context.Context, code *domain.LoginCode) error {
	query := `
	INSERT INTO login_codes (email, code_hash, attempts, expires_at, created_at)
	VALUES (?, ?, 0, ?, ?)
	ON CONFLICT(email) DO UPDATE SET
		code_hash = excluded.code_hash,
		attempts = 0,
		expires_at = excluded.expires_at,
		created_at = excluded.created_at`
	_, err := s.db.ExecContext(ctx, query,
		code.Email, code.CodeHash, code.ExpiresAt.Unix(), code.CreatedAt.Unix())
	if err != nil {
		return fmt.Errorf("save login code: %w", err)
	}
	return nil
}

// GetLoginCode retrieves the pending sign-in code for email.
func (s *SQLiteStore) GetLoginCode(ctx context.Context, email string) (*domain.LoginCode, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT email, code_hash, attempts, expires_at, created_at FROM login_codes WHERE email = ?`, email)

	var code domain.LoginCode
	var expiresAt, createdAt int64
	err := row.Scan(&code.Email, &code.CodeHash, &code.Attempts, &expiresAt, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan login code: %w", err)
	}
	code.ExpiresAt = time.Unix(expiresAt, 0)
	code.CreatedAt = time.Unix(createdAt, 0)
	return &code, nil
}

// IncrementLoginAttempts records a failed verification.
func (s *SQLiteStore) IncrementLoginAttempts(ctx context.Context, email string) (int, error) {
	var attempts int
	err := s.db.QueryRowContext(ctx,
		`UPDATE login_codes SET attempts = attempts + 1 WHERE email = ? RETURNING attempts`,
		email).Scan(&attempts)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("increment login attempts: %w", err)
	}
	return attempts, nil
}

// DeleteLoginCode removes the pending sign-in code for email.
func (s *SQLiteStore) DeleteLoginCode(ctx context.Context, email string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM login_codes WHERE email = ?`, email); err != nil {
		return fmt.Errorf("delete login code: %w", err)
	}
	return nil
}

// DeleteExpiredLoginCodes removes codes that expired before now.
func (s *SQLiteStore) DeleteExpiredLoginCodes(ctx context.Context, now time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM login_codes WHERE expires_at < ?`, now.Unix())
	if err != nil {
		return 0, fmt.Errorf("delete expired login codes: %w", err)
	}
	return result.RowsAffected()
}

const draftColumns = `email, record_json, current_step, furthest_step, status,
		       version, created_at, updated_at, submitted_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDraft(row rowScanner) (*domain.Draft, error) {
	var d domain.Draft
	var recordJSON, status string
	var createdAt, updatedAt int64
	var submittedAt sql.NullInt64

	if err := row.Scan(
		&d.Email, &recordJSON, &d.CurrentStep, &d.FurthestStep, &status,
		&d.Version, &createdAt, &updatedAt, &submittedAt,
	); err != nil {
		return nil, err
	}

	d.Record = domain.IntakeRecord{}
	if err := json.Unmarshal([]byte(recordJSON), &d.Record); err != nil {
		return nil, fmt.Errorf("decode record for %s: %w", d.Email, err)
	}
	d.Status = domain.DraftStatus(status)
	d.CreatedAt = time.Unix(createdAt, 0)
	d.UpdatedAt = time.Unix(updatedAt, 0)
	if submittedAt.Valid {
		ts := time.Unix(submittedAt.Int64, 0)
		d.SubmittedAt = &ts
	}
	return &d, nil
}

// GetDraft retrieves the intake draft for an email.
func (s *SQLiteStore) GetDraft(ctx context.Context, email string) (*domain.Draft, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+draftColumns+` FROM drafts WHERE email = ?`, email)
	d, err := scanDraft(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan draft: %w", err)
	}
	return d, nil
}

// UpsertDraft overwrites the stored draft. Last write wins.
func (s *SQLiteStore) UpsertDraft(ctx context.Context, draft *domain.Draft) error {
	s.draftMu.Lock()
	defer s.draftMu.Unlock()

	record := draft.Record
	if record == nil {
		record = domain.IntakeRecord{}
	}
	recordJSON, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}

	status := draft.Status
	if status == "" {
		status = domain.StatusDraft
	}

	var submittedAt interface{}
	if draft.SubmittedAt != nil {
		submittedAt = draft.SubmittedAt.Unix()
	}

	query := `
	INSERT INTO drafts (` + draftColumns + `)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(email) DO UPDATE SET
		record_json = excluded.record_json,
		current_step = excluded.current_step,
		furthest_step = excluded.furthest_step,
		status = excluded.status,
		version = excluded.version,
		updated_at = excluded.updated_at,
		submitted_at = excluded.submitted_at`

	_, err = s.db.ExecContext(ctx, query,
		draft.Email, string(recordJSON), draft.CurrentStep, draft.FurthestStep, string(status),
		draft.Version, draft.CreatedAt.Unix(), draft.UpdatedAt.Unix(), submittedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert draft: %w", err)
	}
	return nil
}

// DeleteDraft removes the draft for an email.
func (s *SQLiteStore) DeleteDraft(ctx context.Context, email string) error {
	s.draftMu.Lock()
	defer s.draftMu.Unlock()

	if _, err := s.db.ExecContext(ctx, `DELETE FROM drafts WHERE email = ?`, email); err != nil {
		return fmt.Errorf("delete draft: %w", err)
	}
	return nil
}

// ListDrafts returns drafts ordered by most recently updated.
func (s *SQLiteStore) ListDrafts(ctx context.Context, status domain.DraftStatus) ([]*domain.Draft, error) {
	query := `SELECT ` + draftColumns + ` FROM drafts`
	var args []interface{}
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, string(status))
	}
	query += ` ORDER BY updated_at DESC, email ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query drafts: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close draft rows", "error", closeErr)
		}
	}()

	var drafts []*domain.Draft
	for rows.Next() {
		d, err := scanDraft(rows)
		if err != nil {
			return nil, fmt.Errorf("scan draft row: %w", err)
		}
		drafts = append(drafts, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate drafts: %w", err)
	}
	return drafts, nil
}

// DeleteStaleDrafts removes incomplete drafts not updated within maxAge.
func (s *SQLiteStore) DeleteStaleDrafts(ctx context.Context, maxAge time.Duration) (int64, error) {
	s.draftMu.Lock()
	defer s.draftMu.Unlock()

	threshold := time.Now().Add(-maxAge).Unix()
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM drafts WHERE status = ? AND updated_at < ?`, string(domain.StatusDraft), threshold)
	if err != nil {
		return 0, fmt.Errorf("delete stale drafts: %w", err)
	}
	return result.RowsAffected()
}

// CreateDocument records metadata for an uploaded document.
func (s *SQLiteStore) CreateDocument(ctx context.Context, doc *domain.Document) error {
	query := `
	INSERT INTO documents (id, owner_email, filename, content_type, size, sha256, category, blob_key, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, query,
		doc.ID, doc.OwnerEmail, doc.Filename, doc.ContentType, doc.Size,
		doc.SHA256, doc.Category, doc.BlobKey, doc.CreatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("insert document: %w", err)
	}
	return nil
}

const documentColumns = `id, owner_email, filename, content_type, size, sha256, category, blob_key, created_at`

func scanDocument(row rowScanner) (*domain.Document, error) {
	var doc domain.Document
	var createdAt int64
	if err := row.Scan(
		&doc.ID, &doc.OwnerEmail, &doc.Filename, &doc.ContentType, &doc.Size,
		&doc.SHA256, &doc.Category, &doc.BlobKey, &createdAt,
	); err != nil {
		return nil, err
	}
	doc.CreatedAt = time.Unix(createdAt, 0)
	return &doc, nil
}

// GetDocument retrieves document metadata by ID.
func (s *SQLiteStore) GetDocument(ctx context.Context, id string) (*domain.Document, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+documentColumns+` FROM documents WHERE id = ?`, id)
	doc, err := scanDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan document: %w", err)
	}
	return doc, nil
}

// ListDocuments returns documents for an owner, newest first.
func (s *SQLiteStore) ListDocuments(ctx context.Context, owner string) ([]*domain.Document, error) {
	query := `SELECT ` + documentColumns + ` FROM documents`
	var args []interface{}
	if owner != "" {
		query += ` WHERE owner_email = ?`
		args = append(args, owner)
	}
	query += ` ORDER BY created_at DESC, id ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query documents: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close document rows", "error", closeErr)
		}
	}()

	var docs []*domain.Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("scan document row: %w", err)
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate documents: %w", err)
	}
	return docs, nil
}

// DeleteDocument removes document metadata by ID.
func (s *SQLiteStore) DeleteDocument(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	return nil
}

// Stats returns aggregate counts for the back-office.
func (s *SQLiteStore) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	query := `
	SELECT
		(SELECT COUNT(*) FROM clients),
		(SELECT COUNT(*) FROM drafts WHERE status = ?),
		(SELECT COUNT(*) FROM drafts WHERE status = ?),
		(SELECT COUNT(*) FROM documents),
		(SELECT COALESCE(SUM(size), 0) FROM documents)`
	err := s.db.QueryRowContext(ctx, query, string(domain.StatusDraft), string(domain.StatusSubmitted)).
		Scan(&st.Clients, &st.OpenDrafts, &st.SubmittedDrafts, &st.Documents, &st.DocumentBytes)
	if err != nil {
		return Stats{}, fmt.Errorf("query stats: %w", err)
	}
	return st, nil
}
