// Package upload validates client documents and forwards them to a blob
// store, recording their metadata.
package upload

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"
	"strings"
	"time"
	"unicode"

	"github.com/ashureev/intake-portal/internal/domain"
	"github.com/ashureev/intake-portal/internal/metrics"
	"github.com/ashureev/intake-portal/internal/shared"
	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
)

var (
	ErrEmptyFile         = errors.New("file is empty")
	ErrTooLarge          = errors.New("file exceeds size limit")
	ErrUnsupportedType   = errors.New("file type not allowed")
	ErrExtensionMismatch = errors.New("file extension does not match content")
	ErrNotFound          = errors.New("document not found")
)

const maxFilenameLen = 200

// extensionAliases lists extensions accepted for types with more than one
// common spelling.
var extensionAliases = map[string][]string{
	"image/jpeg": {".jpg", ".jpeg", ".jpe"},
	"image/heic": {".heic", ".heif"},
	"image/tiff": {".tif", ".tiff"},
}

// DocumentRepository is the metadata store the service records uploads in.
type DocumentRepository interface {
	CreateDocument(ctx context.Context, doc *domain.Document) error
	GetDocument(ctx context.Context, id string) (*domain.Document, error)
	ListDocuments(ctx context.Context, owner string) ([]*domain.Document, error)
	DeleteDocument(ctx context.Context, id string) error
}

// Options configures validation and retry behaviour.
type Options struct {
	MaxBytes     int64
	AllowedTypes []string
	Retry        shared.RetryPolicy
}

// Service is the document upload adapter.
type Service struct {
	blobs BlobStore
	repo  DocumentRepository
	opts  Options
}

// NewService creates an upload service.
func NewService(blobs BlobStore, repo DocumentRepository, opts Options) *Service {
	if opts.Retry.MaxAttempts <= 0 {
		opts.Retry = shared.RetryPolicy{MaxAttempts: 3, BaseDelay: 200 * time.Millisecond}
	}
	return &Service{blobs: blobs, repo: repo, opts: opts}
}

// MaxBytes returns the configured upload size limit.
func (s *Service) MaxBytes() int64 { return s.opts.MaxBytes }

// Upload validates r and stores it for owner. It returns the recorded
// document whose ID is the opaque handle for later retrieval.
func (s *Service) Upload(ctx context.Context, owner, filename, category string, r io.Reader) (*domain.Document, error) {
	doc, err := s.upload(ctx, owner, filename, category, r)
	switch {
	case err == nil:
		metrics.RecordUpload("ok", doc.Size)
	case errors.Is(err, ErrEmptyFile), errors.Is(err, ErrTooLarge),
		errors.Is(err, ErrUnsupportedType), errors.Is(err, ErrExtensionMismatch):
		metrics.RecordUpload("rejected", 0)
	default:
		metrics.RecordUpload("error", 0)
	}
	return doc, err
}

func (s *Service) upload(ctx context.Context, owner, filename, category string, r io.Reader) (*domain.Document, error) {
	data, err := io.ReadAll(io.LimitReader(r, s.opts.MaxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read upload: %w", err)
	}
	if len(data) == 0 {
		return nil, ErrEmptyFile
	}
	if int64(len(data)) > s.opts.MaxBytes {
		return nil, fmt.Errorf("%w: max %d bytes", ErrTooLarge, s.opts.MaxBytes)
	}

	mtype := mimetype.Detect(data)
	contentType, ok := s.allowed(mtype)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedType, mtype.String())
	}

	name, err := normalizeFilename(filename, contentType, mtype.Extension())
	if err != nil {
		return nil, err
	}

	sum := sha256.Sum256(data)
	doc := &domain.Document{
		ID:          uuid.NewString(),
		OwnerEmail:  owner,
		Filename:    name,
		ContentType: contentType,
		Size:        int64(len(data)),
		SHA256:      hex.EncodeToString(sum[:]),
		Category:    sanitizeCategory(category),
		CreatedAt:   time.Now(),
	}
	doc.BlobKey = doc.ID

	err = shared.Retry(ctx, s.opts.Retry, isTransient, "put blob", func(ctx context.Context) error {
		return s.blobs.Put(ctx, doc.BlobKey, bytes.NewReader(data), doc.Size, doc.ContentType)
	})
	if err != nil {
		return nil, fmt.Errorf("store blob: %w", err)
	}

	if err := s.repo.CreateDocument(ctx, doc); err != nil {
		if delErr := s.blobs.Delete(context.WithoutCancel(ctx), doc.BlobKey); delErr != nil {
			slog.Warn("Failed to remove orphaned blob", "blob_key", doc.BlobKey, "error", delErr)
		}
		return nil, fmt.Errorf("record document: %w", err)
	}

	slog.Info("Document uploaded",
		"document_id", doc.ID,
		"owner", owner,
		"content_type", doc.ContentType,
		"size", doc.Size)
	return doc, nil
}

// allowed walks the detected type and its parents looking for an entry in
// the allow-list and returns the matching allow-list entry.
func (s *Service) allowed(mtype *mimetype.MIME) (string, bool) {
	for m := mtype; m != nil; m = m.Parent() {
		for _, allowed := range s.opts.AllowedTypes {
			if m.Is(allowed) {
				return allowed, true
			}
		}
	}
	return "", false
}

func isTransient(err error) bool {
	return errors.Is(err, ErrTransient)
}

// normalizeFilename strips directories and control characters and checks
// the extension agrees with the sniffed content. A missing extension is
// filled in from the content type.
func normalizeFilename(raw, contentType, detectedExt string) (string, error) {
	name := path.Base(strings.ReplaceAll(raw, `\`, "/"))
	name = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, name)
	name = strings.TrimSpace(name)
	if name == "" || name == "." || name == "/" || name == ".." {
		name = "document"
	}
	if len(name) > maxFilenameLen {
		ext := path.Ext(name)
		name = name[:maxFilenameLen-len(ext)] + ext
	}

	ext := strings.ToLower(path.Ext(name))
	if ext == "" {
		return name + detectedExt, nil
	}
	if ext == detectedExt {
		return name, nil
	}
	for _, alias := range extensionAliases[contentType] {
		if ext == alias {
			return name, nil
		}
	}
	return "", fmt.Errorf("%w: %s is not %s", ErrExtensionMismatch, ext, contentType)
}

func sanitizeCategory(raw string) string {
	c := strings.ToLower(strings.TrimSpace(raw))
	var b strings.Builder
	for _, r := range c {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		case r == ' ':
			b.WriteRune('_')
		}
	}
	out := b.String()
	if len(out) > 64 {
		out = out[:64]
	}
	return out
}

// Open returns the document's metadata and content. Documents owned by
// someone else are reported as not found.
func (s *Service) Open(ctx context.Context, owner, id string) (*domain.Document, io.ReadCloser, error) {
	doc, err := s.lookup(ctx, owner, id)
	if err != nil {
		return nil, nil, err
	}
	rc, err := s.blobs.Get(ctx, doc.BlobKey)
	if errors.Is(err, ErrBlobNotFound) {
		return nil, nil, ErrNotFound
	}
	if err != nil {
		return nil, nil, fmt.Errorf("open blob: %w", err)
	}
	return doc, rc, nil
}

// List returns an owner's documents, newest first.
func (s *Service) List(ctx context.Context, owner string) ([]*domain.Document, error) {
	return s.repo.ListDocuments(ctx, owner)
}

// Delete removes an owner's document and its blob.
func (s *Service) Delete(ctx context.Context, owner, id string) error {
	doc, err := s.lookup(ctx, owner, id)
	if err != nil {
		return err
	}
	if err := s.repo.DeleteDocument(ctx, doc.ID); err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	if err := s.blobs.Delete(ctx, doc.BlobKey); err != nil {
		slog.Warn("Failed to delete blob", "document_id", doc.ID, "blob_key", doc.BlobKey, "error", err)
	}
	slog.Info("Document deleted", "document_id", doc.ID, "owner", owner)
	return nil
}

func (s *Service) lookup(ctx context.Context, owner, id string) (*domain.Document, error) {
	doc, err := s.repo.GetDocument(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get document: %w", err)
	}
	if doc == nil || doc.OwnerEmail != owner {
		return nil, ErrNotFound
	}
	return doc, nil
}
