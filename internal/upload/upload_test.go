package upload

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ashureev/intake-portal/internal/domain"
	"github.com/ashureev/intake-portal/internal/shared"
)

var (
	pdfBytes = []byte("%PDF-1.4\n1 0 obj\n<< /Type /Catalog >>\nendobj\ntrailer\n%%EOF\n")
	pngBytes = append([]byte("\x89PNG\r\n\x1a\n"), bytes.Repeat([]byte{0}, 32)...)
)

type fakeRepo struct {
	mu        sync.Mutex
	docs      map[string]*domain.Document
	createErr error
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{docs: make(map[string]*domain.Document)}
}

func (r *fakeRepo) CreateDocument(_ context.Context, doc *domain.Document) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.createErr != nil {
		return r.createErr
	}
	cp := *doc
	r.docs[doc.ID] = &cp
	return nil
}

func (r *fakeRepo) GetDocument(_ context.Context, id string) (*domain.Document, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	doc, ok := r.docs[id]
	if !ok {
		return nil, nil
	}
	cp := *doc
	return &cp, nil
}

func (r *fakeRepo) ListDocuments(_ context.Context, owner string) ([]*domain.Document, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.Document
	for _, d := range r.docs {
		if owner == "" || d.OwnerEmail == owner {
			cp := *d
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *fakeRepo) DeleteDocument(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.docs, id)
	return nil
}

// flakyBlobs fails the first n Put calls with ErrTransient.
type flakyBlobs struct {
	BlobStore
	failures int
	puts     int
}

func (f *flakyBlobs) Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error {
	f.puts++
	if f.puts <= f.failures {
		return ErrTransient
	}
	return f.BlobStore.Put(ctx, key, r, size, contentType)
}

func newTestService(t *testing.T, blobs BlobStore, repo DocumentRepository) *Service {
	t.Helper()
	if blobs == nil {
		fs, err := NewFSBlobStore(t.TempDir())
		if err != nil {
			t.Fatalf("NewFSBlobStore failed: %v", err)
		}
		blobs = fs
	}
	return NewService(blobs, repo, Options{
		MaxBytes:     1024,
		AllowedTypes: []string{"application/pdf", "image/png", "image/jpeg"},
		Retry:        shared.RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond},
	})
}

func TestUploadStoresDocument(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(t, nil, repo)
	ctx := context.Background()

	doc, err := svc.Upload(ctx, "a@example.com", "../../W2 2025.pdf", "Tax Forms", bytes.NewReader(pdfBytes))
	if err != nil {
		t.Fatalf("Upload failed: %v", err)
	}
	if doc.ID == "" || doc.BlobKey != doc.ID {
		t.Fatalf("unexpected ids: %+v", doc)
	}
	if doc.Filename != "W2 2025.pdf" {
		t.Fatalf("expected directory stripped, got %q", doc.Filename)
	}
	if doc.ContentType != "application/pdf" {
		t.Fatalf("expected application/pdf, got %q", doc.ContentType)
	}
	if doc.Category != "tax_forms" {
		t.Fatalf("expected sanitized category, got %q", doc.Category)
	}
	if doc.Size != int64(len(pdfBytes)) || len(doc.SHA256) != 64 {
		t.Fatalf("unexpected size or digest: %+v", doc)
	}

	gotDoc, rc, err := svc.Open(ctx, "a@example.com", doc.ID)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer func() { _ = rc.Close() }()
	body, _ := io.ReadAll(rc)
	if !bytes.Equal(body, pdfBytes) || gotDoc.ID != doc.ID {
		t.Fatal("stored content does not match upload")
	}
}

func TestUploadRejections(t *testing.T) {
	tests := []struct {
		name     string
		filename string
		data     []byte
		want     error
	}{
		{"empty", "a.pdf", nil, ErrEmptyFile},
		{"too large", "a.pdf", append(append([]byte{}, pdfBytes...), bytes.Repeat([]byte("x"), 2048)...), ErrTooLarge},
		{"unsupported", "notes.txt", []byte("plain text notes"), ErrUnsupportedType},
		{"extension mismatch", "scan.pdf", pngBytes, ErrExtensionMismatch},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := newFakeRepo()
			svc := newTestService(t, nil, repo)
			_, err := svc.Upload(context.Background(), "a@example.com", tt.filename, "", bytes.NewReader(tt.data))
			if !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
			if len(repo.docs) != 0 {
				t.Fatal("rejected upload must not be recorded")
			}
		})
	}
}

func TestUploadFillsMissingExtension(t *testing.T) {
	svc := newTestService(t, nil, newFakeRepo())
	doc, err := svc.Upload(context.Background(), "a@example.com", "receipt", "", bytes.NewReader(pngBytes))
	if err != nil {
		t.Fatalf("Upload failed: %v", err)
	}
	if doc.Filename != "receipt.png" {
		t.Fatalf("expected receipt.png, got %q", doc.Filename)
	}
}

func TestUploadRetriesTransientFailures(t *testing.T) {
	fs, err := NewFSBlobStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFSBlobStore failed: %v", err)
	}
	blobs := &flakyBlobs{BlobStore: fs, failures: 2}
	svc := newTestService(t, blobs, newFakeRepo())

	if _, err := svc.Upload(context.Background(), "a@example.com", "a.pdf", "", bytes.NewReader(pdfBytes)); err != nil {
		t.Fatalf("Upload failed: %v", err)
	}
	if blobs.puts != 3 {
		t.Fatalf("expected 3 put attempts, got %d", blobs.puts)
	}
}

func TestUploadGivesUpAfterRetries(t *testing.T) {
	fs, _ := NewFSBlobStore(t.TempDir())
	blobs := &flakyBlobs{BlobStore: fs, failures: 10}
	repo := newFakeRepo()
	svc := newTestService(t, blobs, repo)

	_, err := svc.Upload(context.Background(), "a@example.com", "a.pdf", "", bytes.NewReader(pdfBytes))
	if !errors.Is(err, ErrTransient) {
		t.Fatalf("expected transient error, got %v", err)
	}
	if len(repo.docs) != 0 {
		t.Fatal("failed upload must not be recorded")
	}
}

func TestUploadRemovesBlobWhenMetadataFails(t *testing.T) {
	fs, _ := NewFSBlobStore(t.TempDir())
	repo := newFakeRepo()
	repo.createErr = errors.New("disk full")
	svc := newTestService(t, fs, repo)

	_, err := svc.Upload(context.Background(), "a@example.com", "a.pdf", "", bytes.NewReader(pdfBytes))
	if err == nil || !strings.Contains(err.Error(), "disk full") {
		t.Fatalf("expected metadata error, got %v", err)
	}
}

func TestOpenAndDeleteEnforceOwnership(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(t, nil, repo)
	ctx := context.Background()

	doc, err := svc.Upload(ctx, "a@example.com", "a.pdf", "", bytes.NewReader(pdfBytes))
	if err != nil {
		t.Fatalf("Upload failed: %v", err)
	}
	if _, _, err := svc.Open(ctx, "b@example.com", doc.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for other owner, got %v", err)
	}
	if err := svc.Delete(ctx, "b@example.com", doc.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound deleting other owner's doc, got %v", err)
	}
	if err := svc.Delete(ctx, "a@example.com", doc.ID); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, _, err := svc.Open(ctx, "a@example.com", doc.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestFSBlobStoreRejectsTraversalKeys(t *testing.T) {
	fs, _ := NewFSBlobStore(t.TempDir())
	if err := fs.Put(context.Background(), "../../etc", bytes.NewReader(nil), 0, ""); err == nil {
		t.Fatal("expected invalid key error")
	}
	if _, err := fs.Get(context.Background(), "abcd-missing"); !errors.Is(err, ErrBlobNotFound) {
		t.Fatalf("expected ErrBlobNotFound, got %v", err)
	}
}
