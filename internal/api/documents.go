package api

import (
	"errors"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strconv"

	"github.com/ashureev/intake-portal/internal/audit"
	"github.com/ashureev/intake-portal/internal/identity"
	"github.com/ashureev/intake-portal/internal/upload"
	"github.com/go-chi/chi/v5"
)

// multipartOverhead allows for form boundaries and the category field on
// top of the file size limit.
const multipartOverhead = 1 << 20

// UploadDocument accepts a multipart upload with a "file" part and an
// optional "category" field.
func (h *Handler) UploadDocument(w http.ResponseWriter, r *http.Request) {
	email := identity.EmailFromContext(r.Context())
	r.Body = http.MaxBytesReader(w, r.Body, h.uploads.MaxBytes()+multipartOverhead)

	if err := r.ParseMultipartForm(8 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			Error(w, http.StatusRequestEntityTooLarge, upload.ErrTooLarge.Error())
			return
		}
		Error(w, http.StatusBadRequest, "invalid multipart form")
		return
	}
	defer func() {
		if r.MultipartForm != nil {
			_ = r.MultipartForm.RemoveAll()
		}
	}()

	file, header, err := r.FormFile("file")
	if err != nil {
		Error(w, http.StatusBadRequest, "missing file")
		return
	}
	defer func() { _ = file.Close() }()

	doc, err := h.uploads.Upload(r.Context(), email, header.Filename, r.FormValue("category"), file)
	if err != nil {
		writeUploadError(w, err)
		return
	}

	h.audit.Log(audit.Event{
		Action:  audit.ActionDocumentUpload,
		Email:   email,
		IP:      identity.IPFromRequest(r),
		Subject: doc.ID,
		Detail: map[string]any{
			"filename":     doc.Filename,
			"content_type": doc.ContentType,
			"size":         doc.Size,
			"sha256":       doc.SHA256,
		},
	})
	JSON(w, http.StatusCreated, doc)
}

// ListDocuments returns the client's documents.
func (h *Handler) ListDocuments(w http.ResponseWriter, r *http.Request) {
	docs, err := h.uploads.List(r.Context(), identity.EmailFromContext(r.Context()))
	if err != nil {
		slog.Error("Failed to list documents", "error", err)
		Error(w, http.StatusInternalServerError, "failed to list documents")
		return
	}
	JSON(w, http.StatusOK, map[string]any{"documents": docs})
}

// DownloadDocument streams a document back to its owner.
func (h *Handler) DownloadDocument(w http.ResponseWriter, r *http.Request) {
	email := identity.EmailFromContext(r.Context())
	doc, rc, err := h.uploads.Open(r.Context(), email, chi.URLParam(r, "id"))
	if err != nil {
		writeUploadError(w, err)
		return
	}
	defer func() { _ = rc.Close() }()

	w.Header().Set("Content-Type", doc.ContentType)
	w.Header().Set("Content-Length", strconv.FormatInt(doc.Size, 10))
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": doc.Filename}))
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, rc); err != nil {
		slog.Debug("Document download interrupted", "document_id", doc.ID, "error", err)
	}
}

// DeleteDocument removes one of the client's documents.
func (h *Handler) DeleteDocument(w http.ResponseWriter, r *http.Request) {
	email := identity.EmailFromContext(r.Context())
	id := chi.URLParam(r, "id")
	if err := h.uploads.Delete(r.Context(), email, id); err != nil {
		writeUploadError(w, err)
		return
	}
	h.audit.Log(audit.Event{Action: audit.ActionDocumentDelete, Email: email, IP: identity.IPFromRequest(r), Subject: id})
	w.WriteHeader(http.StatusNoContent)
}

func writeUploadError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, upload.ErrEmptyFile):
		Error(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, upload.ErrTooLarge):
		Error(w, http.StatusRequestEntityTooLarge, err.Error())
	case errors.Is(err, upload.ErrUnsupportedType), errors.Is(err, upload.ErrExtensionMismatch):
		Error(w, http.StatusUnsupportedMediaType, err.Error())
	case errors.Is(err, upload.ErrNotFound):
		Error(w, http.StatusNotFound, err.Error())
	case errors.Is(err, upload.ErrTransient):
		Error(w, http.StatusServiceUnavailable, "document storage temporarily unavailable")
	default:
		slog.Error("Document operation failed", "error", err)
		Error(w, http.StatusInternalServerError, "internal error")
	}
}
