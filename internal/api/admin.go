package api

import (
	"log/slog"
	"net/http"

	"github.com/ashureev/intake-portal/internal/domain"
	"github.com/go-chi/chi/v5"
)

type adminStats struct {
	Clients         int64 `json:"clients"`
	OpenDrafts      int64 `json:"open_drafts"`
	SubmittedDrafts int64 `json:"submitted_drafts"`
	Documents       int64 `json:"documents"`
	DocumentBytes   int64 `json:"document_bytes"`
	OpenSessions    int   `json:"open_sessions"`
}

// AdminListDrafts lists drafts, optionally filtered by ?status=.
func (h *Handler) AdminListDrafts(w http.ResponseWriter, r *http.Request) {
	status := domain.DraftStatus(r.URL.Query().Get("status"))
	if status != "" && status != domain.StatusDraft && status != domain.StatusSubmitted {
		Error(w, http.StatusBadRequest, "invalid status filter")
		return
	}
	drafts, err := h.drafts.List(r.Context(), status)
	if err != nil {
		slog.Error("Failed to list drafts", "error", err)
		Error(w, http.StatusInternalServerError, "failed to list drafts")
		return
	}
	JSON(w, http.StatusOK, map[string]any{"drafts": drafts})
}

// AdminGetDraft returns the stored draft for an email.
func (h *Handler) AdminGetDraft(w http.ResponseWriter, r *http.Request) {
	email, err := domain.NormalizeEmail(chi.URLParam(r, "email"))
	if err != nil {
		Error(w, http.StatusBadRequest, err.Error())
		return
	}
	d, err := h.drafts.Load(r.Context(), email)
	if err != nil {
		slog.Error("Failed to load draft", "email", email, "error", err)
		Error(w, http.StatusInternalServerError, "failed to load draft")
		return
	}
	if d == nil {
		Error(w, http.StatusNotFound, "draft not found")
		return
	}
	JSON(w, http.StatusOK, d)
}

// AdminListDocuments lists document metadata, optionally for one ?owner=.
func (h *Handler) AdminListDocuments(w http.ResponseWriter, r *http.Request) {
	docs, err := h.repo.ListDocuments(r.Context(), r.URL.Query().Get("owner"))
	if err != nil {
		slog.Error("Failed to list documents", "error", err)
		Error(w, http.StatusInternalServerError, "failed to list documents")
		return
	}
	JSON(w, http.StatusOK, map[string]any{"documents": docs})
}

// AdminStats returns aggregate counts. Draft counts come from the draft
// store so they reflect the configured backend.
func (h *Handler) AdminStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	st, err := h.repo.Stats(ctx)
	if err != nil {
		slog.Error("Failed to compute stats", "error", err)
		Error(w, http.StatusInternalServerError, "failed to compute stats")
		return
	}
	drafts, err := h.drafts.List(ctx, "")
	if err != nil {
		slog.Error("Failed to list drafts", "error", err)
		Error(w, http.StatusInternalServerError, "failed to compute stats")
		return
	}

	out := adminStats{
		Clients:       st.Clients,
		Documents:     st.Documents,
		DocumentBytes: st.DocumentBytes,
		OpenSessions:  h.wizards.OpenSessions(),
	}
	for _, d := range drafts {
		if d.IsDraft() {
			out.OpenDrafts++
		} else {
			out.SubmittedDrafts++
		}
	}
	JSON(w, http.StatusOK, out)
}
