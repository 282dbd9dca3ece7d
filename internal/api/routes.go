package api

import (
	"context"
	"net/http"
	"time"

	"github.com/ashureev/intake-portal/internal/identity"
	"github.com/go-chi/chi/v5"
)

// RegisterRoutes registers the client and back-office API routes. Admin
// routes are guarded by adminToken and hidden when it is empty.
func (h *Handler) RegisterRoutes(r chi.Router, adminToken string) {
	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.Health)
		r.Post("/session/code", h.RequestLoginCode)
		r.Post("/session", h.StartSession)

		r.Group(func(r chi.Router) {
			r.Use(identity.RequireClient)

			r.Get("/session", h.GetSession)
			r.Delete("/session", h.EndSession)

			r.Route("/intake", func(r chi.Router) {
				r.Get("/steps", h.ListSteps)
				r.Get("/", h.GetIntake)
				r.Patch("/", h.PatchIntake)
				r.Delete("/", h.AbandonIntake)
				r.Post("/next", h.NextStep)
				r.Post("/back", h.PrevStep)
				r.Post("/goto/{step}", h.GoToStep)
				r.Post("/submit", h.SubmitIntake)
			})

			r.Route("/documents", func(r chi.Router) {
				r.Post("/", h.UploadDocument)
				r.Get("/", h.ListDocuments)
				r.Get("/{id}", h.DownloadDocument)
				r.Delete("/{id}", h.DeleteDocument)
			})
		})

		r.Route("/admin", func(r chi.Router) {
			r.Use(identity.RequireAdmin(adminToken))
			r.Get("/drafts", h.AdminListDrafts)
			r.Get("/drafts/{email}", h.AdminGetDraft)
			r.Get("/documents", h.AdminListDocuments)
			r.Get("/stats", h.AdminStats)
		})
	})
}

// Health reports whether the repository is reachable.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := h.repo.Ping(ctx); err != nil {
		JSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	JSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
