// Package api provides HTTP handlers for the intake portal API.
package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/ashureev/intake-portal/internal/audit"
	"github.com/ashureev/intake-portal/internal/draft"
	"github.com/ashureev/intake-portal/internal/identity"
	"github.com/ashureev/intake-portal/internal/notify"
	"github.com/ashureev/intake-portal/internal/store"
	"github.com/ashureev/intake-portal/internal/upload"
	"github.com/ashureev/intake-portal/internal/wizard"
)

const maxJSONBody = 1 << 20

// Deps are the collaborators shared by every handler.
type Deps struct {
	Repo    store.Repository
	Drafts  draft.Store
	Wizards *draft.Autosaver
	Uploads *upload.Service
	Issuer  *identity.Issuer
	Codes   *identity.Codes
	Hub     *notify.Hub
	Audit   audit.Logger
}

// Handler provides common handler utilities.
type Handler struct {
	repo    store.Repository
	drafts  draft.Store
	wizards *draft.Autosaver
	uploads *upload.Service
	issuer  *identity.Issuer
	codes   *identity.Codes
	hub     *notify.Hub
	audit   audit.Logger
}

// NewHandler creates a new Handler with common dependencies.
func NewHandler(d Deps) *Handler {
	if d.Audit == nil {
		d.Audit = audit.Nop{}
	}
	if d.Hub == nil {
		d.Hub = notify.NewHub()
	}
	return &Handler{
		repo:    d.Repo,
		drafts:  d.Drafts,
		wizards: d.Wizards,
		uploads: d.Uploads,
		issuer:  d.Issuer,
		codes:   d.Codes,
		hub:     d.Hub,
		audit:   d.Audit,
	}
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("Failed to encode response", "error", err)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxJSONBody))
	return dec.Decode(v)
}

// writeWizardError maps wizard and autosaver errors onto HTTP responses.
func writeWizardError(w http.ResponseWriter, err error) {
	var verr *wizard.ValidationError
	var ferr *wizard.FieldError
	switch {
	case errors.As(err, &verr):
		JSON(w, http.StatusUnprocessableEntity, map[string]any{
			"error":  "validation_failed",
			"step":   verr.Step,
			"fields": verr.Fields,
		})
	case errors.As(err, &ferr):
		JSON(w, http.StatusUnprocessableEntity, map[string]any{
			"error":  "validation_failed",
			"step":   ferr.Step,
			"fields": []wizard.FieldError{*ferr},
		})
	case errors.Is(err, wizard.ErrUnknownField):
		Error(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, wizard.ErrUnknownStep):
		Error(w, http.StatusNotFound, err.Error())
	case errors.Is(err, wizard.ErrSubmitted),
		errors.Is(err, wizard.ErrLastStep),
		errors.Is(err, wizard.ErrFirstStep),
		errors.Is(err, wizard.ErrStepLocked):
		Error(w, http.StatusConflict, err.Error())
	case errors.Is(err, draft.ErrClosed):
		Error(w, http.StatusServiceUnavailable, "server shutting down")
	default:
		slog.Error("Intake operation failed", "error", err)
		Error(w, http.StatusInternalServerError, "internal error")
	}
}
