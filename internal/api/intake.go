package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/ashureev/intake-portal/internal/audit"
	"github.com/ashureev/intake-portal/internal/draft"
	"github.com/ashureev/intake-portal/internal/identity"
	"github.com/ashureev/intake-portal/internal/wizard"
	"github.com/go-chi/chi/v5"
)

type patchIntakeRequest struct {
	Values map[string]any `json:"values"`
}

// ListSteps returns the step catalog.
func (h *Handler) ListSteps(w http.ResponseWriter, r *http.Request) {
	JSON(w, http.StatusOK, map[string]any{"steps": h.wizards.Catalog().Steps()})
}

// GetIntake returns the client's wizard state, resuming a saved draft when
// one exists.
func (h *Handler) GetIntake(w http.ResponseWriter, r *http.Request) {
	st, err := h.wizards.State(r.Context(), identity.EmailFromContext(r.Context()))
	if err != nil {
		writeWizardError(w, err)
		return
	}
	JSON(w, http.StatusOK, st)
}

// PatchIntake merges field values into the record. Changes are persisted by
// the autosave timer or the next step transition.
func (h *Handler) PatchIntake(w http.ResponseWriter, r *http.Request) {
	var req patchIntakeRequest
	if err := decodeJSON(r, &req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	h.transition(w, r, "", func(wz *wizard.Wizard) error {
		return wz.Merge(req.Values)
	})
}

// NextStep validates the current step and advances.
func (h *Handler) NextStep(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, draft.TriggerStep, (*wizard.Wizard).Next)
}

// PrevStep moves back one step.
func (h *Handler) PrevStep(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, draft.TriggerStep, (*wizard.Wizard).Back)
}

// GoToStep jumps to an already reached step.
func (h *Handler) GoToStep(w http.ResponseWriter, r *http.Request) {
	step := chi.URLParam(r, "step")
	h.transition(w, r, draft.TriggerStep, func(wz *wizard.Wizard) error {
		return wz.GoTo(step)
	})
}

// SubmitIntake validates the whole record and marks it submitted.
func (h *Handler) SubmitIntake(w http.ResponseWriter, r *http.Request) {
	email := identity.EmailFromContext(r.Context())
	err := h.wizards.With(r.Context(), email, (*wizard.Wizard).Submit)
	if err != nil {
		var verr *wizard.ValidationError
		if errors.As(err, &verr) {
			// Submit may have moved the wizard back to the failing step.
			h.flush(r.Context(), email, draft.TriggerStep)
		}
		writeWizardError(w, err)
		return
	}

	if err := h.wizards.Flush(r.Context(), email, draft.TriggerSubmit); err != nil {
		slog.Error("Submitted intake not yet persisted", "email", email, "error", err)
		Error(w, http.StatusServiceUnavailable, "submission recorded but not yet saved; it will be retried")
		return
	}
	st, err := h.wizards.State(r.Context(), email)
	if err != nil {
		writeWizardError(w, err)
		return
	}
	h.audit.Log(audit.Event{
		Action: audit.ActionDraftSubmit,
		Email:  email,
		IP:     identity.IPFromRequest(r),
		Detail: map[string]any{"version": st.Version},
	})
	slog.Info("Intake submitted", "email", email, "version", st.Version)
	JSON(w, http.StatusOK, st)
}

// AbandonIntake discards the client's draft.
func (h *Handler) AbandonIntake(w http.ResponseWriter, r *http.Request) {
	email := identity.EmailFromContext(r.Context())
	if err := h.wizards.Abandon(r.Context(), email); err != nil {
		slog.Error("Failed to abandon draft", "email", email, "error", err)
		Error(w, http.StatusInternalServerError, "failed to discard draft")
		return
	}
	h.hub.DraftAbandoned(email)
	h.audit.Log(audit.Event{Action: audit.ActionDraftAbandon, Email: email, IP: identity.IPFromRequest(r)})
	w.WriteHeader(http.StatusNoContent)
}

// transition applies fn to the client's wizard and, when trigger is set,
// persists the result before responding.
func (h *Handler) transition(w http.ResponseWriter, r *http.Request, trigger string, fn func(*wizard.Wizard) error) {
	email := identity.EmailFromContext(r.Context())
	if err := h.wizards.With(r.Context(), email, fn); err != nil {
		writeWizardError(w, err)
		return
	}
	if trigger != "" {
		h.flush(r.Context(), email, trigger)
	}
	st, err := h.wizards.State(r.Context(), email)
	if err != nil {
		writeWizardError(w, err)
		return
	}
	JSON(w, http.StatusOK, st)
}

// flush saves on a step transition. A failure leaves the session dirty for
// the timer to retry, so it is logged rather than surfaced.
func (h *Handler) flush(ctx context.Context, email, trigger string) {
	if err := h.wizards.Flush(ctx, email, trigger); err != nil {
		slog.Warn("Draft save deferred", "email", email, "trigger", trigger, "error", err)
	}
}
