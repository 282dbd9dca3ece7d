package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/ashureev/intake-portal/internal/audit"
	"github.com/ashureev/intake-portal/internal/domain"
	"github.com/ashureev/intake-portal/internal/draft"
	"github.com/ashureev/intake-portal/internal/identity"
)

type loginCodeRequest struct {
	Email string `json:"email"`
}

type startSessionRequest struct {
	Email string `json:"email"`
	Code  string `json:"code"`
	Name  string `json:"name"`
}

type sessionResponse struct {
	Email     string    `json:"email"`
	Name      string    `json:"name,omitempty"`
	Token     string    `json:"token,omitempty"`
	ExpiresAt time.Time `json:"expires_at,omitempty"`
}

// RequestLoginCode mails a one-time sign-in code to the posted address.
// The response is the same whether or not the address has a draft.
func (h *Handler) RequestLoginCode(w http.ResponseWriter, r *http.Request) {
	var req loginCodeRequest
	if err := decodeJSON(r, &req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	email, err := domain.NormalizeEmail(req.Email)
	if err != nil {
		Error(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.codes.Send(r.Context(), email); err != nil {
		slog.Error("Failed to send login code", "email", email, "error", err)
		Error(w, http.StatusServiceUnavailable, "failed to send sign-in code")
		return
	}
	h.audit.Log(audit.Event{Action: audit.ActionLoginCodeSent, Email: email, IP: identity.IPFromRequest(r)})
	JSON(w, http.StatusAccepted, map[string]string{"status": "code_sent"})
}

// StartSession exchanges a mailed sign-in code for a session token.
func (h *Handler) StartSession(w http.ResponseWriter, r *http.Request) {
	var req startSessionRequest
	if err := decodeJSON(r, &req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	email, err := domain.NormalizeEmail(req.Email)
	if err != nil {
		Error(w, http.StatusBadRequest, err.Error())
		return
	}
	code := strings.TrimSpace(req.Code)
	if code == "" {
		Error(w, http.StatusUnauthorized, "sign-in code required")
		return
	}

	ctx := r.Context()
	if err := h.codes.Verify(ctx, email, code); err != nil {
		if errors.Is(err, identity.ErrCodeInvalid) {
			h.audit.Log(audit.Event{Action: audit.ActionLoginFailed, Email: email, IP: identity.IPFromRequest(r)})
			Error(w, http.StatusUnauthorized, err.Error())
			return
		}
		slog.Error("Failed to verify login code", "email", email, "error", err)
		Error(w, http.StatusInternalServerError, "failed to start session")
		return
	}

	name := sanitizeName(req.Name)
	now := time.Now()
	if err := h.repo.UpsertClient(ctx, &domain.Client{
		Email:      email,
		Name:       name,
		CreatedAt:  now,
		LastSeenAt: now,
	}); err != nil {
		slog.Error("Failed to upsert client", "email", email, "error", err)
		Error(w, http.StatusInternalServerError, "failed to start session")
		return
	}
	client, err := h.repo.GetClient(ctx, email)
	if err != nil || client == nil {
		slog.Error("Failed to load client", "email", email, "error", err)
		Error(w, http.StatusInternalServerError, "failed to start session")
		return
	}

	token, expires, err := h.issuer.Issue(email, client.Name, client.SessionEpoch)
	if err != nil {
		slog.Error("Failed to issue session token", "email", email, "error", err)
		Error(w, http.StatusInternalServerError, "failed to start session")
		return
	}
	h.issuer.SetCookie(w, token, expires)

	h.audit.Log(audit.Event{Action: audit.ActionSessionStart, Email: email, IP: identity.IPFromRequest(r)})
	slog.Info("Client session started", "email", email)
	JSON(w, http.StatusOK, sessionResponse{Email: email, Name: client.Name, Token: token, ExpiresAt: expires})
}

// GetSession returns the authenticated client.
func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	email := identity.EmailFromContext(r.Context())
	if err := h.repo.UpdateLastSeen(r.Context(), email, time.Now()); err != nil {
		slog.Warn("Failed to update last seen", "email", email, "error", err)
	}
	JSON(w, http.StatusOK, sessionResponse{Email: email, Name: identity.NameFromContext(r.Context())})
}

// EndSession flushes the client's draft and revokes every token issued to
// the client so far.
func (h *Handler) EndSession(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	email := identity.EmailFromContext(ctx)
	if err := h.wizards.Flush(ctx, email, draft.TriggerLogout); err != nil {
		slog.Warn("Failed to flush draft on logout", "email", email, "error", err)
	}
	if _, err := h.repo.BumpSessionEpoch(ctx, email); err != nil {
		slog.Error("Failed to revoke sessions", "email", email, "error", err)
		Error(w, http.StatusInternalServerError, "failed to end session")
		return
	}
	h.hub.CloseClient(email)
	h.issuer.ClearCookie(w)
	h.audit.Log(audit.Event{Action: audit.ActionSessionEnd, Email: email, IP: identity.IPFromRequest(r)})
	w.WriteHeader(http.StatusNoContent)
}

func sanitizeName(raw string) string {
	runes := []rune(raw)
	if len(runes) > 120 {
		runes = runes[:120]
	}
	out := make([]rune, 0, len(runes))
	for _, r := range runes {
		if r >= 0x20 && r != 0x7f && r != '<' && r != '>' {
			out = append(out, r)
		}
	}
	return string(out)
}
