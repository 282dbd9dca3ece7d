package domain

import (
	"errors"
	"net/mail"
	"strings"
	"time"
)

// Client is a portal user identified by email.
type Client struct {
	Email      string    `json:"email"`
	Name       string    `json:"name"`
	CreatedAt  time.Time `json:"created_at"`
	LastSeenAt time.Time `json:"last_seen_at"`
	// SessionEpoch invalidates every session token minted under a lower
	// value. Logout bumps it.
	SessionEpoch int64 `json:"-"`
}

// LoginCode is a pending one-time sign-in code. Only a keyed hash of the
// code is stored.
type LoginCode struct {
	Email     string
	CodeHash  string
	Attempts  int
	ExpiresAt time.Time
	CreatedAt time.Time
}

// Document is metadata for a file uploaded by a client.
type Document struct {
	ID          string    `json:"id"`
	OwnerEmail  string    `json:"owner_email"`
	Filename    string    `json:"filename"`
	ContentType string    `json:"content_type"`
	Size        int64     `json:"size"`
	SHA256      string    `json:"sha256"`
	Category    string    `json:"category,omitempty"`
	BlobKey     string    `json:"-"`
	CreatedAt   time.Time `json:"created_at"`
}

// ErrInvalidEmail is returned for addresses that cannot key a draft.
var ErrInvalidEmail = errors.New("invalid email address")

// NormalizeEmail trims and lowercases an address so it can be used as a
// stable key.
func NormalizeEmail(raw string) (string, error) {
	email := strings.ToLower(strings.TrimSpace(raw))
	if email == "" || len(email) > 254 {
		return "", ErrInvalidEmail
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", ErrInvalidEmail
	}
	return email, nil
}
