// Package identity issues and verifies client session tokens and carries the
// resulting identity through request contexts.
package identity

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	CookieName       = "intake_session"
	TabHeaderName    = "X-Intake-Tab-ID"
	DefaultTabID     = "default"
	issuerName       = "intake-portal"
	adminTokenHeader = "Authorization"
)

type contextKey int

const (
	emailKey contextKey = iota
	nameKey
	tabIDKey
)

var (
	// ErrInvalidToken is returned for tokens that fail verification.
	ErrInvalidToken = errors.New("invalid session token")

	tabIDPattern = regexp.MustCompile(`^[A-Za-z0-9._:-]{1,128}$`)
)

// Claims are the JWT claims carried by a client session token.
type Claims struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
	Epoch int64  `json:"sep"`
	jwt.RegisteredClaims
}

// EpochSource reports the session epoch a client's tokens must carry.
// Tokens minted under an older epoch are rejected.
type EpochSource interface {
	SessionEpoch(ctx context.Context, email string) (int64, error)
}

// Issuer signs and verifies HS256 session tokens.
type Issuer struct {
	secret []byte
	ttl    time.Duration
	secure bool
	epochs EpochSource
}

// NewIssuer creates an issuer. Cookies are marked Secure outside development.
func NewIssuer(secret string, ttl time.Duration, isDev bool) *Issuer {
	return &Issuer{secret: []byte(secret), ttl: ttl, secure: !isDev}
}

// WithEpochs makes Verify reject tokens whose epoch is behind src.
func (i *Issuer) WithEpochs(src EpochSource) *Issuer {
	i.epochs = src
	return i
}

// Issue returns a signed token for email under epoch and its expiry.
func (i *Issuer) Issue(email, name string, epoch int64) (string, time.Time, error) {
	now := time.Now()
	expires := now.Add(i.ttl)
	claims := Claims{
		Email: email,
		Name:  name,
		Epoch: epoch,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuerName,
			Subject:   email,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign session token: %w", err)
	}
	return signed, expires, nil
}

// Parse verifies token and returns its claims.
func (i *Issuer) Parse(token string) (*Claims, error) {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return i.secret, nil
	}, jwt.WithIssuer(issuerName), jwt.WithExpirationRequired())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !parsed.Valid || claims.Email == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// Verify parses token and, when an EpochSource is configured, checks that
// it was not revoked by a later logout.
func (i *Issuer) Verify(ctx context.Context, token string) (*Claims, error) {
	claims, err := i.Parse(token)
	if err != nil {
		return nil, err
	}
	if i.epochs == nil {
		return claims, nil
	}
	current, err := i.epochs.SessionEpoch(ctx, claims.Email)
	if err != nil {
		return nil, fmt.Errorf("lookup session epoch: %w", err)
	}
	if claims.Epoch != current {
		return nil, fmt.Errorf("%w: session revoked", ErrInvalidToken)
	}
	return claims, nil
}

// SetCookie writes the session cookie.
func (i *Issuer) SetCookie(w http.ResponseWriter, token string, expires time.Time) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   int(time.Until(expires).Seconds()),
		Expires:  expires,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   i.secure,
	})
}

// ClearCookie expires the session cookie.
func (i *Issuer) ClearCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		Expires:  time.Unix(0, 0),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   i.secure,
	})
}

// EmailFromContext extracts the authenticated client email.
func EmailFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(emailKey).(string); ok {
		return v
	}
	return ""
}

// NameFromContext extracts the client display name.
func NameFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(nameKey).(string); ok {
		return v
	}
	return ""
}

// TabIDFromContext extracts the browser tab ID from the request context.
func TabIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(tabIDKey).(string); ok {
		return v
	}
	return DefaultTabID
}

// WithEmail returns ctx carrying email as the authenticated client.
func WithEmail(ctx context.Context, email string) context.Context {
	return context.WithValue(ctx, emailKey, email)
}

func sanitizeTabID(id string) string {
	id = strings.TrimSpace(id)
	if id == "" || !tabIDPattern.MatchString(id) {
		return DefaultTabID
	}
	return id
}

func tabIDFromRequest(r *http.Request) string {
	tid := r.Header.Get(TabHeaderName)
	if tid == "" {
		tid = r.URL.Query().Get("tab_id")
	}
	return sanitizeTabID(tid)
}

func tokenFromRequest(r *http.Request) string {
	if c, err := r.Cookie(CookieName); err == nil && c.Value != "" {
		return c.Value
	}
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
	}
	return ""
}

// Middleware resolves the session token, if any, and injects the client
// identity and tab ID. Requests without a valid token pass through
// anonymously; RequireClient rejects them where a client is needed.
func Middleware(issuer *Issuer) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := context.WithValue(r.Context(), tabIDKey, tabIDFromRequest(r))
			if token := tokenFromRequest(r); token != "" {
				claims, err := issuer.Verify(r.Context(), token)
				switch {
				case err == nil:
					ctx = context.WithValue(ctx, emailKey, claims.Email)
					ctx = context.WithValue(ctx, nameKey, claims.Name)
				case !errors.Is(err, ErrInvalidToken):
					slog.Warn("Session verification failed", "error", err)
				}
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireClient rejects requests without an authenticated client.
func RequireClient(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if EmailFromContext(r.Context()) == "" {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":"session required"}`))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireAdmin guards routes with a static bearer token. An empty token
// disables the routes entirely.
func RequireAdmin(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if token == "" {
				http.NotFound(w, r)
				return
			}
			got := strings.TrimPrefix(r.Header.Get(adminTokenHeader), "Bearer ")
			if subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				_, _ = w.Write([]byte(`{"error":"unauthorized"}`))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// IPFromRequest returns a normalized remote IP for rate limiting and audit.
func IPFromRequest(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
