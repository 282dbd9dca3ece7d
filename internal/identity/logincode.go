package identity

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ashureev/intake-portal/internal/domain"
)

const (
	codeDigits             = 6
	defaultLoginCodeTTL    = 10 * time.Minute
	defaultLoginMaxAttempt = 5
)

// ErrCodeInvalid is returned when a sign-in code is wrong, expired, used up
// or was never requested. Callers cannot tell these cases apart.
var ErrCodeInvalid = errors.New("invalid or expired sign-in code")

// CodeStore persists pending sign-in codes.
type CodeStore interface {
	SaveLoginCode(ctx context.Context, code *domain.LoginCode) error
	GetLoginCode(ctx context.Context, email string) (*domain.LoginCode, error)
	IncrementLoginAttempts(ctx context.Context, email string) (int, error)
	DeleteLoginCode(ctx context.Context, email string) error
}

// Mailer delivers sign-in codes to the address being verified.
type Mailer interface {
	SendLoginCode(ctx context.Context, email, code string, expires time.Time) error
}

// CodeOptions configures sign-in code issuance.
type CodeOptions struct {
	TTL         time.Duration
	MaxAttempts int
}

// Codes proves ownership of an email address with a short-lived one-time
// code mailed to it. A session is only issued after Verify succeeds.
type Codes struct {
	store  CodeStore
	mailer Mailer
	secret []byte
	opts   CodeOptions
	now    func() time.Time
}

// NewCodes creates a code service. secret keys the stored code hashes.
func NewCodes(store CodeStore, mailer Mailer, secret string, opts CodeOptions) *Codes {
	if opts.TTL <= 0 {
		opts.TTL = defaultLoginCodeTTL
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = defaultLoginMaxAttempt
	}
	return &Codes{store: store, mailer: mailer, secret: []byte(secret), opts: opts, now: time.Now}
}

// Send issues a fresh code for email, replacing any pending one, and mails it.
func (c *Codes) Send(ctx context.Context, email string) error {
	code, err := generateCode()
	if err != nil {
		return err
	}
	now := c.now()
	expires := now.Add(c.opts.TTL)
	if err := c.store.SaveLoginCode(ctx, &domain.LoginCode{
		Email:     email,
		CodeHash:  c.hash(email, code),
		ExpiresAt: expires,
		CreatedAt: now,
	}); err != nil {
		return fmt.Errorf("store login code: %w", err)
	}
	if err := c.mailer.SendLoginCode(ctx, email, code, expires); err != nil {
		if delErr := c.store.DeleteLoginCode(ctx, email); delErr != nil {
			slog.Warn("Failed to discard undelivered login code", "email", email, "error", delErr)
		}
		return fmt.Errorf("send login code: %w", err)
	}
	return nil
}

// Verify consumes the pending code for email. Every call counts as an
// attempt; once MaxAttempts is reached the code is discarded.
func (c *Codes) Verify(ctx context.Context, email, code string) error {
	pending, err := c.store.GetLoginCode(ctx, email)
	if err != nil {
		return fmt.Errorf("load login code: %w", err)
	}
	if pending == nil {
		return ErrCodeInvalid
	}
	if !c.now().Before(pending.ExpiresAt) {
		c.discard(ctx, email)
		return ErrCodeInvalid
	}

	attempts, err := c.store.IncrementLoginAttempts(ctx, email)
	if err != nil {
		return fmt.Errorf("record login attempt: %w", err)
	}
	if attempts == 0 || attempts > c.opts.MaxAttempts {
		c.discard(ctx, email)
		return ErrCodeInvalid
	}

	if !hmac.Equal([]byte(c.hash(email, code)), []byte(pending.CodeHash)) {
		if attempts >= c.opts.MaxAttempts {
			c.discard(ctx, email)
		}
		return ErrCodeInvalid
	}
	c.discard(ctx, email)
	return nil
}

func (c *Codes) discard(ctx context.Context, email string) {
	if err := c.store.DeleteLoginCode(ctx, email); err != nil {
		slog.Warn("Failed to delete login code", "email", email, "error", err)
	}
}

func (c *Codes) hash(email, code string) string {
	mac := hmac.New(sha256.New, c.secret)
	mac.Write([]byte(email))
	mac.Write([]byte{0})
	mac.Write([]byte(code))
	return hex.EncodeToString(mac.Sum(nil))
}

func generateCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1_000_000))
	if err != nil {
		return "", fmt.Errorf("generate login code: %w", err)
	}
	return fmt.Sprintf("%0*d", codeDigits, n.Int64()), nil
}
