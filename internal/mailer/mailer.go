// Package mailer delivers sign-in codes to clients.
package mailer

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"mime"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"
)

// SMTPConfig configures an SMTP relay.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// SMTP sends sign-in codes through an SMTP relay.
type SMTP struct {
	cfg  SMTPConfig
	send func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

// NewSMTP creates an SMTP mailer. Auth is only used when a username is set.
func NewSMTP(cfg SMTPConfig) *SMTP {
	return &SMTP{cfg: cfg, send: smtp.SendMail}
}

// SendLoginCode mails code to email.
func (m *SMTP) SendLoginCode(ctx context.Context, email, code string, expires time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if strings.ContainsAny(email, "\r\n") {
		return fmt.Errorf("invalid recipient %q", email)
	}
	var auth smtp.Auth
	if m.cfg.Username != "" {
		auth = smtp.PlainAuth("", m.cfg.Username, m.cfg.Password, m.cfg.Host)
	}
	addr := net.JoinHostPort(m.cfg.Host, strconv.Itoa(m.cfg.Port))
	msg := loginCodeMessage(m.cfg.From, email, code, expires)
	if err := m.send(addr, auth, m.cfg.From, []string{email}, msg); err != nil {
		return fmt.Errorf("smtp send to %s: %w", email, err)
	}
	slog.Info("Login code sent", "email", email)
	return nil
}

func loginCodeMessage(from, to, code string, expires time.Time) []byte {
	var b bytes.Buffer
	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", to)
	fmt.Fprintf(&b, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", "Your intake portal sign-in code"))
	fmt.Fprintf(&b, "Date: %s\r\n", time.Now().UTC().Format(time.RFC1123Z))
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=utf-8\r\n\r\n")
	fmt.Fprintf(&b, "Your sign-in code is %s.\r\n\r\n", code)
	fmt.Fprintf(&b, "It expires at %s. If you did not request it, ignore this message.\r\n",
		expires.UTC().Format("15:04 MST"))
	return b.Bytes()
}

// Log writes codes to the structured log. Development only.
type Log struct{}

// SendLoginCode logs code for email.
func (Log) SendLoginCode(_ context.Context, email, code string, expires time.Time) error {
	slog.Info("Login code issued (development mailer)", "email", email, "code", code, "expires_at", expires)
	return nil
}
