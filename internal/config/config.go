// Package config provides application configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Port        string
	FrontendURL string
	DBPath      string
	StepsFile   string // optional YAML/JSON step catalog; empty uses the built-in one
	AdminToken  string
	Session     SessionConfig
	Draft       DraftConfig
	Upload      UploadConfig
	RateLimit   RateLimitConfig
	Audit       AuditConfig
	Mail        MailConfig
}

// SessionConfig controls client session tokens and emailed sign-in codes.
type SessionConfig struct {
	JWTSecret        string
	TTL              time.Duration
	LoginCodeTTL     time.Duration
	LoginMaxAttempts int
}

// MailConfig controls outbound SMTP delivery of sign-in codes. An empty
// host logs codes instead and is only accepted in development.
type MailConfig struct {
	SMTPHost     string
	SMTPPort     int
	SMTPUsername string
	SMTPPassword string
	From         string
}

// DraftConfig controls draft persistence and auto-save.
type DraftConfig struct {
	Backend          string // "sqlite" or "redis"
	RedisAddr        string
	RedisPassword    string
	RedisDB          int
	AutosaveInterval time.Duration
	IdleEvict        time.Duration
	Retention        time.Duration
}

// UploadConfig controls document upload validation and storage.
type UploadConfig struct {
	Dir          string
	MaxBytes     int64
	AllowedTypes []string
}

// RateLimitConfig controls per-client request rate limiting.
type RateLimitConfig struct {
	RPS   int
	Burst int
}

// AuditConfig controls the NDJSON audit log.
type AuditConfig struct {
	Enabled   bool
	Path      string
	QueueSize int
}

// DefaultAllowedTypes is the upload allow-list used when none is configured.
var DefaultAllowedTypes = []string{
	"application/pdf",
	"image/jpeg",
	"image/png",
	"image/heic",
	"text/csv",
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document",
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Port:        getEnv("PORT", "8080"),
		FrontendURL: getEnv("FRONTEND_URL", ""),
		DBPath:      getEnv("DB_PATH", "./data/intake.db"),
		StepsFile:   getEnv("STEPS_FILE", ""),
		AdminToken:  getEnv("ADMIN_TOKEN", ""),
		Session: SessionConfig{
			JWTSecret:        getEnv("JWT_SECRET", ""),
			TTL:              getEnvDuration("SESSION_TTL", 7*24*time.Hour),
			LoginCodeTTL:     getEnvDuration("LOGIN_CODE_TTL", 10*time.Minute),
			LoginMaxAttempts: getEnvInt("LOGIN_MAX_ATTEMPTS", 5),
		},
		Draft: DraftConfig{
			Backend:          strings.ToLower(getEnv("DRAFT_BACKEND", "sqlite")),
			RedisAddr:        getEnv("REDIS_ADDR", "localhost:6379"),
			RedisPassword:    getEnv("REDIS_PASSWORD", ""),
			RedisDB:          getEnvInt("REDIS_DB", 0),
			AutosaveInterval: getEnvDuration("AUTOSAVE_INTERVAL", 30*time.Second),
			IdleEvict:        getEnvDuration("SESSION_IDLE_EVICT", 30*time.Minute),
			Retention:        getEnvDuration("DRAFT_RETENTION", 90*24*time.Hour),
		},
		Upload: UploadConfig{
			Dir:          getEnv("UPLOAD_DIR", "./data/uploads"),
			MaxBytes:     int64(getEnvInt("UPLOAD_MAX_BYTES", 10<<20)),
			AllowedTypes: getEnvList("UPLOAD_ALLOWED_TYPES", DefaultAllowedTypes),
		},
		RateLimit: RateLimitConfig{
			RPS:   getEnvInt("RATE_LIMIT_RPS", 10),
			Burst: getEnvInt("RATE_LIMIT_BURST", 30),
		},
		Audit: AuditConfig{
			Enabled:   getEnvBool("AUDIT_LOG_ENABLED", true),
			Path:      getEnv("AUDIT_LOG_PATH", "./data/logs/audit.ndjson"),
			QueueSize: getEnvInt("AUDIT_QUEUE_SIZE", 1000),
		},
		Mail: MailConfig{
			SMTPHost:     getEnv("SMTP_HOST", ""),
			SMTPPort:     getEnvInt("SMTP_PORT", 587),
			SMTPUsername: getEnv("SMTP_USERNAME", ""),
			SMTPPassword: getEnv("SMTP_PASSWORD", ""),
			From:         getEnv("MAIL_FROM", "intake@localhost"),
		},
	}

	if cfg.Session.JWTSecret == "" && cfg.IsDevelopment() {
		cfg.Session.JWTSecret = "dev-insecure-secret"
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty")
	}
	if c.Session.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET cannot be empty outside development")
	}
	if c.Session.TTL <= 0 {
		return fmt.Errorf("SESSION_TTL must be > 0")
	}
	if c.Session.LoginCodeTTL <= 0 {
		return fmt.Errorf("LOGIN_CODE_TTL must be > 0")
	}
	if c.Session.LoginMaxAttempts <= 0 {
		return fmt.Errorf("LOGIN_MAX_ATTEMPTS must be > 0")
	}
	if c.Mail.SMTPHost == "" && !c.IsDevelopment() {
		return fmt.Errorf("SMTP_HOST cannot be empty outside development")
	}
	if c.Mail.SMTPHost != "" && c.Mail.From == "" {
		return fmt.Errorf("MAIL_FROM cannot be empty when SMTP_HOST is set")
	}
	switch c.Draft.Backend {
	case "sqlite":
	case "redis":
		if c.Draft.RedisAddr == "" {
			return fmt.Errorf("REDIS_ADDR cannot be empty when DRAFT_BACKEND=redis")
		}
	default:
		return fmt.Errorf("DRAFT_BACKEND must be sqlite or redis, got %q", c.Draft.Backend)
	}
	if c.Draft.AutosaveInterval <= 0 {
		return fmt.Errorf("AUTOSAVE_INTERVAL must be > 0")
	}
	if c.Draft.IdleEvict <= 0 {
		return fmt.Errorf("SESSION_IDLE_EVICT must be > 0")
	}
	if c.Draft.Retention <= 0 {
		return fmt.Errorf("DRAFT_RETENTION must be > 0")
	}
	if c.Upload.Dir == "" {
		return fmt.Errorf("UPLOAD_DIR cannot be empty")
	}
	if c.Upload.MaxBytes <= 0 {
		return fmt.Errorf("UPLOAD_MAX_BYTES must be > 0")
	}
	if len(c.Upload.AllowedTypes) == 0 {
		return fmt.Errorf("UPLOAD_ALLOWED_TYPES cannot be empty")
	}
	if c.RateLimit.RPS <= 0 || c.RateLimit.Burst <= 0 {
		return fmt.Errorf("RATE_LIMIT_RPS and RATE_LIMIT_BURST must be > 0")
	}
	if c.Audit.Enabled && c.Audit.Path == "" {
		return fmt.Errorf("AUDIT_LOG_PATH cannot be empty")
	}
	if c.Audit.QueueSize <= 0 {
		return fmt.Errorf("AUDIT_QUEUE_SIZE must be > 0")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	if env := os.Getenv("APP_ENV"); env != "" {
		return env == "development"
	}
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

// AdminEnabled reports whether back-office routes should be mounted.
func (c *Config) AdminEnabled() bool {
	return c.AdminToken != ""
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return d
}

func getEnvList(key string, fallback []string) []string {
	value, ok := os.LookupEnv(key)
	if !ok {
		return append([]string(nil), fallback...)
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
