// Intake portal server: guided client intake with auto-saved drafts and
// document uploads.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ashureev/intake-portal/internal/api"
	"github.com/ashureev/intake-portal/internal/audit"
	"github.com/ashureev/intake-portal/internal/config"
	"github.com/ashureev/intake-portal/internal/draft"
	"github.com/ashureev/intake-portal/internal/identity"
	"github.com/ashureev/intake-portal/internal/mailer"
	"github.com/ashureev/intake-portal/internal/metrics"
	"github.com/ashureev/intake-portal/internal/middleware"
	"github.com/ashureev/intake-portal/internal/notify"
	"github.com/ashureev/intake-portal/internal/store"
	"github.com/ashureev/intake-portal/internal/upload"
	"github.com/ashureev/intake-portal/internal/wizard"
	"github.com/ashureev/intake-portal/web"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("Starting server", "port", cfg.Port, "dev", cfg.IsDevelopment(), "draft_backend", cfg.Draft.Backend)

	// Initialize dependencies.
	repo, err := store.NewSQLite(cfg.DBPath)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close repository", "error", closeErr)
		}
	}()

	if err := repo.Ping(context.Background()); err != nil {
		slog.Error("Database health check failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Database connected")

	catalog, err := loadCatalog(cfg.StepsFile)
	if err != nil {
		slog.Error("Failed to load step catalog", "error", err, "path", cfg.StepsFile)
		os.Exit(1)
	}
	slog.Info("Step catalog loaded", "steps", catalog.Len())

	drafts, closeDrafts, err := draft.Open(context.Background(), draft.BackendConfig{
		Kind:          cfg.Draft.Backend,
		RedisAddr:     cfg.Draft.RedisAddr,
		RedisPassword: cfg.Draft.RedisPassword,
		RedisDB:       cfg.Draft.RedisDB,
		TTL:           cfg.Draft.Retention,
	}, repo)
	if err != nil {
		slog.Error("Failed to initialize draft store", "error", err)
		os.Exit(1)
	}
	defer closeDrafts()

	blobs, err := upload.NewFSBlobStore(cfg.Upload.Dir)
	if err != nil {
		slog.Error("Failed to initialize upload storage", "error", err)
		os.Exit(1)
	}
	uploads := upload.NewService(blobs, repo, upload.Options{
		MaxBytes:     cfg.Upload.MaxBytes,
		AllowedTypes: cfg.Upload.AllowedTypes,
	})

	auditLog, err := audit.New(audit.Config{
		Enabled:   cfg.Audit.Enabled,
		Path:      cfg.Audit.Path,
		QueueSize: cfg.Audit.QueueSize,
	}, logger)
	if err != nil {
		slog.Error("Failed to initialize audit log", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := auditLog.Close(); closeErr != nil {
			slog.Error("Failed to close audit log", "error", closeErr)
		}
	}()

	hub := notify.NewHub()
	wizards := draft.NewAutosaver(drafts, catalog, draft.Options{
		Interval:  cfg.Draft.AutosaveInterval,
		IdleEvict: cfg.Draft.IdleEvict,
		Observer:  hub,
	})

	issuer := identity.NewIssuer(cfg.Session.JWTSecret, cfg.Session.TTL, cfg.IsDevelopment()).WithEpochs(repo)
	codes := identity.NewCodes(repo, newMailer(cfg.Mail), cfg.Session.JWTSecret, identity.CodeOptions{
		TTL:         cfg.Session.LoginCodeTTL,
		MaxAttempts: cfg.Session.LoginMaxAttempts,
	})
	limiter := middleware.NewRateLimiter(float64(cfg.RateLimit.RPS), cfg.RateLimit.Burst)

	// Initialize handlers.
	handler := api.NewHandler(api.Deps{
		Repo:    repo,
		Drafts:  drafts,
		Wizards: wizards,
		Uploads: uploads,
		Issuer:  issuer,
		Codes:   codes,
		Hub:     hub,
		Audit:   auditLog,
	})
	wsHandler := notify.NewHandler(hub, cfg.FrontendURL, cfg.IsDevelopment())

	allowedOrigins := []string{"*"}
	if cfg.FrontendURL != "" && !cfg.IsDevelopment() {
		allowedOrigins = []string{cfg.FrontendURL}
	}

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/healthz"))
	r.Use(middleware.Metrics)
	r.Use(middleware.CORS(allowedOrigins))
	r.Use(identity.Middleware(issuer))
	r.Use(limiter.Handler)

	handler.RegisterRoutes(r, cfg.AdminToken)
	r.Handle("/metrics", metrics.Handler())

	// WebSocket endpoint.
	r.Get("/ws/intake", wsHandler.ServeHTTP)

	// Serve embedded frontend (SPA catch-all).
	r.Handle("/*", web.SPAHandler())

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       2 * time.Minute, // uploads
		WriteTimeout:      0,               // 0 = no timeout for websocket and downloads
		IdleTimeout:       120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	wizards.Start(ctx)
	draft.StartRetentionWorker(ctx, drafts, cfg.Draft.Retention)

	go cleanupLimiter(ctx, limiter)
	go cleanupLoginCodes(ctx, repo)

	// Start server.
	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for shutdown signal.
	<-ctx.Done()
	stop()

	slog.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
	}

	// Flush every open draft once no more requests can modify them.
	if err := wizards.Close(shutdownCtx); err != nil {
		slog.Error("Failed to flush drafts on shutdown", "error", err)
	}

	slog.Info("Server stopped successfully")
}

func loadCatalog(path string) (*wizard.Catalog, error) {
	if path == "" {
		return wizard.DefaultCatalog(), nil
	}
	return wizard.LoadCatalogFile(path)
}

func newMailer(cfg config.MailConfig) identity.Mailer {
	if cfg.SMTPHost == "" {
		slog.Warn("SMTP_HOST not set, sign-in codes will be logged")
		return mailer.Log{}
	}
	return mailer.NewSMTP(mailer.SMTPConfig{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		From:     cfg.From,
	})
}

func cleanupLoginCodes(ctx context.Context, repo store.Repository) {
	ticker := time.NewTicker(15 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := repo.DeleteExpiredLoginCodes(ctx, time.Now())
			if err != nil {
				slog.Warn("Failed to delete expired login codes", "error", err)
				continue
			}
			if n > 0 {
				slog.Debug("Expired login codes removed", "count", n)
			}
		}
	}
}

func cleanupLimiter(ctx context.Context, limiter *middleware.RateLimiter) {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := limiter.Cleanup(10 * time.Minute); n > 0 {
				slog.Debug("Rate limiter entries removed", "count", n)
			}
		}
	}
}
