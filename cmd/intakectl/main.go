// Command intakectl is the operator CLI for the intake portal: it lints step
// catalogs and inspects or purges stored drafts.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/ashureev/intake-portal/internal/draft"
	"github.com/ashureev/intake-portal/internal/store"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

type globalOptions struct {
	dbPath        string
	backend       string
	redisAddr     string
	redisPassword string
}

func main() {
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn})))
	_ = godotenv.Load()

	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &globalOptions{}
	root := &cobra.Command{
		Use:           "intakectl",
		Short:         "Operate the client intake portal",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().StringVar(&opts.dbPath, "db", envOr("DB_PATH", "./data/intake.db"), "SQLite database path")
	root.PersistentFlags().StringVar(&opts.backend, "backend", envOr("DRAFT_BACKEND", draft.BackendSQLite), "draft backend (sqlite|redis)")
	root.PersistentFlags().StringVar(&opts.redisAddr, "redis-addr", envOr("REDIS_ADDR", "localhost:6379"), "redis address for the redis backend")
	root.PersistentFlags().StringVar(&opts.redisPassword, "redis-password", os.Getenv("REDIS_PASSWORD"), "redis password")

	root.AddCommand(newStepsCmd(), newDraftsCmd(opts))
	return root
}

// openDrafts opens the repository and draft store. The returned func closes
// both.
func openDrafts(ctx context.Context, opts *globalOptions) (draft.Store, func(), error) {
	repo, err := store.NewSQLite(opts.dbPath)
	if err != nil {
		return nil, nil, fmt.Errorf("open database: %w", err)
	}
	drafts, closeDrafts, err := draft.Open(ctx, draft.BackendConfig{
		Kind:          opts.backend,
		RedisAddr:     opts.redisAddr,
		RedisPassword: opts.redisPassword,
	}, repo)
	if err != nil {
		_ = repo.Close()
		return nil, nil, err
	}
	return drafts, func() {
		closeDrafts()
		_ = repo.Close()
	}, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
