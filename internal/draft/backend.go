package draft

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ashureev/intake-portal/internal/store"
	"github.com/go-redis/redis/v8"
)

// Backend names accepted by Open.
const (
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
)

// BackendConfig selects and configures a draft store.
type BackendConfig struct {
	Kind          string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	// TTL bounds how long unsubmitted drafts live in redis.
	TTL time.Duration
}

// Open returns the configured draft store. The returned func releases any
// backend connection.
func Open(ctx context.Context, cfg BackendConfig, repo store.Repository) (Store, func(), error) {
	switch cfg.Kind {
	case "", BackendSQLite:
		return NewRepositoryStore(repo), func() {}, nil
	case BackendRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := client.Ping(pingCtx).Err(); err != nil {
			_ = client.Close()
			return nil, nil, fmt.Errorf("connect redis: %w", err)
		}
		slog.Info("Redis draft store connected", "addr", cfg.RedisAddr)
		closeFn := func() {
			if err := client.Close(); err != nil {
				slog.Error("Failed to close redis client", "error", err)
			}
		}
		return NewRedisStore(client, cfg.TTL), closeFn, nil
	default:
		return nil, nil, fmt.Errorf("unknown draft backend %q", cfg.Kind)
	}
}
