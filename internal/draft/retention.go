package draft

import (
	"context"
	"log/slog"
	"time"

	"github.com/ashureev/intake-portal/internal/metrics"
)

const retentionInterval = time.Hour

// PurgeStale deletes abandoned drafts older than maxAge and returns how
// many were removed. Submitted records are kept.
func PurgeStale(ctx context.Context, store Store, maxAge time.Duration) (int64, error) {
	deleted, err := store.DeleteStale(ctx, maxAge)
	if err != nil {
		return 0, err
	}
	metrics.RecordDraftsPurged(deleted)
	return deleted, nil
}

// StartRetentionWorker runs a background goroutine that periodically purges
// drafts nobody has touched within maxAge.
func StartRetentionWorker(ctx context.Context, store Store, maxAge time.Duration) {
	startRetentionWorker(ctx, store, maxAge, retentionInterval)
}

func startRetentionWorker(ctx context.Context, store Store, maxAge, interval time.Duration) <-chan struct{} {
	done := make(chan struct{})
	ticker := time.NewTicker(interval)
	go func() {
		defer close(done)
		defer ticker.Stop()
		slog.Info("Draft retention worker started", "interval", interval, "max_age", maxAge)

		for {
			select {
			case <-ticker.C:
				deleted, err := PurgeStale(ctx, store, maxAge)
				if err != nil {
					slog.Error("Retention worker failed to purge drafts", "error", err)
					continue
				}
				if deleted > 0 {
					slog.Info("Retention worker purged abandoned drafts", "count", deleted)
				}
			case <-ctx.Done():
				slog.Info("Draft retention worker shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
	return done
}
