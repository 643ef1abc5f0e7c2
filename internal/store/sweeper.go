package store

import (
	"context"
	"log/slog"
	"time"
)

// DefaultSweepInterval is how often expired snapshots are removed.
const DefaultSweepInterval = 5 * time.Minute

// SweepCallback is called with the number of snapshots removed by a sweep.
type SweepCallback func(deleted int64)

// StartSweeper runs a background goroutine that periodically deletes
// snapshots idle for longer than ttl. The returned channel is closed once the
// goroutine has exited after ctx is cancelled.
func StartSweeper(ctx context.Context, repo Repository, interval, ttl time.Duration, onSweep SweepCallback) <-chan struct{} {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	done := make(chan struct{})
	ticker := time.NewTicker(interval)
	go func() {
		defer close(done)
		defer ticker.Stop()
		slog.Info("Session sweeper started", "interval", interval, "ttl", ttl)

		for {
			select {
			case <-ticker.C:
				sweep(ctx, repo, ttl, onSweep)
			case <-ctx.Done():
				slog.Info("Session sweeper shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
	return done
}

func sweep(ctx context.Context, repo Repository, ttl time.Duration, onSweep SweepCallback) {
	deleted, err := repo.CleanupExpiredSessions(ctx, ttl)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		slog.Error("Session sweeper failed to cleanup expired sessions", "error", err)
		return
	}
	if deleted == 0 {
		return
	}

	slog.Info("Session sweeper removed expired sessions", "count", deleted)
	if onSweep != nil {
		onSweep(deleted)
	}
}
