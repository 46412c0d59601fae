package session

import (
	"context"
	"log/slog"
	"time"
)

// StartEvictionWorker runs a background goroutine that periodically sweeps
// expired sessions until ctx is cancelled.
func StartEvictionWorker(ctx context.Context, store Store, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		slog.Info("Session eviction worker started", "interval", interval)

		for {
			select {
			case <-ctx.Done():
				slog.Info("Session eviction worker stopped")
				return
			case now := <-ticker.C:
				if _, err := store.EvictExpired(ctx, now); err != nil {
					slog.Error("Session eviction sweep failed", "error", err)
				}
			}
		}
	}()
}
