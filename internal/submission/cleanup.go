// Package submission provides cleanup utilities for submission records.
package submission

import (
	"context"
	"log/slog"
	"time"
)

// DefaultExpiry is the default duration after which submission records are
// eligible for cleanup. Records only matter while a retry can still arrive.
const DefaultExpiry = 7 * 24 * time.Hour

// CleanupOldRecords removes submission records older than the specified
// duration. Returns the number of records deleted and any error encountered.
func CleanupOldRecords(ctx context.Context, repo Repository, expiry time.Duration) (int64, error) {
	deleted, err := repo.DeleteOlderThan(ctx, expiry)
	if err != nil {
		slog.Error("failed to cleanup old submission records", "error", err)
		return 0, err
	}

	if deleted > 0 {
		slog.Info("cleaned up old submission records", "deleted", deleted, "older_than", expiry)
	}

	return deleted, nil
}

// RunPeriodicCleanup runs the cleanup job periodically at the specified
// interval. This function blocks and should typically be run in a goroutine.
// It will continue running until the context is canceled.
func RunPeriodicCleanup(ctx context.Context, repo Repository, interval time.Duration, expiry time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	// Run cleanup immediately on start
	if _, err := CleanupOldRecords(ctx, repo, expiry); err != nil {
		slog.Error("initial cleanup failed", "error", err)
	}

	for {
		select {
		case <-ticker.C:
			if _, err := CleanupOldRecords(ctx, repo, expiry); err != nil {
				slog.Error("periodic cleanup failed", "error", err)
			}
		case <-ctx.Done():
			slog.Info("stopping periodic cleanup")
			return
		}
	}
}
