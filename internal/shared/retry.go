package shared

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// RetryOnConflict runs fn up to three times, backing off exponentially
// (100ms, 200ms) while it fails with a SQLite concurrency error.
func RetryOnConflict(ctx context.Context, op string, fn func() error) error {
	const maxRetries = 3
	baseDelay := 100 * time.Millisecond

	var err error
	for i := 0; i < maxRetries; i++ {
		err = fn()
		if err == nil {
			return nil
		}
		kind := ConflictKind(err)
		if kind == "" {
			break
		}
		if i == maxRetries-1 {
			slog.Warn("SQLite conflict persisted, giving up", "op", op, "conflict", kind, "attempts", maxRetries)
			break
		}

		delay := baseDelay * time.Duration(1<<i)
		slog.Debug("SQLite conflict, retrying", "op", op, "conflict", kind, "attempt", i+1, "delay", delay)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return fmt.Errorf("%s: %w", op, ctx.Err())
		}
	}
	return err
}
