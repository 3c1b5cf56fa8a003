package executor

import (
	"context"
	"time"
)

// WithRetry calls fn up to attempts times (attempts <= 1 means "try once,
// no retry"), sleeping 2^n seconds between failures, grounded on the
// teacher's node retry loop but generalized across all four executor kinds
// rather than duplicated per node type (§4.3).
func WithRetry(ctx context.Context, attempts int, fn func(ctx context.Context) error) error {
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(1<<uint(attempt-1)) * time.Second
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		if err := fn(ctx); err != nil {
			lastErr = err
			continue
		}
		return nil
	}
	return lastErr
}
