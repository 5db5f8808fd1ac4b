package execution

import (
	"context"
	"time"
)

const (
	// maxAttempts bounds order placement retries.
	maxAttempts = 3
	// retryDelay is the fixed pause between attempts.
	retryDelay = 500 * time.Millisecond
)

// withRetry runs op up to maxAttempts times with a fixed delay between
// attempts, returning the last error on exhaustion. Context cancellation
// stops the loop immediately.
func withRetry(ctx context.Context, op func() error) error {
	var err error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err = op(); err == nil {
			return nil
		}
		if attempt == maxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(retryDelay):
		}
	}
	return err
}
