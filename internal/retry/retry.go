// Package retry provides one shared retry loop, used for package download
// (10 attempts) and fastboot command execution (3 attempts). The UART
// mode-entry strategies in internal/uartboot keep their own attempt loops.
package retry

import (
	"context"
	"time"
)

// Do calls fn up to attempts times, waiting backoff between tries (capped at
// maxBackoff, doubling each attempt), stopping early on success or on ctx
// cancellation. It returns the last error if every attempt fails.
func Do(ctx context.Context, attempts int, backoff, maxBackoff time.Duration, fn func(attempt int) error) error {
	var lastErr error
	wait := backoff

	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = fn(attempt)
		if lastErr == nil {
			return nil
		}

		if attempt == attempts {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}

		wait *= 2
		if wait > maxBackoff {
			wait = maxBackoff
		}
	}

	return lastErr
}
