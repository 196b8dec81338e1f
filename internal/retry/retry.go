// Package retry runs external calls a bounded number of times.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// DefaultAttempts and DefaultBackoff give one retry after a short pause.
const (
	DefaultAttempts = 2
	DefaultBackoff  = 300 * time.Millisecond
)

type permanentError struct{ err error }

func (p permanentError) Error() string { return p.err.Error() }
func (p permanentError) Unwrap() error { return p.err }

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var p permanentError
	return errors.As(err, &p)
}

// Do calls fn until it succeeds, returns a permanent error, or attempts run
// out. The wait doubles after every failure.
func Do(ctx context.Context, attempts int, backoff time.Duration, fn func(context.Context) error) error {
	if attempts <= 0 {
		attempts = DefaultAttempts
	}
	if backoff < 0 {
		backoff = 0
	}

	var lastErr error
	for i := 1; i <= attempts; i++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		var p permanentError
		if errors.As(err, &p) {
			return p.err
		}
		lastErr = err
		if i == attempts {
			break
		}

		timer := time.NewTimer(backoff << (i - 1))
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("retry: cancelled after %d attempts: %w", i, errors.Join(lastErr, ctx.Err()))
		case <-timer.C:
		}
	}
	return fmt.Errorf("retry: %d attempts: %w", attempts, lastErr)
}
