package alerts

import (
	"context"
	"errors"
	"time"
)

const (
	maxAttempts      = 3
	retryBackoffBase = 250 * time.Millisecond
)

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }

func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks an error so the delivery loop stops retrying it.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

func isPermanent(err error) bool {
	var pe *permanentError
	return errors.As(err, &pe)
}

// notifyWithRetry drives a sink through up to maxAttempts deliveries with
// doubling backoff, stopping early on success, a permanent error, or context
// cancellation.
func notifyWithRetry(ctx context.Context, sink Sink, n Notification) error {
	var lastErr error
	delay := retryBackoffBase
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		lastErr = sink.Notify(ctx, n)
		if lastErr == nil {
			return nil
		}
		if isPermanent(lastErr) || attempt == maxAttempts {
			return lastErr
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
	return lastErr
}
