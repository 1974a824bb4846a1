package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ppiankov/credible/internal/model"
)

// ErrExhausted marks an operation that failed on every allowed attempt
var ErrExhausted = errors.New("retries exhausted")

// retrySleep waits between attempts (injectable for tests)
var retrySleep = func(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// RetryPolicy bounds a blocking external call
type RetryPolicy struct {
	Attempts  int
	BaseDelay time.Duration // Doubled after every failed attempt
	Timeout   time.Duration // Per attempt; 0 means no per-attempt deadline
}

// PolicyFrom converts configuration into a RetryPolicy
func PolicyFrom(c model.RetryConfig) RetryPolicy {
	return RetryPolicy{Attempts: c.Attempts, BaseDelay: c.BaseDelay, Timeout: c.Timeout}
}

type permanentError struct{ err error }

func (p *permanentError) Error() string { return p.err.Error() }
func (p *permanentError) Unwrap() error { return p.err }

// Permanent wraps err so Retry returns it without further attempts
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// Retry runs fn until it succeeds, returns a permanent error, the parent
// context ends, or the attempts run out. It returns the number of attempts made.
func Retry(ctx context.Context, p RetryPolicy, fn func(ctx context.Context) error) (int, error) {
	attempts := p.Attempts
	if attempts <= 0 {
		attempts = 1
	}

	var last error
	for attempt := 0; attempt < attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return attempt, err
		}

		last = runAttempt(ctx, p.Timeout, fn)
		if last == nil {
			return attempt + 1, nil
		}

		var perm *permanentError
		if errors.As(last, &perm) {
			return attempt + 1, perm.err
		}
		if err := ctx.Err(); err != nil {
			return attempt + 1, err
		}

		if attempt < attempts-1 {
			backoff := p.BaseDelay * time.Duration(1<<uint(attempt))
			if err := retrySleep(ctx, backoff); err != nil {
				return attempt + 1, err
			}
		}
	}

	return attempts, fmt.Errorf("%w after %d attempts: %w", ErrExhausted, attempts, last)
}

func runAttempt(ctx context.Context, timeout time.Duration, fn func(ctx context.Context) error) error {
	if timeout <= 0 {
		return fn(ctx)
	}
	actx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return fn(actx)
}
