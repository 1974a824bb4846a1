package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func stubSleep(t *testing.T) *[]time.Duration {
	t.Helper()
	var slept []time.Duration
	orig := retrySleep
	retrySleep = func(ctx context.Context, d time.Duration) error {
		slept = append(slept, d)
		return ctx.Err()
	}
	t.Cleanup(func() { retrySleep = orig })
	return &slept
}

func TestRetry_SucceedsAfterTransientFailures(t *testing.T) {
	slept := stubSleep(t)

	calls := 0
	n, err := Retry(context.Background(), RetryPolicy{Attempts: 3, BaseDelay: time.Second}, func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("503")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, *slept)
}

func TestRetry_Exhausted(t *testing.T) {
	stubSleep(t)
	boom := errors.New("registry down")

	n, err := Retry(context.Background(), RetryPolicy{Attempts: 3}, func(ctx context.Context) error {
		return boom
	})

	assert.Equal(t, 3, n)
	assert.ErrorIs(t, err, ErrExhausted)
	assert.ErrorIs(t, err, boom)
}

func TestRetry_PermanentStopsImmediately(t *testing.T) {
	stubSleep(t)
	notFound := errors.New("404")

	calls := 0
	n, err := Retry(context.Background(), RetryPolicy{Attempts: 5}, func(ctx context.Context) error {
		calls++
		return Permanent(notFound)
	})

	assert.Equal(t, 1, calls)
	assert.Equal(t, 1, n)
	assert.ErrorIs(t, err, notFound)
	assert.NotErrorIs(t, err, ErrExhausted)
}

func TestRetry_PerAttemptTimeout(t *testing.T) {
	stubSleep(t)

	n, err := Retry(context.Background(), RetryPolicy{Attempts: 2, Timeout: 10 * time.Millisecond}, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})

	assert.Equal(t, 2, n)
	assert.ErrorIs(t, err, ErrExhausted)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRetry_ParentCancelled(t *testing.T) {
	stubSleep(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	_, err := Retry(ctx, RetryPolicy{Attempts: 3}, func(ctx context.Context) error {
		calls++
		return nil
	})

	assert.Equal(t, 0, calls)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRetry_ZeroAttemptsRunsOnce(t *testing.T) {
	calls := 0
	n, err := Retry(context.Background(), RetryPolicy{}, func(ctx context.Context) error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 1, calls)
}
