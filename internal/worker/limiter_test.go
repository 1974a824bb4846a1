package worker

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLimiter_New(t *testing.T) {
	assert.Equal(t, 5, NewLimiter(10, 5).defaultBurst)
	assert.Equal(t, 5, NewLimiter(10, -1).defaultBurst)
}

func TestLimiter_KeysAreIndependent(t *testing.T) {
	limiter := NewLimiter(0.001, 1)

	assert.True(t, limiter.get("gleif").Allow())
	assert.False(t, limiter.get("gleif").Allow())
	assert.True(t, limiter.get("static").Allow())
}

func TestLimiter_WaitURLUsesHost(t *testing.T) {
	limiter := NewLimiter(0.001, 1)
	ctx := context.Background()

	require.NoError(t, limiter.WaitURL(ctx, "https://api.gleif.org/api/v1/lei-records/X"))
	assert.False(t, limiter.get("api.gleif.org").Allow())

	_, err := hostOf("://bad")
	assert.Error(t, err)
}

func TestLimiter_WaitRespectsContext(t *testing.T) {
	limiter := NewLimiter(0.001, 1)
	require.True(t, limiter.get("k").Allow())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	assert.Error(t, limiter.Wait(ctx, "k"))
}

func TestLimiter_SetRate(t *testing.T) {
	limiter := NewLimiter(0.001, 1)
	limiter.SetRate("fast", 1000, 10)

	for i := 0; i < 10; i++ {
		assert.True(t, limiter.get("fast").Allow())
	}
}

func TestLimiter_WaitURLWithDelay(t *testing.T) {
	limiter := NewLimiter(0.001, 1)
	limiter.SetRate("example.test:8443", 1000, 1)

	start := time.Now()
	require.NoError(t, limiter.WaitURLWithDelay(context.Background(), "https://example.test:8443/a", 30*time.Millisecond))
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
	assert.Error(t, limiter.WaitURLWithDelay(context.Background(), "://bad", 0))
}

func TestLimiter_WaitWithDelay(t *testing.T) {
	limiter := NewLimiter(100, 1)

	start := time.Now()
	require.NoError(t, limiter.WaitWithDelay(context.Background(), "k", 50*time.Millisecond))
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
}
