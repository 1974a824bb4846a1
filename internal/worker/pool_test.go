package worker

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sleepTask(d time.Duration, fail bool, executed *int32) Task[error] {
	return func(ctx context.Context) error {
		if executed != nil {
			atomic.AddInt32(executed, 1)
		}
		if d > 0 {
			select {
			case <-time.After(d):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		if fail {
			return errors.New("task error")
		}
		return nil
	}
}

func TestNewPool_WorkerDefaults(t *testing.T) {
	ctx := context.Background()
	assert.Equal(t, 5, NewPool[error](ctx, 5).Workers())
	assert.Equal(t, 1, NewPool[error](ctx, 0).Workers())
	assert.Equal(t, 1, NewPool[error](ctx, -1).Workers())
}

func TestPool_Execution(t *testing.T) {
	pool := NewPool[error](context.Background(), 2)
	pool.Start()

	var executed int32
	const count = 10
	for i := 0; i < count; i++ {
		require.True(t, pool.Submit(sleepTask(0, false, &executed)))
	}

	results := pool.Wait()

	assert.Len(t, results, count)
	assert.Equal(t, int32(count), atomic.LoadInt32(&executed))
	for _, err := range results {
		assert.NoError(t, err)
	}
}

func TestPool_ErrorsAreResults(t *testing.T) {
	pool := NewPool[error](context.Background(), 3)
	pool.Start()

	pool.Submit(sleepTask(0, true, nil))
	pool.Submit(sleepTask(0, false, nil))
	pool.Submit(sleepTask(0, true, nil))

	failed := 0
	for _, err := range pool.Wait() {
		if err != nil {
			failed++
		}
	}
	assert.Equal(t, 2, failed)
}

func TestPool_RunsConcurrently(t *testing.T) {
	pool := NewPool[error](context.Background(), 4)
	pool.Start()

	start := time.Now()
	for i := 0; i < 4; i++ {
		pool.Submit(sleepTask(50*time.Millisecond, false, nil))
	}
	pool.Wait()

	assert.Less(t, time.Since(start), 180*time.Millisecond)
}

func TestPool_ParentCancelStopsSubmit(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	pool := NewPool[error](ctx, 1)
	pool.Start()
	cancel()

	// Give workers a moment to observe cancellation
	time.Sleep(10 * time.Millisecond)
	assert.False(t, pool.Submit(sleepTask(0, false, nil)))
	pool.Shutdown()
}

func TestPool_Shutdown(t *testing.T) {
	pool := NewPool[error](context.Background(), 2)
	pool.Start()

	pool.Submit(sleepTask(time.Second, false, nil))
	pool.Submit(sleepTask(time.Second, false, nil))

	done := make(chan struct{})
	go func() {
		pool.Shutdown()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(500 * time.Millisecond):
		t.Fatal("shutdown did not cancel running tasks")
	}
}
