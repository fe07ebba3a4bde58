package worker

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jlrjr/DragonSync/metric"
)

func TestPool_ProcessesWork(t *testing.T) {
	var processed int64
	pool := NewPool(2, 10, func(_ context.Context, n int) error {
		atomic.AddInt64(&processed, int64(n))
		return nil
	})

	require.NoError(t, pool.Start(context.Background()))

	for i := 1; i <= 5; i++ {
		require.NoError(t, pool.Submit(i))
	}

	require.NoError(t, pool.Stop(time.Second))
	assert.Equal(t, int64(15), atomic.LoadInt64(&processed))

	stats := pool.Stats()
	assert.Equal(t, int64(5), stats.Submitted)
	assert.Equal(t, int64(5), stats.Processed)
	assert.Equal(t, int64(0), stats.Failed)
}

func TestPool_SubmitBeforeStart(t *testing.T) {
	pool := NewPool(1, 1, func(context.Context, int) error { return nil })
	assert.ErrorIs(t, pool.Submit(1), ErrPoolNotStarted)
}

func TestPool_QueueFull(t *testing.T) {
	release := make(chan struct{})
	pool := NewPool(1, 1, func(_ context.Context, _ int) error {
		<-release
		return nil
	})
	require.NoError(t, pool.Start(context.Background()))
	defer func() {
		close(release)
		_ = pool.Stop(time.Second)
	}()

	// First item occupies the worker, second fills the queue
	require.NoError(t, pool.Submit(1))
	// Give the worker time to pick up the first item
	assert.Eventually(t, func() bool {
		return pool.Submit(2) == nil
	}, time.Second, time.Millisecond)

	err := pool.Submit(3)
	assert.ErrorIs(t, err, ErrQueueFull)
	assert.Equal(t, int64(1), pool.Stats().Dropped)
}

func TestPool_CallTimeout(t *testing.T) {
	var sawDeadline atomic.Bool
	pool := NewPool(1, 4, func(ctx context.Context, _ int) error {
		select {
		case <-ctx.Done():
			sawDeadline.Store(true)
			return ctx.Err()
		case <-time.After(5 * time.Second):
			return nil
		}
	}, WithCallTimeout[int](20*time.Millisecond))

	require.NoError(t, pool.Start(context.Background()))
	require.NoError(t, pool.Submit(1))

	assert.Eventually(t, func() bool { return sawDeadline.Load() }, time.Second, 5*time.Millisecond)
	require.NoError(t, pool.Stop(time.Second))
	assert.Equal(t, int64(1), pool.Stats().Failed)
}

func TestPool_FailuresCounted(t *testing.T) {
	pool := NewPool(1, 4, func(context.Context, int) error {
		return errors.New("sink unreachable")
	})
	require.NoError(t, pool.Start(context.Background()))

	require.NoError(t, pool.Submit(1))
	require.NoError(t, pool.Submit(2))
	require.NoError(t, pool.Stop(time.Second))

	stats := pool.Stats()
	assert.Equal(t, int64(2), stats.Processed)
	assert.Equal(t, int64(2), stats.Failed)
}

func TestPool_NilProcessorPanics(t *testing.T) {
	assert.Panics(t, func() {
		NewPool[int](1, 1, nil)
	})
}

func TestPool_DoubleStart(t *testing.T) {
	pool := NewPool(1, 1, func(context.Context, int) error { return nil })
	require.NoError(t, pool.Start(context.Background()))
	assert.ErrorIs(t, pool.Start(context.Background()), ErrPoolAlreadyStarted)
	require.NoError(t, pool.Stop(time.Second))
}

func TestPool_SubmitAfterTimedOutStop(t *testing.T) {
	release := make(chan struct{})
	pool := NewPool(1, 4, func(context.Context, chan struct{}) error {
		<-release
		return nil
	})
	require.NoError(t, pool.Start(context.Background()))
	require.NoError(t, pool.Submit(release))

	// Worker is blocked, so the drain cannot finish in time
	assert.ErrorIs(t, pool.Stop(10*time.Millisecond), ErrStopTimeout)

	// A late submitter must get a clean refusal, not a send on the
	// closed work channel
	assert.NotPanics(t, func() {
		assert.ErrorIs(t, pool.Submit(release), ErrPoolStopped)
	})

	close(release)
}

func TestPool_MetricsRegistered(t *testing.T) {
	registry := metric.NewMetricsRegistry()
	pool := NewPool(1, 4, func(context.Context, int) error { return nil },
		WithMetricsRegistry[int](registry, "dispatch"))
	require.NoError(t, pool.Start(context.Background()))

	require.NoError(t, pool.Submit(1))
	require.Eventually(t, func() bool {
		return pool.Stats().Processed == 1
	}, time.Second, 10*time.Millisecond)
	require.NoError(t, pool.Stop(time.Second))

	families, err := registry.PrometheusRegistry().Gather()
	require.NoError(t, err)

	found := map[string]bool{}
	for _, f := range families {
		found[f.GetName()] = true
	}
	assert.True(t, found["dispatch_submitted_total"])
	assert.True(t, found["dispatch_processed_total"])
	assert.True(t, found["dispatch_queue_depth"])
}
