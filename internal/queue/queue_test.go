package queue

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func stopQueue(t *testing.T, q *Queue) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, q.Stop(ctx))
}

func TestEnqueueBeforeStartIsBuffered(t *testing.T) {
	q := New("test", Options{Workers: 1, Capacity: 4})

	var ran atomic.Int32
	require.NoError(t, q.Enqueue(func(ctx context.Context) { ran.Add(1) }))
	require.NoError(t, q.Enqueue(func(ctx context.Context) { ran.Add(1) }))
	assert.Equal(t, 2, q.Len())
	assert.Equal(t, int32(0), ran.Load())

	q.Start(context.Background())
	defer stopQueue(t, q)

	assert.Eventually(t, func() bool { return ran.Load() == 2 }, time.Second, 5*time.Millisecond)
}

func TestSingleWorkerRunsSequentially(t *testing.T) {
	q := New("serial", Options{Workers: 1, Capacity: 16})
	q.Start(context.Background())
	defer stopQueue(t, q)

	var active, maxActive atomic.Int32
	var mu sync.Mutex
	var order []int

	for i := 0; i < 5; i++ {
		i := i
		require.NoError(t, q.Enqueue(func(ctx context.Context) {
			n := active.Add(1)
			if n > maxActive.Load() {
				maxActive.Store(n)
			}
			time.Sleep(5 * time.Millisecond)
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			active.Add(-1)
		}))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, q.Drain(ctx))

	assert.Equal(t, int32(1), maxActive.Load())
	assert.Equal(t, []int{0, 1, 2, 3, 4}, order)
}

func TestEnqueueFull(t *testing.T) {
	q := New("full", Options{Workers: 1, Capacity: 1})
	require.NoError(t, q.Enqueue(func(ctx context.Context) {}))
	assert.ErrorIs(t, q.Enqueue(func(ctx context.Context) {}), ErrQueueFull)
	stopQueue(t, q)
}

func TestEnqueueAfterStopIsRejected(t *testing.T) {
	q := New("closed", Options{})
	q.Start(context.Background())
	stopQueue(t, q)

	assert.ErrorIs(t, q.Enqueue(func(ctx context.Context) {}), ErrQueueClosed)
	assert.ErrorIs(t, q.EnqueueAfter(time.Millisecond, func(ctx context.Context) {}), ErrQueueClosed)
}

func TestEnqueueAfterDoesNotBlockWorker(t *testing.T) {
	q := New("delayed", Options{Workers: 1, Capacity: 8})
	q.Start(context.Background())
	defer stopQueue(t, q)

	delayedRan := make(chan time.Time, 1)
	immediateRan := make(chan time.Time, 1)

	start := time.Now()
	require.NoError(t, q.EnqueueAfter(100*time.Millisecond, func(ctx context.Context) {
		delayedRan <- time.Now()
	}))
	assert.Equal(t, 1, q.Pending())
	require.NoError(t, q.Enqueue(func(ctx context.Context) {
		immediateRan <- time.Now()
	}))

	select {
	case at := <-immediateRan:
		assert.Less(t, at.Sub(start), 100*time.Millisecond)
	case <-time.After(time.Second):
		t.Fatal("immediate task did not run")
	}

	select {
	case at := <-delayedRan:
		assert.GreaterOrEqual(t, at.Sub(start), 100*time.Millisecond)
	case <-time.After(2 * time.Second):
		t.Fatal("delayed task did not run")
	}
	assert.Equal(t, 0, q.Pending())
}

func TestStopCancelsDelayedTasks(t *testing.T) {
	q := New("cancel", Options{})
	q.Start(context.Background())

	var ran atomic.Bool
	require.NoError(t, q.EnqueueAfter(50*time.Millisecond, func(ctx context.Context) { ran.Store(true) }))
	stopQueue(t, q)

	time.Sleep(100 * time.Millisecond)
	assert.False(t, ran.Load())
	assert.Equal(t, 0, q.Pending())
}

func TestStopWaitsForInFlight(t *testing.T) {
	q := New("wait", Options{Workers: 2})
	q.Start(context.Background())

	var finished atomic.Int32
	for i := 0; i < 2; i++ {
		require.NoError(t, q.Enqueue(func(ctx context.Context) {
			time.Sleep(30 * time.Millisecond)
			finished.Add(1)
		}))
	}
	stopQueue(t, q)
	assert.Equal(t, int32(2), finished.Load())
}

func TestStopTimeoutCancelsTaskContext(t *testing.T) {
	q := New("timeout", Options{})
	q.Start(context.Background())

	started := make(chan struct{})
	cancelled := make(chan struct{})
	require.NoError(t, q.Enqueue(func(ctx context.Context) {
		close(started)
		<-ctx.Done()
		close(cancelled)
	}))
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, q.Stop(ctx), context.DeadlineExceeded)

	select {
	case <-cancelled:
	case <-time.After(time.Second):
		t.Fatal("task context was not cancelled")
	}
}

func TestPanicIsRecovered(t *testing.T) {
	q := New("panic", Options{})
	q.Start(context.Background())
	defer stopQueue(t, q)

	var after atomic.Bool
	require.NoError(t, q.Enqueue(func(ctx context.Context) { panic("boom") }))
	require.NoError(t, q.Enqueue(func(ctx context.Context) { after.Store(true) }))

	assert.Eventually(t, after.Load, time.Second, 5*time.Millisecond)
	assert.Equal(t, int64(1), q.Panics())
}

func TestDrainWaitsForDelayed(t *testing.T) {
	q := New("drain", Options{})
	q.Start(context.Background())
	defer stopQueue(t, q)

	var ran atomic.Bool
	require.NoError(t, q.EnqueueAfter(30*time.Millisecond, func(ctx context.Context) { ran.Store(true) }))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, q.Drain(ctx))
	assert.True(t, ran.Load())
}
