// Package queue runs background tasks on a fixed pool of in-process workers.
//
// A Queue is built synchronously by New and only starts consuming after
// Start. Tasks enqueued before Start are buffered, never dropped. Delayed
// tasks are held by timers and do not occupy a worker while they wait.
package queue

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/timmy/dreamforge/internal/logger"
)

var (
	// ErrQueueClosed is returned once Stop has been called.
	ErrQueueClosed = errors.New("queue closed")
	// ErrQueueFull is returned when the buffer has no room left.
	ErrQueueFull = errors.New("queue full")
)

const drainPollInterval = 20 * time.Millisecond

// Task is one unit of work. ctx is cancelled when Stop gives up waiting.
type Task func(ctx context.Context)

// Options configures a Queue.
type Options struct {
	// Workers is the number of tasks run concurrently. Defaults to 1.
	Workers int
	// Capacity bounds the number of buffered tasks. Defaults to 256.
	Capacity int
	Logger   *logger.Logger
}

// Queue is an in-process job queue.
type Queue struct {
	name    string
	workers int
	log     *logger.Logger

	mu      sync.Mutex
	tasks   chan Task
	timers  map[*time.Timer]struct{}
	started bool
	closed  bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	inFlight    atomic.Int64
	delayed     atomic.Int64
	outstanding atomic.Int64
	panics      atomic.Int64
}

// New constructs a stopped queue.
func New(name string, opts Options) *Queue {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.Capacity <= 0 {
		opts.Capacity = 256
	}
	log := opts.Logger
	if log == nil {
		log = logger.GetDefault()
	}
	return &Queue{
		name:    name,
		workers: opts.Workers,
		log:     log.WithField(logger.FieldComponent, "queue."+name),
		tasks:   make(chan Task, opts.Capacity),
		timers:  make(map[*time.Timer]struct{}),
	}
}

// Name returns the queue name.
func (q *Queue) Name() string {
	return q.name
}

// Start launches the workers. Calling Start more than once has no effect.
func (q *Queue) Start(ctx context.Context) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.started || q.closed {
		return
	}
	q.started = true

	ctx, q.cancel = context.WithCancel(context.WithoutCancel(ctx))
	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go q.worker(ctx, i)
	}
	q.log.WithFields(logger.Fields{
		"workers":  q.workers,
		"buffered": len(q.tasks),
	}).Info("Queue started")
}

// Enqueue adds a task without blocking.
func (q *Queue) Enqueue(task Task) error {
	if task == nil {
		return fmt.Errorf("queue %s: nil task", q.name)
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.enqueueLocked(task)
}

func (q *Queue) enqueueLocked(task Task) error {
	if q.closed {
		return ErrQueueClosed
	}
	select {
	case q.tasks <- task:
		q.outstanding.Add(1)
		return nil
	default:
		return ErrQueueFull
	}
}

// EnqueueAfter schedules task to be enqueued after delay. The wait does not
// hold a worker. A full queue at fire time drops the task with an error log.
func (q *Queue) EnqueueAfter(delay time.Duration, task Task) error {
	if task == nil {
		return fmt.Errorf("queue %s: nil task", q.name)
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrQueueClosed
	}

	q.delayed.Add(1)
	q.outstanding.Add(1)

	var timer *time.Timer
	timer = time.AfterFunc(delay, func() {
		q.mu.Lock()
		defer q.mu.Unlock()
		if _, ok := q.timers[timer]; !ok {
			return
		}
		delete(q.timers, timer)
		q.delayed.Add(-1)
		if err := q.enqueueLocked(task); err != nil {
			if errors.Is(err, ErrQueueClosed) {
				q.log.Debug("Delayed task fired after stop")
			} else {
				q.log.WithError(err).Error("Dropped delayed task")
			}
		}
		q.outstanding.Add(-1)
	})
	q.timers[timer] = struct{}{}
	return nil
}

func (q *Queue) worker(ctx context.Context, id int) {
	defer q.wg.Done()
	for task := range q.tasks {
		q.run(ctx, id, task)
	}
}

func (q *Queue) run(ctx context.Context, id int, task Task) {
	q.inFlight.Add(1)
	defer func() {
		if r := recover(); r != nil {
			q.panics.Add(1)
			q.log.WithFields(logger.Fields{
				"worker": id,
				"panic":  fmt.Sprint(r),
				"stack":  string(debug.Stack()),
			}).Error("Task panicked")
		}
		q.inFlight.Add(-1)
		q.outstanding.Add(-1)
	}()
	task(ctx)
}

// Stop cancels pending timers, closes intake and waits for queued and
// running tasks to finish. If ctx expires first, the task context is
// cancelled and ctx.Err() is returned. Tasks buffered on a queue that was
// never started are discarded.
func (q *Queue) Stop(ctx context.Context) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	for timer := range q.timers {
		// A timer that already fired is left for its callback to settle.
		if timer.Stop() {
			q.delayed.Add(-1)
			q.outstanding.Add(-1)
			delete(q.timers, timer)
		}
	}
	close(q.tasks)
	started := q.started
	cancel := q.cancel
	q.mu.Unlock()

	if !started {
		dropped := 0
		for range q.tasks {
			dropped++
			q.outstanding.Add(-1)
		}
		if dropped > 0 {
			q.log.WithField(logger.FieldCount, dropped).Warn("Queue stopped before start, tasks discarded")
		}
		return nil
	}

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		cancel()
		q.log.Info("Queue stopped")
		return nil
	case <-ctx.Done():
		cancel()
		return ctx.Err()
	}
}

// Drain blocks until no task is buffered, delayed or running.
func (q *Queue) Drain(ctx context.Context) error {
	ticker := time.NewTicker(drainPollInterval)
	defer ticker.Stop()
	for {
		if q.outstanding.Load() == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Len returns the number of buffered tasks waiting for a worker.
func (q *Queue) Len() int {
	return len(q.tasks)
}

// Pending returns the number of delayed tasks not yet enqueued.
func (q *Queue) Pending() int {
	return int(q.delayed.Load())
}

// InFlight returns the number of tasks currently running.
func (q *Queue) InFlight() int {
	return int(q.inFlight.Load())
}

// Panics returns the number of recovered task panics.
func (q *Queue) Panics() int64 {
	return q.panics.Load()
}
