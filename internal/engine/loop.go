package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// ErrLoopStopped is returned by loop drivers once Stop has been called.
var ErrLoopStopped = errors.New("engine: loop stopped")

// Loop is the cooperative scheduler for deferred dispatches.
//
// Thread-safety model:
//   - Post(), After(), Stop(), PendingTimers(): safe from any goroutine
//   - Run(), RunPending(), RunUntilIdle(): drive the loop; use one driver
//     goroutine at a time
//
// INVARIANTS:
//   - Tasks run one at a time, in FIFO order of enqueueing
//   - A timer that fires only enqueues its task; it never runs it
//   - After Stop, no task runs and no timer enqueues
type Loop struct {
	queue     *taskQueue
	timerFunc TimerFunc
	logger    *slog.Logger

	// mu guards timers, nextID and stopped. Timer firing holds mu across
	// the enqueue so idle() sees "timer pending" or "task queued", never
	// neither in between.
	mu      sync.Mutex
	timers  map[uint64]Timer
	nextID  uint64
	stopped bool
}

// LoopOption allows configuration of loop parameters.
type LoopOption func(*Loop)

// WithTimerFunc sets the timer source.
//
// Default: RealTimers (time.AfterFunc)
// Use testutil.ManualTimers for deterministic tests.
func WithTimerFunc(f TimerFunc) LoopOption {
	return func(l *Loop) {
		l.timerFunc = f
	}
}

// WithLoopLogger sets the logger for task failures and lifecycle events.
func WithLoopLogger(logger *slog.Logger) LoopOption {
	return func(l *Loop) {
		l.logger = logger
	}
}

// NewLoop creates an empty loop. Nothing runs until a driver
// (Run, RunPending or RunUntilIdle) is called.
func NewLoop(opts ...LoopOption) *Loop {
	l := &Loop{
		queue:     newTaskQueue(),
		timerFunc: RealTimers,
		logger:    slog.Default(),
		timers:    make(map[uint64]Timer),
	}

	for _, opt := range opts {
		opt(l)
	}

	return l
}

// Logger returns the loop's logger, for tasks that report their own
// failures.
func (l *Loop) Logger() *slog.Logger {
	return l.logger
}

// Post enqueues a task to run on the loop goroutine.
// Returns false if the loop has been stopped.
func (l *Loop) Post(task Task) bool {
	return l.queue.Enqueue(task)
}

// After schedules task to be enqueued once d has elapsed.
//
// The returned cancel function stops the timer; it reports whether the task
// was still pending. On a stopped loop the task is dropped and cancel
// always returns false.
func (l *Loop) After(d time.Duration, task Task) (cancel func() bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.stopped {
		l.logger.Debug("loop stopped, dropping delayed task", "delay", d)
		return func() bool { return false }
	}

	l.nextID++
	id := l.nextID
	l.timers[id] = l.timerFunc(d, func() { l.fire(id, task) })

	return func() bool {
		l.mu.Lock()
		t, ok := l.timers[id]
		if ok {
			delete(l.timers, id)
		}
		l.mu.Unlock()

		if !ok {
			return false
		}
		return t.Stop()
	}
}

// fire moves a due task from the timer set onto the queue.
func (l *Loop) fire(id uint64, task Task) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.timers[id]; !ok {
		// Cancelled or stopped while the timer was in flight
		return
	}
	delete(l.timers, id)

	if !l.queue.Enqueue(task) {
		l.logger.Debug("loop closed, dropping fired task", "timer_id", id)
	}
}

// PendingTimers returns the number of scheduled tasks whose delay has not
// elapsed yet.
func (l *Loop) PendingTimers() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.timers)
}

// QueueLen returns the number of tasks ready to run.
func (l *Loop) QueueLen() int {
	return l.queue.Len()
}

// idle reports whether no task is queued and no timer is pending.
func (l *Loop) idle() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.timers) == 0 && l.queue.Len() == 0
}

// Run drives the loop until ctx is cancelled or Stop is called.
//
// ERROR HANDLING: A task that panics is recovered and logged with the
// panic value; processing continues with the next task.
func (l *Loop) Run(ctx context.Context) error {
	l.logger.Info("loop starting")

	for {
		if task, ok := l.queue.TryDequeue(); ok {
			l.execute(ctx, task)
			continue
		}

		select {
		case <-ctx.Done():
			l.logger.Info("loop stopping: context cancelled")
			l.Stop()
			return ctx.Err()

		case <-l.queue.Wait():
			// The signal channel closes when the queue is closed,
			// which makes this case fire immediately
			if l.queue.Closed() {
				l.logger.Info("loop stopping: stopped")
				return nil
			}
		}
	}
}

// RunPending synchronously runs queued tasks until the queue is empty,
// including tasks enqueued by the tasks it runs. It does not wait for
// pending timers. Returns the number of tasks executed.
func (l *Loop) RunPending(ctx context.Context) int {
	n := 0
	for {
		if ctx.Err() != nil {
			return n
		}
		task, ok := l.queue.TryDequeue()
		if !ok {
			return n
		}
		l.execute(ctx, task)
		n++
	}
}

// RunUntilIdle drives the loop until there is nothing queued and no timer
// pending, the context is cancelled, or the loop is stopped.
func (l *Loop) RunUntilIdle(ctx context.Context) error {
	for {
		l.RunPending(ctx)
		if err := ctx.Err(); err != nil {
			return err
		}
		if l.queue.Closed() {
			return ErrLoopStopped
		}
		if l.idle() {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-l.queue.Wait():
		}
	}
}

// Stop cancels every pending timer and closes the queue.
// Queued tasks that have not started are dropped. Stop is idempotent.
func (l *Loop) Stop() {
	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		return
	}
	l.stopped = true
	cancelled := len(l.timers)
	for id, t := range l.timers {
		t.Stop()
		delete(l.timers, id)
	}
	l.mu.Unlock()

	l.queue.Close()
	l.logger.Debug("loop stopped", "cancelled_timers", cancelled)
}

// execute runs one task, isolating panics.
func (l *Loop) execute(ctx context.Context, task Task) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("task panicked",
				"error", fmt.Sprint(r),
				"event", "task_panic",
			)
		}
	}()
	task(ctx)
}
