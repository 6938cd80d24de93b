// Package worker implements the long-lived cooperative worker primitive
// described in the control-plane design: a goroutine that alternates one
// step of a caller-supplied "load" with draining a bounded number of
// queued async method calls, FIFO, per worker.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrNotRunning names the state of a worker that is not running. No
// function in this package returns it: Call runs the function synchronously
// on the caller's goroutine when the worker is not running.
var ErrNotRunning = errors.New("worker: not running")

// StepFunc performs one cooperative slice of the worker's background load.
// It must return promptly so the worker can service its request queue; a
// long-poll or blocking I/O call belongs here but must respect ctx.
type StepFunc func(ctx context.Context) error

// call is one queued (method, result-handle) pair.
type call struct {
	fn             func(ctx context.Context) (any, error)
	handle         *Handle
	raiseImmediate bool
	retryable      func(error) bool
	retryDeadline  time.Time
	enqueuedAt     time.Time
	batch          *Batch
}

// Worker is a single-goroutine cooperative task with a private FIFO queue.
type Worker struct {
	step       StepFunc
	drainMax   int
	pollEvery  time.Duration

	mu      sync.Mutex
	queue   []*call
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// Option configures a Worker at construction time.
type Option func(*Worker)

// WithDrainMax bounds how many queued requests are serviced between load steps.
func WithDrainMax(n int) Option {
	return func(w *Worker) { w.drainMax = n }
}

// WithPollInterval sets how long the worker loop sleeps, watching the stop
// flag, before each queue drain when the step function is nil (pure
// request-servicing workers, e.g. the event-processor instances of §4.2).
func WithPollInterval(d time.Duration) Option {
	return func(w *Worker) { w.pollEvery = d }
}

// New creates a Worker around an optional cooperative step function.
// A nil step is valid: the worker then does nothing but service its queue,
// which is how attached event-processor instances are driven.
func New(step StepFunc, opts ...Option) *Worker {
	w := &Worker{
		step:      step,
		drainMax:  16,
		pollEvery: 200 * time.Millisecond,
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}
	for _, o := range opts {
		o(w)
	}
	return w
}

// Running reports whether the worker's goroutine is currently servicing
// its queue. Call() consults this to decide sync-vs-async dispatch.
func (w *Worker) Running() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

// Start launches the worker loop in its own goroutine. Calling Start twice
// on an already-running worker is a no-op.
func (w *Worker) Start(ctx context.Context) {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return
	}
	w.running = true
	w.stopCh = make(chan struct{})
	w.doneCh = make(chan struct{})
	w.mu.Unlock()

	go w.loop(ctx)
}

// Stop flags the worker's cooperative loop to exit at its next yield point
// and waits for it to actually stop.
func (w *Worker) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	stopCh := w.stopCh
	done := w.doneCh
	w.mu.Unlock()

	select {
	case <-stopCh:
	default:
		close(stopCh)
	}
	<-done
}

func (w *Worker) loop(ctx context.Context) {
	defer func() {
		w.mu.Lock()
		w.running = false
		close(w.doneCh)
		w.mu.Unlock()
	}()

	for {
		select {
		case <-w.stopCh:
			return
		case <-ctx.Done():
			return
		default:
		}

		if w.step != nil {
			if err := w.step(ctx); err != nil {
				// The load reports failure but the worker stays alive — per
				// §5, only an explicit stop flag ends the loop; a failing
				// load is the caller's concern via its own error channel.
				_ = err
			}
		} else {
			// No background load: sleep briefly so Stop() is observed promptly
			// even with an empty queue.
			select {
			case <-w.stopCh:
				return
			case <-time.After(w.pollEvery):
			}
		}

		w.drainQueue(ctx)
	}
}

func (w *Worker) drainQueue(ctx context.Context) {
	for i := 0; i < w.drainMax; i++ {
		w.mu.Lock()
		if len(w.queue) == 0 {
			w.mu.Unlock()
			return
		}
		c := w.queue[0]
		w.queue = w.queue[1:]
		w.mu.Unlock()

		w.execute(ctx, c)
	}
}

func (w *Worker) execute(ctx context.Context, c *call) {
	if c.batch != nil {
		if aborted, abortErr := c.batch.check(); aborted {
			c.handle.complete(nil, fmt.Errorf("worker: batch aborted: %w", abortErr))
			return
		}
	}

	res, err := c.fn(ctx)
	if err != nil && c.retryable != nil && c.retryable(err) && time.Now().Before(c.retryDeadline) {
		w.mu.Lock()
		w.queue = append(w.queue, c)
		w.mu.Unlock()
		return
	}
	if err != nil && c.raiseImmediate && c.batch != nil {
		c.batch.abort(err)
	}
	c.handle.complete(res, err)
}

// CallOption configures one enqueued call.
type CallOption func(*call)

// WithRetry marks errors matching pred for re-enqueue until deadline elapses,
// realizing the §4.1 "re-enqueued for retry ... until a timeout elapses" rule.
func WithRetry(pred func(error) bool, window time.Duration) CallOption {
	return func(c *call) {
		c.retryable = pred
		c.retryDeadline = time.Now().Add(window)
	}
}

// WithRaiseImmediate flags the call so that, inside a batch, a failure
// aborts the batch and its later calls complete with a batch-aborted error.
// The failure itself is still only stashed on the Handle for Result(); it
// is not raised on the worker goroutine, and outside a batch the flag has
// no effect.
func WithRaiseImmediate() CallOption {
	return func(c *call) { c.raiseImmediate = true }
}

// Call is the async-method-call contract: if the worker is running the call
// is enqueued and a Handle returned immediately; otherwise it runs
// synchronously on the caller's goroutine (per §4.1).
func (w *Worker) Call(ctx context.Context, fn func(ctx context.Context) (any, error), opts ...CallOption) *Handle {
	c := &call{fn: fn, handle: newHandle(), enqueuedAt: time.Now()}
	for _, o := range opts {
		o(c)
	}

	if !w.Running() {
		res, err := fn(ctx)
		c.handle.complete(res, err)
		return c.handle
	}

	w.mu.Lock()
	w.queue = append(w.queue, c)
	w.mu.Unlock()
	return c.handle
}

// enqueueRaw transfers an already-built call directly into the queue,
// preserving FIFO order; used by Batch.Commit to move a whole batch under
// a single lock acquisition.
func (w *Worker) enqueueRaw(calls []*call) {
	w.mu.Lock()
	w.queue = append(w.queue, calls...)
	w.mu.Unlock()
}

// QueueLen reports the current backlog size. Useful for tests and metrics,
// never for control flow (no busy-polling on size per §9's design notes).
func (w *Worker) QueueLen() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.queue)
}
