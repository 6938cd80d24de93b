package worker

import (
	"context"
	"fmt"
	"sync"
)

// Batch is the scoped "method batch" construct from §4.1: it queues calls
// to a side buffer without executing them, then atomically transfers the
// whole buffer into the target worker's queue under a single lock on
// Commit. Every call queued inside a batch is implicitly raise-immediate,
// so one failure aborts the rest of the batch's effect.
//
// A Batch must not be entered re-entrantly by the same caller against the
// same worker (§5); callers are expected to construct one Batch per logical
// scope and Commit it exactly once.
type Batch struct {
	w        *Worker
	mu       sync.Mutex
	pending  []*call
	aborted  bool
	abortErr error
}

// NewBatch opens a batch scope against w.
func NewBatch(w *Worker) *Batch {
	return &Batch{w: w}
}

// Call queues fn into the batch's side buffer without executing it. If a
// previous call in this batch already failed, Call is a no-op and returns
// an already-failed handle, matching the "failure aborts the batch" rule.
// Every batched call is raise-immediate by default; additional CallOptions
// (e.g. WithRetry) compose on top of that.
func (b *Batch) Call(fn func(ctx context.Context) (any, error), opts ...CallOption) *Handle {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.aborted {
		h := newHandle()
		h.complete(nil, fmt.Errorf("worker: batch aborted: %w", b.abortErr))
		return h
	}

	c := &call{
		fn:             fn,
		handle:         newHandle(),
		raiseImmediate: true,
		batch:          b,
	}
	for _, o := range opts {
		o(c)
	}
	b.pending = append(b.pending, c)
	return c.handle
}

// abort marks the batch as failed so subsequent Call invocations short-circuit
// and any sibling calls already queued on the worker are skipped rather than
// executed once the abort is observed.
func (b *Batch) abort(err error) {
	b.mu.Lock()
	b.aborted = true
	b.abortErr = err
	b.mu.Unlock()
}

// check reports whether the batch has been aborted (by RunImmediate or by a
// raise-immediate queued call failing), and the error that caused it.
func (b *Batch) check() (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.aborted, b.abortErr
}

// Commit atomically transfers every queued call into the worker's request
// queue under a single lock acquisition, then waits for every transferred
// call to finish and returns the first error encountered (if any). If the
// batch was aborted before Commit, nothing is transferred and the abort
// error is returned — the "either exactly one save_st_config cycle or none"
// law depends on Commit only returning once every effect has landed.
func (b *Batch) Commit() error {
	b.mu.Lock()
	if b.aborted {
		err := b.abortErr
		b.mu.Unlock()
		return err
	}
	calls := b.pending
	b.pending = nil
	b.mu.Unlock()

	if len(calls) == 0 {
		return nil
	}

	b.w.enqueueRaw(calls)

	var firstErr error
	for _, c := range calls {
		if _, err := c.handle.Result(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// RunImmediate executes fn synchronously in the calling goroutine as part of
// composing a batch's side effects (e.g. computing the next mutator given
// the result of a previous one), propagating failure into the batch's abort
// state exactly as a raise-immediate queued call would once the worker ran it.
func (b *Batch) RunImmediate(ctx context.Context, fn func(ctx context.Context) (any, error)) (any, error) {
	res, err := fn(ctx)
	if err != nil {
		b.abort(err)
	}
	return res, err
}
