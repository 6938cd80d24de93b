package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestCall_SyncWhenNotRunning(t *testing.T) {
	w := New(nil)
	h := w.Call(context.Background(), func(ctx context.Context) (any, error) {
		return 42, nil
	})
	require.True(t, h.Done())
	res, err := h.Result()
	require.NoError(t, err)
	require.Equal(t, 42, res)
}

func TestCall_AsyncWhenRunning(t *testing.T) {
	w := New(nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w.Start(ctx)
	defer w.Stop()

	h := w.Call(ctx, func(ctx context.Context) (any, error) {
		return "hi", nil
	})
	h.Wait()
	res, err := h.Result()
	require.NoError(t, err)
	require.Equal(t, "hi", res)
}

func TestCall_FIFOOrdering(t *testing.T) {
	w := New(nil, WithDrainMax(1))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w.Start(ctx)
	defer w.Stop()

	var order []int
	done := make(chan struct{})
	for i := 0; i < 5; i++ {
		i := i
		h := w.Call(ctx, func(ctx context.Context) (any, error) {
			order = append(order, i)
			return nil, nil
		})
		if i == 4 {
			h.OnComplete(func(any, error) { close(done) })
		}
	}
	<-done
	require.Equal(t, []int{0, 1, 2, 3, 4}, order)
}

func TestCall_RetryUntilTimeout(t *testing.T) {
	w := New(nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w.Start(ctx)
	defer w.Stop()

	attempts := 0
	retryable := func(err error) bool { return errors.Is(err, errNotYet) }
	h := w.Call(ctx, func(ctx context.Context) (any, error) {
		attempts++
		if attempts < 3 {
			return nil, errNotYet
		}
		return attempts, nil
	}, WithRetry(retryable, time.Second))

	h.Wait()
	res, err := h.Result()
	require.NoError(t, err)
	require.Equal(t, 3, res)
}

var errNotYet = errors.New("not yet")

func TestBatch_CommitTransfersAtomically(t *testing.T) {
	w := New(nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w.Start(ctx)
	defer w.Stop()

	b := NewBatch(w)
	var h1, h2 *Handle
	h1 = b.Call(func(ctx context.Context) (any, error) { return 1, nil })
	h2 = b.Call(func(ctx context.Context) (any, error) { return 2, nil })

	require.False(t, h1.Done())
	require.Equal(t, 0, w.QueueLen())

	require.NoError(t, b.Commit())

	h1.Wait()
	h2.Wait()
	r1, _ := h1.Result()
	r2, _ := h2.Result()
	require.Equal(t, 1, r1)
	require.Equal(t, 2, r2)
}

func TestBatch_AbortSkipsCommit(t *testing.T) {
	w := New(nil)
	b := NewBatch(w)

	failErr := errors.New("boom")
	h1 := b.Call(func(ctx context.Context) (any, error) { return nil, failErr })
	b.abort(failErr)
	h2 := b.Call(func(ctx context.Context) (any, error) { return "never", nil })

	require.Error(t, b.Commit())
	require.Equal(t, 0, w.QueueLen())

	_, err2 := h2.Result()
	require.Error(t, err2)
	_ = h1
}
