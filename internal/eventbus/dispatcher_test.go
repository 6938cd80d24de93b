package eventbus

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type testEvent struct{ tag string }

func (e testEvent) Kind() string { return e.tag }

type recordingProcessor struct {
	mu      sync.Mutex
	kinds   []string
	matches func(Event) bool
	alive   bool
}

func (p *recordingProcessor) ExpectedEvent(ev Event) bool {
	if p.matches != nil {
		return p.matches(ev)
	}
	return true
}

func (p *recordingProcessor) AddEvent(ev Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.kinds = append(p.kinds, ev.Kind())
}

func (p *recordingProcessor) Start(ctx context.Context) { p.alive = true }
func (p *recordingProcessor) Alive() bool                { return p.alive }

func (p *recordingProcessor) seen() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.kinds...)
}

func silentLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestDispatcher_AttachedDeliveryFiltered(t *testing.T) {
	d := New(silentLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	p := &recordingProcessor{alive: true, matches: func(ev Event) bool { return ev.Kind() == "wanted" }}
	d.Attach(p)

	go d.Run(ctx)
	defer d.Stop()

	// The add-queue is drained after delivery, so p only joins at the end of
	// the first iteration; this first event flushes it in without reaching it.
	d.Publish(testEvent{"flush"})
	d.Publish(testEvent{"wanted"})
	d.Publish(testEvent{"ignored"})
	d.Publish(testEvent{"wanted"})

	require.Eventually(t, func() bool {
		return len(p.seen()) == 2
	}, time.Second, 5*time.Millisecond)
	require.Equal(t, []string{"wanted", "wanted"}, p.seen())
}

type spawningAutoHandler struct {
	spawned []*recordingProcessor
	mu      sync.Mutex
}

func (h *spawningAutoHandler) InitEvent(ev Event) bool { return ev.Kind() == "init" }
func (h *spawningAutoHandler) New(ev Event) Processor {
	p := &recordingProcessor{}
	h.mu.Lock()
	h.spawned = append(h.spawned, p)
	h.mu.Unlock()
	return p
}

func TestDispatcher_AutoHandlerSpawnsOncePerMatch(t *testing.T) {
	d := New(silentLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h := &spawningAutoHandler{}
	d.RegisterAutoHandler(h)

	go d.Run(ctx)
	defer d.Stop()

	d.Publish(testEvent{"init"})
	d.Publish(testEvent{"other"})
	d.Publish(testEvent{"init"})

	require.Eventually(t, func() bool {
		h.mu.Lock()
		defer h.mu.Unlock()
		return len(h.spawned) == 2
	}, time.Second, 5*time.Millisecond)
}

func TestDispatcher_DeadProcessorsPruned(t *testing.T) {
	d := New(silentLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	p := &recordingProcessor{alive: false}
	d.Attach(p)

	go d.Run(ctx)
	defer d.Stop()

	// First event causes the add-queue to flush p in; second causes pruning
	// to run before delivery, so a dead p never receives anything.
	d.Publish(testEvent{"a"})
	d.Publish(testEvent{"b"})

	require.Eventually(t, func() bool {
		d.mu.Lock()
		defer d.mu.Unlock()
		return len(d.attached) == 0
	}, time.Second, 5*time.Millisecond)
	require.Empty(t, p.seen())
}

func TestDispatcher_DetachRemovesProcessor(t *testing.T) {
	d := New(silentLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	p := &recordingProcessor{alive: true}
	d.Attach(p)
	go d.Run(ctx)
	defer d.Stop()

	// First event flushes p in from the add-queue; p does not receive it.
	d.Publish(testEvent{"flush"})
	d.Publish(testEvent{"a"})
	require.Eventually(t, func() bool { return len(p.seen()) == 1 }, time.Second, 5*time.Millisecond)

	d.Detach(p)
	d.Publish(testEvent{"b"})
	d.Publish(testEvent{"c"})

	require.Eventually(t, func() bool {
		d.mu.Lock()
		defer d.mu.Unlock()
		return len(d.attached) == 0
	}, time.Second, 5*time.Millisecond)
	require.Equal(t, []string{"a"}, p.seen())
}
