package eventbus

import (
	"context"

	"github.com/pedohorse/lance/internal/worker"
)

// Processor is a running event consumer attached to the dispatcher, either
// because it was explicitly attached or because an AutoHandler spawned it
// in response to a matching event.
type Processor interface {
	// ExpectedEvent reports whether ev should be delivered to this instance.
	ExpectedEvent(ev Event) bool
	// AddEvent delivers ev. Implementations must not block the dispatcher —
	// BaseProcessor satisfies this by routing through its own worker queue.
	AddEvent(ev Event)
	// Start launches the processor's own goroutine.
	Start(ctx context.Context)
	// Alive reports whether the processor's goroutine is still running;
	// dead processors are pruned by the dispatcher every cycle.
	Alive() bool
}

// AutoHandler is registered by type (class, in the source's terms); for
// every event on the bus the dispatcher asks each registered AutoHandler
// whether it wants to spawn a fresh Processor instance to own that event
// going forward.
type AutoHandler interface {
	// InitEvent reports whether ev should spawn a new Processor.
	InitEvent(ev Event) bool
	// New creates the Processor instance that will own ev's event onward.
	New(ev Event) Processor
}

// BaseProcessor gives concrete processors the "delivery never blocks the
// dispatcher" property for free: AddEvent enqueues onto the processor's
// private worker, which drains its queue cooperatively on its own
// goroutine, exactly as §4.2 requires ("delivery to an instance always
// goes through that instance's own worker queue").
type BaseProcessor struct {
	w       *worker.Worker
	handle  func(ctx context.Context, ev Event)
	removed chan struct{}
}

// NewBaseProcessor wraps handle as the per-event callback invoked on the
// processor's own goroutine. step, if non-nil, is the processor's
// cooperative background load (most processors have none and pass nil).
func NewBaseProcessor(step worker.StepFunc, handle func(ctx context.Context, ev Event)) *BaseProcessor {
	return &BaseProcessor{
		w:       worker.New(step),
		handle:  handle,
		removed: make(chan struct{}),
	}
}

func (p *BaseProcessor) Start(ctx context.Context) {
	p.w.Start(ctx)
}

func (p *BaseProcessor) Alive() bool {
	return p.w.Running()
}

func (p *BaseProcessor) AddEvent(ev Event) {
	p.w.Call(context.Background(), func(ctx context.Context) (any, error) {
		p.handle(ctx, ev)
		return nil, nil
	})
}

// Stop ends the processor's goroutine; the dispatcher prunes it from the
// attached list on the next cycle once Alive() reports false.
func (p *BaseProcessor) Stop() {
	p.w.Stop()
}

// Worker exposes the underlying worker so embedding processors can issue
// their own async calls (e.g. a project manager's public operations)
// through the same queue that serializes event delivery.
func (p *BaseProcessor) Worker() *worker.Worker {
	return p.w
}
