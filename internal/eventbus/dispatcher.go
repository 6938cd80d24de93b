package eventbus

import (
	"context"
	"log/slog"
	"sync"
)

// Dispatcher is the bus's single consumer goroutine. It implements the
// exact six-step loop from §4.2:
//  1. wait for the next event
//  2. drain the remove queue of finished processors
//  3. prune dead processors
//  4. deliver to each attached processor whose ExpectedEvent matches
//  5. spawn and start any auto-handler matches
//  6. process the add queue (deferred external attachments)
type Dispatcher struct {
	logger *slog.Logger
	queue  *fifo

	mu           sync.Mutex
	attached     []Processor
	autoHandlers []AutoHandler

	removeCh chan Processor
	addCh    chan Processor

	stopCh chan struct{}
	doneCh chan struct{}
}

// New creates a Dispatcher. Call Run to start its single consumer goroutine.
func New(logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		logger:   logger,
		queue:    newFIFO(),
		removeCh: make(chan Processor, 64),
		addCh:    make(chan Processor, 64),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Publish enqueues ev for delivery. Safe to call from any goroutine.
func (d *Dispatcher) Publish(ev Event) {
	d.queue.push(ev)
}

// RegisterAutoHandler registers a handler "by type": every future event is
// offered to it via InitEvent, and each acceptance spawns a fresh Processor.
func (d *Dispatcher) RegisterAutoHandler(h AutoHandler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.autoHandlers = append(d.autoHandlers, h)
}

// Attach queues an already-constructed Processor instance for addition on
// the dispatcher's next loop iteration (step 6: "process the add queue").
func (d *Dispatcher) Attach(p Processor) {
	d.addCh <- p
}

// Detach schedules p for removal from the attached list (step 2).
func (d *Dispatcher) Detach(p Processor) {
	d.removeCh <- p
}

// Run drives the dispatcher loop until ctx is cancelled or Stop is called.
// It is meant to be run in its own goroutine by the owning Server.
func (d *Dispatcher) Run(ctx context.Context) {
	defer close(d.doneCh)

	go func() {
		select {
		case <-ctx.Done():
			d.queue.close()
		case <-d.stopCh:
			d.queue.close()
		}
	}()

	for {
		ev, ok := d.queue.pop()
		if !ok {
			return
		}

		// step 2: drain remove queue
		d.drainRemoveQueue()

		// step 3: prune dead processors
		d.pruneDead()

		// step 4: deliver to attached processors
		d.mu.Lock()
		attached := append([]Processor(nil), d.attached...)
		autoHandlers := append([]AutoHandler(nil), d.autoHandlers...)
		d.mu.Unlock()

		for _, p := range attached {
			if p.ExpectedEvent(ev) {
				p.AddEvent(ev)
			}
		}

		// step 5: spawn and start auto-handler matches
		for _, h := range autoHandlers {
			if !h.InitEvent(ev) {
				continue
			}
			np := d.spawn(h, ev)
			if np == nil {
				continue
			}
			d.mu.Lock()
			d.attached = append(d.attached, np)
			d.mu.Unlock()
			np.Start(ctx)
		}

		// step 6: process add queue
		d.drainAddQueue()
	}
}

func (d *Dispatcher) spawn(h AutoHandler, ev Event) (p Processor) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("eventbus: auto-handler panicked creating processor", "panic", r, "event", ev.Kind())
			p = nil
		}
	}()
	return h.New(ev)
}

func (d *Dispatcher) drainRemoveQueue() {
	for {
		select {
		case p := <-d.removeCh:
			d.mu.Lock()
			for i, cur := range d.attached {
				if cur == p {
					d.attached = append(d.attached[:i], d.attached[i+1:]...)
					break
				}
			}
			d.mu.Unlock()
		default:
			return
		}
	}
}

func (d *Dispatcher) drainAddQueue() {
	for {
		select {
		case p := <-d.addCh:
			d.mu.Lock()
			d.attached = append(d.attached, p)
			d.mu.Unlock()
		default:
			return
		}
	}
}

func (d *Dispatcher) pruneDead() {
	d.mu.Lock()
	defer d.mu.Unlock()
	alive := d.attached[:0:0]
	for _, p := range d.attached {
		if p.Alive() {
			alive = append(alive, p)
		}
	}
	d.attached = alive
}

// Stop signals Run to exit; it does not wait for attached processors to
// stop (callers own their lifecycle separately — see BaseProcessor.Stop).
func (d *Dispatcher) Stop() {
	select {
	case <-d.stopCh:
	default:
		close(d.stopCh)
	}
	<-d.doneCh
}
