package eventbus

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/google/uuid"
)

// WatermillTopic is the single topic every bus event is republished to for
// external, read-only consumption (the GUI/detail-viewer bridge).
const WatermillTopic = "lance.bus.events"

// ExternalTap republishes every bus event onto an in-process watermill
// GoChannel pub/sub so an external, read-only consumer (internal/guibridge)
// can tail the bus without being wired into the dispatcher's internal
// Processor/AutoHandler machinery. It never feeds events back in — the
// GUI is a "mere consumer of the event bus" per spec, not a producer.
type ExternalTap struct {
	pub    *gochannel.GoChannel
	logger *slog.Logger
}

// NewExternalTap constructs the tap around a fresh in-memory pub/sub.
func NewExternalTap(logger *slog.Logger) *ExternalTap {
	gc := gochannel.NewGoChannel(gochannel.Config{
		OutputChannelBuffer: 256,
	}, watermill.NewSlogLogger(logger))
	return &ExternalTap{pub: gc, logger: logger}
}

// Subscribe returns a channel of externally-published messages for a new
// consumer (one per GUI bridge connection).
func (t *ExternalTap) Subscribe(ctx context.Context) (<-chan *message.Message, error) {
	return t.pub.Subscribe(ctx, WatermillTopic)
}

// ExpectedEvent always matches: the tap mirrors the entire bus.
func (t *ExternalTap) ExpectedEvent(ev Event) bool { return true }

// AddEvent marshals ev to JSON and republishes it for external consumers.
// This runs synchronously (the tap has no background load of its own) but
// the publish is a non-blocking channel fan-out internally to gochannel.
func (t *ExternalTap) AddEvent(ev Event) {
	payload, err := json.Marshal(struct {
		Kind string `json:"kind"`
		Data Event  `json:"data"`
	}{Kind: ev.Kind(), Data: ev})
	if err != nil {
		t.logger.Error("eventbus: failed to marshal event for external tap", "err", err, "kind", ev.Kind())
		return
	}
	// the message ID is a correlation id a GUI consumer (or a trace span,
	// see internal/guibridge) can log alongside the event kind — a plain
	// UUID, not anything watermill-transport-specific.
	msg := message.NewMessage(uuid.NewString(), payload)
	if err := t.pub.Publish(WatermillTopic, msg); err != nil {
		t.logger.Warn("eventbus: external tap publish failed", "err", err)
	}
}

func (t *ExternalTap) Start(ctx context.Context) {}
func (t *ExternalTap) Alive() bool               { return true }

// Close releases the underlying pub/sub resources.
func (t *ExternalTap) Close() error {
	return t.pub.Close()
}
