package events

import (
	"context"
	"log/slog"
	"time"

	"wxreply/pkg/bus"
)

const (
	forwarderBuffer = 256
	publishTimeout  = 5 * time.Second
)

// Forwarder copies every bus event to a Publisher until its context ends.
type Forwarder struct {
	bus       *bus.MessageBus
	publisher Publisher
	log       *slog.Logger
}

func NewForwarder(mb *bus.MessageBus, publisher Publisher, log *slog.Logger) *Forwarder {
	if log == nil {
		log = slog.Default()
	}

	return &Forwarder{
		bus:       mb,
		publisher: publisher,
		log:       log.With("component", "events.forwarder"),
	}
}

// Run blocks until ctx is done or the bus closes. Publish failures are logged and the event is
// dropped.
func (f *Forwarder) Run(ctx context.Context) {
	f.Forward(ctx, f.Subscribe(ctx))
}

// Subscribe opens the bus subscription Forward drains. Splitting the two lets callers
// subscribe before any event can be published.
func (f *Forwarder) Subscribe(ctx context.Context) <-chan bus.Event {
	events, _ := f.bus.SubscribeEvents(ctx, forwarderBuffer)
	return events
}

func (f *Forwarder) Forward(ctx context.Context, events <-chan bus.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-events:
			if !ok {
				return
			}
			f.forward(ctx, event)
		}
	}
}

func (f *Forwarder) forward(ctx context.Context, event bus.Event) {
	msg := FromBusEvent(event)
	key := RoutingKey(event.Type)

	publishCtx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	if err := f.publisher.Publish(publishCtx, key, msg); err != nil {
		f.log.Warn("Event publish failed", "key", key, "event_id", msg.Meta.ID, "error", err)
	}
}
