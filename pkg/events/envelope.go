// Package events relays gateway bus events to a RabbitMQ topic exchange.
package events

import (
	"time"

	"github.com/google/uuid"

	"wxreply/pkg/bus"
)

// RoutingPrefix starts every routing key; the event type follows it.
const RoutingPrefix = "wxreply."

type Meta struct {
	ID            string    `json:"id"`
	Type          string    `json:"type"`
	At            time.Time `json:"at"`
	CorrelationID string    `json:"correlation_id,omitempty"`
}

// Envelope is the JSON body published for each event.
type Envelope struct {
	Meta Meta      `json:"meta"`
	Data bus.Event `json:"data"`
}

// RoutingKey returns the topic routing key for an event type.
func RoutingKey(eventType bus.EventType) string {
	return RoutingPrefix + string(eventType)
}

// FromBusEvent wraps event with a fresh id. The correlation id is the HTTP request id, or the
// platform message id when the event did not come from a request.
func FromBusEvent(event bus.Event) Envelope {
	at := event.At
	if at.IsZero() {
		at = time.Now().UTC()
	}

	correlationID := event.RequestID
	if correlationID == "" {
		correlationID = event.MsgID
	}

	return Envelope{
		Meta: Meta{
			ID:            uuid.NewString(),
			Type:          string(event.Type),
			At:            at,
			CorrelationID: correlationID,
		},
		Data: event,
	}
}
