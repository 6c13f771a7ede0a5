package messaging

import (
	"context"
	"fmt"

	"go.uber.org/multierr"

	"subfee/internal/chain"
)

// RoutingKeyPrefix prefixes the identifier of every published event
const RoutingKeyPrefix = "subfee.event."

// EventSink publishes every event of a committed transaction
type EventSink struct {
	publisher Publisher
}

var _ chain.EventSink = (*EventSink)(nil)

// NewEventSink returns a sink publishing through p
func NewEventSink(p Publisher) *EventSink {
	return &EventSink{publisher: p}
}

// RoutingKey returns the routing key of an event identifier
func RoutingKey(identifier string) string {
	return RoutingKeyPrefix + identifier
}

// HandleEvents implements chain.EventSink. Every event is attempted; the
// failures are returned together.
func (s *EventSink) HandleEvents(ctx context.Context, receipt *chain.Receipt) error {
	var errs error
	for _, e := range receipt.Events {
		if err := s.publisher.Publish(ctx, RoutingKey(e.Identifier), e); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", e.Identifier, err))
		}
	}
	return errs
}
