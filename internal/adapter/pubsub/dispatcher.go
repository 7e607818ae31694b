package pubsub

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/campusnotice/notice-delivery-service/internal/domain/model"
)

// EventDispatcher defines the high-level contract for outgoing events.
// This allows the services to stay agnostic of the transport implementation.
type EventDispatcher interface {
	Publish(ctx context.Context, ev model.OutboundEventer) error
	Publisher() message.Publisher
}

// eventDispatcher is the concrete implementation (private).
type eventDispatcher struct {
	publisher message.Publisher
	logger    *slog.Logger
}

// NewEventDispatcher returns the interface instead of the pointer to the struct.
func NewEventDispatcher(bus *Bus, logger *slog.Logger) EventDispatcher {
	return &eventDispatcher{
		publisher: bus.Publisher(),
		logger:    logger,
	}
}

func (d *eventDispatcher) Publish(ctx context.Context, ev model.OutboundEventer) error {
	if ev == nil {
		return errors.New("event dispatcher: cannot publish nil event")
	}

	payload, err := ev.ToJSON()
	if err != nil {
		return fmt.Errorf("event dispatcher: marshal failure: %w", err)
	}

	msg := message.NewMessage(watermill.NewUUID(), payload)
	msg.Metadata.Set("routing_key", ev.GetRoutingKey())
	if traceID, ok := ctx.Value(TraceIDKey).(string); ok && traceID != "" {
		msg.Metadata.Set("trace_id", traceID)
	}
	msg.SetContext(ctx)

	if err := d.publisher.Publish(ev.GetRoutingKey(), msg); err != nil {
		return fmt.Errorf("event dispatcher: failed to publish to topic %s: %w", ev.GetRoutingKey(), err)
	}

	d.logger.Debug("EVENT_PUBLISHED", "topic", ev.GetRoutingKey(), "msg_id", msg.UUID)
	return nil
}

func (d *eventDispatcher) Publisher() message.Publisher {
	return d.publisher
}

type traceIDKey struct{}

// TraceIDKey carries the trace id of the bus message being handled.
var TraceIDKey = traceIDKey{}
