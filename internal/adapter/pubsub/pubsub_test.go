package pubsub

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/stretchr/testify/require"

	"github.com/campusnotice/notice-delivery-service/internal/domain/model"
)

func TestDispatcher_PublishReceiptDelivered(t *testing.T) {
	req := require.New(t)
	bus := NewInProcessBus(watermill.NopLogger{})
	t.Cleanup(func() { _ = bus.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// Given: a consumer on the receipt topic
	sub, err := bus.Subscriber("test")
	req.NoError(err)
	msgs, err := sub.Subscribe(ctx, model.RoutingKeyReceiptDelivered)
	req.NoError(err)

	// When
	d := NewEventDispatcher(bus, slog.New(slog.NewTextHandler(io.Discard, nil)))
	at := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	pubCtx := context.WithValue(ctx, TraceIDKey, "trace-1")
	req.NoError(d.Publish(pubCtx, model.NewReceiptDeliveredEvent("m-1", "s1", model.AckRecipient, at)))

	// Then
	select {
	case msg := <-msgs:
		msg.Ack()
		req.Equal(model.RoutingKeyReceiptDelivered, msg.Metadata.Get("routing_key"))
		req.Equal("trace-1", msg.Metadata.Get("trace_id"))

		var got struct {
			Source  string                        `json:"source"`
			Payload model.ReceiptDeliveredPayload `json:"payload"`
		}
		req.NoError(json.Unmarshal(msg.Payload, &got))
		req.Equal(model.EventSource, got.Source)
		req.Equal("m-1", got.Payload.MessageID)
		req.Equal(model.AckRecipient, got.Payload.Source)
	case <-ctx.Done():
		t.Fatal("receipt event was not delivered")
	}
}

func TestDispatcher_RejectsNil(t *testing.T) {
	bus := NewInProcessBus(watermill.NopLogger{})
	t.Cleanup(func() { _ = bus.Close() })

	d := NewEventDispatcher(bus, slog.Default())
	require.Error(t, d.Publish(context.Background(), nil))
}
