package amqp

import (
	"context"
	"log/slog"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/campusnotice/notice-delivery-service/internal/adapter/pubsub"
)

var tracer = otel.Tracer("notice-delivery-service/amqp")

// [TRACE_ID_MIDDLEWARE]
// Producers may set trace_id; otherwise one is minted here. The id travels in
// the context so receipt events published while handling carry it too.
func TraceIDMiddleware(h message.HandlerFunc) message.HandlerFunc {
	return func(msg *message.Message) ([]*message.Message, error) {
		traceID := msg.Metadata.Get("trace_id")
		if traceID == "" {
			traceID = uuid.NewString()
			msg.Metadata.Set("trace_id", traceID)
		}

		ctx, span := tracer.Start(msg.Context(), "amqp."+message.HandlerNameFromCtx(msg.Context()),
			trace.WithSpanKind(trace.SpanKindConsumer),
			trace.WithAttributes(
				attribute.String("messaging.message.id", msg.UUID),
				attribute.String("notice.trace_id", traceID),
			))
		defer span.End()

		msg.SetContext(context.WithValue(ctx, pubsub.TraceIDKey, traceID))

		msgs, err := h(msg)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		return msgs, err
	}
}

// [LOGGING_MIDDLEWARE]
// Every attempt is logged; failed ones at warn so retries are visible.
func LoggingMiddleware(logger *slog.Logger) message.HandlerMiddleware {
	return func(h message.HandlerFunc) message.HandlerFunc {
		return func(msg *message.Message) ([]*message.Message, error) {
			start := time.Now()
			msgs, err := h(msg)

			attrs := []any{
				"msg_id", msg.UUID,
				"handler", message.HandlerNameFromCtx(msg.Context()),
				"topic", message.SubscribeTopicFromCtx(msg.Context()),
				"trace_id", msg.Metadata.Get("trace_id"),
				"duration_ms", time.Since(start).Milliseconds(),
			}
			if err != nil {
				logger.Warn("MESSAGE_FAILED", append(attrs, "err", err)...)
			} else {
				logger.Debug("MESSAGE_HANDLED", attrs...)
			}
			return msgs, err
		}
	}
}

// [RETRY_MIDDLEWARE]
// Runs inside the poison queue: a message is poisoned only after the last retry.
func NewRetryMiddleware(logger *slog.Logger) middleware.Retry {
	return middleware.Retry{
		MaxRetries:      3,
		InitialInterval: 2 * time.Second,
		MaxInterval:     15 * time.Second,
		Multiplier:      2.0,
		OnRetryHook: func(retryNum int, delay time.Duration) {
			logger.Warn("MESSAGE_RETRY", "attempt", retryNum, "delay", delay)
		},
	}
}
