package amqp

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"

	"github.com/campusnotice/notice-delivery-service/internal/adapter/pubsub"
	"github.com/campusnotice/notice-delivery-service/internal/service"
)

const (
	// ------------------- TOPICS (ROUTING KEYS) -----------------
	TopicNoticeSubmit = "notice.submit.v1"
	TopicReceiptAck   = "notice.receipt.ack.v1"

	// ------------------- POISON --------------------------------
	PoisonTopic = "notice-delivery.incoming.v1.poison"
)

// RouterConfig bounds the inbound pipeline.
type RouterConfig struct {
	QueueSuffix    string
	HandlerTimeout time.Duration
	ThrottlePerSec int64
}

type NoticeHandler struct {
	notices    service.Noticer
	dispatcher pubsub.EventDispatcher
	logger     *slog.Logger
	config     RouterConfig
}

func NewNoticeHandler(notices service.Noticer, dispatcher pubsub.EventDispatcher, cfg RouterConfig, logger *slog.Logger) *NoticeHandler {
	if cfg.HandlerTimeout <= 0 {
		cfg.HandlerTimeout = 30 * time.Second
	}
	if cfg.ThrottlePerSec <= 0 {
		cfg.ThrottlePerSec = 100
	}
	return &NoticeHandler{
		notices:    notices,
		dispatcher: dispatcher,
		logger:     logger,
		config:     cfg,
	}
}

func NewWatermillRouter(logger watermill.LoggerAdapter) (*message.Router, error) {
	return message.NewRouter(message.RouterConfig{CloseTimeout: 15 * time.Second}, logger)
}

// [REGISTRATION_PIPELINE]
// Inbound queues are shared by every node: a submission is stored and routed
// once, by whichever node takes it.
func (h *NoticeHandler) RegisterHandlers(router *message.Router, bus *pubsub.Bus) error {
	poison, err := middleware.PoisonQueue(h.dispatcher.Publisher(), PoisonTopic)
	if err != nil {
		return fmt.Errorf("POISON_SETUP_FAILED: %w", err)
	}

	configs := []struct {
		name    string
		topic   string
		handler message.NoPublishHandlerFunc
	}{
		{"ON_NOTICE_SUBMIT", TopicNoticeSubmit, Bind(h, h.OnNoticeSubmitV1)},
		{"ON_RECEIPT_ACK", TopicReceiptAck, Bind(h, h.OnReceiptAckV1)},
	}

	for _, c := range configs {
		sub, err := bus.Subscriber(h.config.QueueSuffix)
		if err != nil {
			return err
		}

		router.AddConsumerHandler(c.name, c.topic, sub, c.handler).AddMiddleware(
			TraceIDMiddleware,
			LoggingMiddleware(h.logger),
			poison,
			NewRetryMiddleware(h.logger).Middleware,
			middleware.NewThrottle(h.config.ThrottlePerSec, time.Second).Middleware,
			middleware.Timeout(h.config.HandlerTimeout),
		)
	}

	h.logger.Info("AMQP_PIPELINE_READY", "topics", []string{TopicNoticeSubmit, TopicReceiptAck}, "queue_suffix", h.config.QueueSuffix)
	return nil
}
