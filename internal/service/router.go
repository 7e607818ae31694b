package service

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/campusnotice/notice-delivery-service/internal/adapter/push"
	"github.com/campusnotice/notice-delivery-service/internal/domain/event"
	"github.com/campusnotice/notice-delivery-service/internal/domain/model"
	"github.com/campusnotice/notice-delivery-service/internal/domain/registry"
	"github.com/campusnotice/notice-delivery-service/internal/domain/topic"
)

// Router fans one message out over both delivery paths.
//
// [PATHS]
//  1. Live: every recipient present in the presence snapshot gets the payload
//     on its connection. A send succeeds once the transport has written the
//     frame; a failed or unconfirmed send is counted and not retried.
//  2. Push: one provider call per distinct (primary, secondary) topic, made
//     regardless of who is online. Recipients that are both online and
//     subscribed may see the notice twice; clients dedupe by message id.
//
// Both paths run concurrently and neither can fail the other. The router
// reports what happened and never touches the receipt ledger.
type Router struct {
	hub    registry.Hubber
	push   push.Provider
	tracer trace.Tracer
	logger *slog.Logger
	config RouterConfig
}

type RouterConfig struct {
	// SendTimeout bounds one live enqueue, ConfirmTimeout the wait for the
	// transport to write it.
	SendTimeout    time.Duration
	ConfirmTimeout time.Duration
	// CallTimeout bounds one push call, Budget the whole push fan-out.
	CallTimeout time.Duration
	Budget      time.Duration
	// Parallelism caps concurrent calls per path.
	Parallelism int
}

func NewRouter(hub registry.Hubber, provider push.Provider, cfg RouterConfig, logger *slog.Logger) *Router {
	if cfg.Parallelism <= 0 {
		cfg.Parallelism = 16
	}
	if cfg.ConfirmTimeout <= 0 {
		cfg.ConfirmTimeout = 5 * time.Second
	}
	return &Router{
		hub:    hub,
		push:   provider,
		tracer: otel.Tracer("notice-delivery-service/router"),
		logger: logger,
		config: cfg,
	}
}

// Route delivers msg to the resolved audience.
func (r *Router) Route(ctx context.Context, msg *model.Message, audience []model.Recipient) model.RoutingOutcome {
	ctx, span := r.tracer.Start(ctx, "router.route",
		trace.WithAttributes(
			attribute.String("message.id", msg.ID),
			attribute.Int("audience.size", len(audience)),
		))
	defer span.End()

	out := model.RoutingOutcome{Total: len(audience)}
	if len(audience) == 0 {
		return out
	}

	// [SNAPSHOT] Presence is read once; no lock is held during I/O.
	online := r.hub.Snapshot()
	var present []presentRecipient
	for _, rc := range audience {
		if conn, ok := online[rc.ID]; ok {
			present = append(present, presentRecipient{id: rc.ID, conn: conn})
		}
	}
	out.Offline = len(audience) - len(present)

	var (
		live   liveResult
		topics []model.TopicResult
	)
	g := new(errgroup.Group)
	g.Go(func() error {
		live = r.routeLive(ctx, msg, present)
		return nil
	})
	g.Go(func() error {
		topics = r.routePush(ctx, msg)
		return nil
	})
	_ = g.Wait()

	out.LiveDelivered = len(live.delivered)
	out.LiveFailed = live.failed
	out.DeliveredLive = live.delivered
	out.Offline += live.failed
	out.Topics = topics
	out.PushTopics = len(topics)
	for _, t := range topics {
		if !t.Success {
			out.PushFailed++
		}
	}

	span.SetAttributes(
		attribute.Int("live.delivered", out.LiveDelivered),
		attribute.Int("live.failed", out.LiveFailed),
		attribute.Int("push.failed", out.PushFailed),
	)
	r.logger.Info("NOTICE_ROUTED",
		"message_id", msg.ID,
		"total", out.Total,
		"live_delivered", out.LiveDelivered,
		"live_failed", out.LiveFailed,
		"offline", out.Offline,
		"push_topics", out.PushTopics,
		"push_failed", out.PushFailed,
	)
	return out
}

type presentRecipient struct {
	id   string
	conn registry.Connector
}

type liveResult struct {
	delivered []string
	failed    int
}

func (r *Router) routeLive(ctx context.Context, msg *model.Message, present []presentRecipient) liveResult {
	var (
		res liveResult
		mu  sync.Mutex
	)
	if len(present) == 0 {
		return res
	}

	// One event instance is shared so its wire form is encoded once.
	ev := event.NewNoticeV1Event(msg)

	confirmCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.config.ConfirmTimeout)
	defer cancel()

	g := new(errgroup.Group)
	g.SetLimit(r.config.Parallelism)
	for _, p := range present {
		g.Go(func() error {
			err := p.conn.Deliver(confirmCtx, ev, r.config.SendTimeout)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				res.failed++
				r.logger.Warn("LIVE_SEND_FAILED",
					"message_id", msg.ID,
					"recipient_id", p.id,
					"conn_id", p.conn.GetID(),
					"err", err,
				)
				return nil
			}
			res.delivered = append(res.delivered, p.id)
			return nil
		})
	}
	_ = g.Wait()
	return res
}

func (r *Router) routePush(ctx context.Context, msg *model.Message) []model.TopicResult {
	pairs := topic.Pairs(msg.Target)
	results := make([]model.TopicResult, len(pairs))
	if len(pairs) == 0 {
		return results
	}

	payload := model.NewPushPayload(msg)
	budgetCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.config.Budget)
	defer cancel()

	g := new(errgroup.Group)
	g.SetLimit(r.config.Parallelism)
	for i, pair := range pairs {
		name := topic.ForGroup(pair)
		g.Go(func() error {
			callCtx, cancelCall := context.WithTimeout(budgetCtx, r.config.CallTimeout)
			defer cancelCall()

			err := r.push.SendToTopic(callCtx, name, payload)
			results[i] = model.TopicResult{Topic: name, Success: err == nil}
			if err != nil {
				results[i].Error = err.Error()
				// Only an unconfigured provider is quiet. An open breaker is worth a warning.
				level := slog.LevelWarn
				if errors.Is(err, model.ErrProviderUnavailable) && !errors.Is(err, push.ErrBreakerOpen) {
					level = slog.LevelDebug
				}
				r.logger.Log(callCtx, level, "PUSH_TOPIC_FAILED",
					"message_id", msg.ID,
					"topic", name,
					"err", err,
				)
			}
			return nil
		})
	}
	_ = g.Wait()
	return results
}
