package amqp

import (
	"context"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill/message"
	"go.uber.org/fx"

	"github.com/campusnotice/notice-delivery-service/config"
	"github.com/campusnotice/notice-delivery-service/internal/adapter/pubsub"
	"github.com/campusnotice/notice-delivery-service/internal/service"
)

var Module = fx.Module("amqp-handler",
	fx.Provide(
		func(notices service.Noticer, d pubsub.EventDispatcher, cfg *config.Config, logger *slog.Logger) *NoticeHandler {
			return NewNoticeHandler(notices, d, RouterConfig{
				QueueSuffix: cfg.PubSub.QueueSuffix,
			}, logger.With("component", "amqp"))
		},
		NewWatermillRouter,
	),

	fx.Invoke(
		func(h *NoticeHandler, router *message.Router, bus *pubsub.Bus) error {
			return h.RegisterHandlers(router, bus)
		},
		func(lc fx.Lifecycle, router *message.Router, logger *slog.Logger) {
			lc.Append(fx.Hook{
				OnStart: func(ctx context.Context) error {
					go func() {
						if err := router.Run(context.Background()); err != nil {
							logger.Error("AMQP_ROUTER_STOPPED", "err", err)
						}
					}()
					select {
					case <-router.Running():
						return nil
					case <-ctx.Done():
						return ctx.Err()
					}
				},
				OnStop: func(context.Context) error {
					return router.Close()
				},
			})
		},
	),
)
