package service

import (
	"context"
	"log/slog"

	"go.uber.org/fx"

	"github.com/campusnotice/notice-delivery-service/config"
	"github.com/campusnotice/notice-delivery-service/internal/adapter/push"
	"github.com/campusnotice/notice-delivery-service/internal/adapter/pubsub"
	"github.com/campusnotice/notice-delivery-service/internal/adapter/store"
	"github.com/campusnotice/notice-delivery-service/internal/domain/registry"
)

var Module = fx.Module(
	"service",

	fx.Provide(
		func(hub registry.Hubber, provider push.Provider, cfg *config.Config, logger *slog.Logger) *Router {
			return NewRouter(hub, provider, RouterConfig{
				SendTimeout:    cfg.Delivery.SendTimeout,
				ConfirmTimeout: cfg.Delivery.ConfirmTimeout,
				CallTimeout:    cfg.Push.CallTimeout,
				Budget:         cfg.Push.Budget,
			}, logger.With("component", "router"))
		},
		func(ms store.MessageStore, d pubsub.EventDispatcher, cfg *config.Config, logger *slog.Logger) (*Tracker, error) {
			return NewTracker(ms, d, cfg.Delivery.AckCacheSize, logger.With("component", "tracker"))
		},
		func(hub registry.Hubber, dir store.Directory, cfg *config.Config, logger *slog.Logger) *Observer {
			return NewObserver(hub, dir, cfg.Delivery.SendTimeout, cfg.Observer.RefreshInterval,
				logger.With("component", "observer"))
		},

		// Domain services
		fx.Annotate(
			func(hub registry.Hubber, dir store.Directory, provider push.Provider, o *Observer, cfg *config.Config, logger *slog.Logger) *SessionService {
				return NewSessionService(hub, dir, provider, o, SessionConfig{
					SendBuffer: cfg.Delivery.SendBuffer,
				}, logger.With("component", "session"))
			},
			fx.As(new(Sessioner)),
		),
		fx.Annotate(
			func(dir store.Directory, ms store.MessageStore, r *Router, t *Tracker, o *Observer, provider push.Provider, cfg *config.Config, logger *slog.Logger) *NoticeService {
				return NewNoticeService(dir, ms, r, t, o, provider, NoticeConfig{
					HistoryLimit:      cfg.Delivery.HistoryLimit,
					AdminHistoryLimit: cfg.Delivery.AdminHistoryLimit,
				}, logger.With("component", "notice"))
			},
			fx.As(new(Noticer)),
		),
	),

	fx.Invoke(func(lc fx.Lifecycle, o *Observer) {
		lc.Append(fx.Hook{
			OnStart: o.Start,
			OnStop: func(ctx context.Context) error {
				return o.Stop(ctx)
			},
		})
	}),
)

// Decorators wrap services for every consumer in the app. fx scopes a
// decoration to the module declaring it, so this is applied at the root.
var Decorators = fx.Options(
	// [DECORATION_LAYER] Intercept Noticer to add cross-cutting concerns
	fx.Decorate(func(orig Noticer, logger *slog.Logger) Noticer {
		return NewNoticeMiddleware(orig, logger.With("component", "notice"))
	}),
)
