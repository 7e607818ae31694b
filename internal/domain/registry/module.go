package registry

import (
	"context"
	"log/slog"

	"go.uber.org/fx"

	"github.com/campusnotice/notice-delivery-service/config"
)

var Module = fx.Module("registry",
	fx.Provide(
		// [CLEAN_INJECTION] Configure Hub using Functional Options
		func(cfg *config.Config, logger *slog.Logger) *Hub {
			return NewHub(
				WithNotifyBuffer(cfg.Delivery.NotifyBuffer),
				WithLogger(logger.With("component", "presence")),
			)
		},
		fx.Annotate(
			func(h *Hub) Hubber { return h },
			fx.As(new(Hubber)),
		),
	),
	fx.Invoke(func(lc fx.Lifecycle, h *Hub) {
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				h.Shutdown() // [GRACEFUL_SHUTDOWN] Close every live connection
				return nil
			},
		})
	}),
)
