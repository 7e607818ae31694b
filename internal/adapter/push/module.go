package push

import (
	"context"
	"log/slog"

	"go.uber.org/fx"

	"github.com/campusnotice/notice-delivery-service/config"
)

var Module = fx.Module("push",
	fx.Provide(
		func(cfg *config.Config, logger *slog.Logger) Provider {
			log := logger.With("component", "push")

			var backend Provider = Unavailable{}
			if cfg.Push.Provider == "firebase" {
				fb, err := NewFirebase(context.Background(), FirebaseOptions{
					ProjectID:       cfg.Push.ProjectID,
					CredentialsFile: cfg.Push.CredentialsFile,
					CredentialsJSON: cfg.Push.CredentialsJSON,
				})
				if err != nil {
					// [DEGRADED_MODE] Live delivery keeps working without push.
					log.Error("PUSH_PROVIDER_INIT_FAILED", slog.Any("err", err))
				} else {
					backend = fb
				}
			}
			log.Info("PUSH_PROVIDER_READY",
				slog.String("provider", cfg.Push.Provider),
				slog.Bool("available", backend.Available()))

			return NewGuard(backend, GuardOptions{
				CallTimeout:     cfg.Push.CallTimeout,
				RatePerSecond:   cfg.Push.RatePerSecond,
				Burst:           cfg.Push.Burst,
				BreakerFailures: cfg.Push.BreakerFailures,
				BreakerTimeout:  cfg.Push.BreakerTimeout,
			}, log)
		},
	),
)
