package rest

import (
	"log/slog"

	"go.uber.org/fx"

	"github.com/campusnotice/notice-delivery-service/config"
	"github.com/campusnotice/notice-delivery-service/internal/handler/lp"
	"github.com/campusnotice/notice-delivery-service/internal/handler/ws"
	"github.com/campusnotice/notice-delivery-service/internal/service"
)

var Module = fx.Module("http",
	fx.Provide(
		NewAPI,
		func(sessions service.Sessioner, notices service.Noticer, cfg *config.Config, logger *slog.Logger) *ws.WSHandler {
			return ws.NewWSHandler(logger.With("component", "ws"), sessions, notices, ws.Config{
				PingInterval:   cfg.Delivery.PingInterval,
				PongWait:       cfg.Delivery.PongWait,
				WriteWait:      cfg.Delivery.WriteWait,
				MaxMessageSize: cfg.Delivery.MaxMessageSize,
				SendTimeout:    cfg.Delivery.SendTimeout,
			})
		},
		func(sessions service.Sessioner, cfg *config.Config, logger *slog.Logger) *lp.LPHandler {
			return lp.NewLPHandler(sessions, cfg.HTTP.PollTimeout, logger.With("component", "lp"))
		},
		func(api *API, live *ws.WSHandler, poll *lp.LPHandler, cfg *config.Config, logger *slog.Logger) *Server {
			router := NewRouter(api, live, poll, cfg.HTTP.AllowedOrigins, logger.With("component", "http"))
			return NewServer(router, ServerConfig{
				Addr:              cfg.HTTP.Addr,
				ReadHeaderTimeout: cfg.HTTP.ReadHeaderTimeout,
				ShutdownTimeout:   cfg.HTTP.ShutdownTimeout,
				AllowedOrigins:    cfg.HTTP.AllowedOrigins,
			}, logger.With("component", "http"))
		},
	),
	fx.Invoke(func(lc fx.Lifecycle, s *Server) {
		lc.Append(fx.Hook{
			OnStart: s.Start,
			OnStop:  s.Stop,
		})
	}),
)
