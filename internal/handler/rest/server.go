package rest

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/campusnotice/notice-delivery-service/internal/handler/lp"
	"github.com/campusnotice/notice-delivery-service/internal/handler/ws"
)

// corsMaxAge is how long, in seconds, browsers may cache a preflight answer.
const corsMaxAge = 300

type ServerConfig struct {
	Addr              string
	ReadHeaderTimeout time.Duration
	ShutdownTimeout   time.Duration
	AllowedOrigins    []string
}

// Server owns the single HTTP listener: REST routes, the websocket endpoint
// and long polling.
type Server struct {
	srv    *http.Server
	logger *slog.Logger
	config ServerConfig
	addr   string
}

// NewRouter assembles every HTTP route of the service.
func NewRouter(api *API, live *ws.WSHandler, poll *lp.LPHandler, origins []string, logger *slog.Logger) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(logger))
	r.Use(middleware.Recoverer)
	r.Use(corsHandler(origins))

	api.Mount(r)
	r.Handle("/ws", live)
	r.Get("/api/poll/{recipientID}", poll.Poll)
	return r
}

func NewServer(handler http.Handler, cfg ServerConfig, logger *slog.Logger) *Server {
	return &Server{
		srv: &http.Server{
			Addr:              cfg.Addr,
			Handler:           handler,
			ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		},
		logger: logger,
		config: cfg,
	}
}

// Start binds the listener synchronously so a busy port fails startup.
func (s *Server) Start(context.Context) error {
	ln, err := net.Listen("tcp", s.config.Addr)
	if err != nil {
		return err
	}
	s.addr = ln.Addr().String()

	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("HTTP_SERVER_FAILED", "addr", s.addr, "err", err)
		}
	}()
	s.logger.Info("HTTP_SERVER_STARTED", "addr", s.addr)
	return nil
}

func (s *Server) Stop(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.config.ShutdownTimeout)
	defer cancel()

	err := s.srv.Shutdown(ctx)
	s.logger.Info("HTTP_SERVER_STOPPED", "addr", s.addr)
	return err
}

// Addr reports the bound address once started.
func (s *Server) Addr() string { return s.addr }

func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			logger.Debug("HTTP_REQUEST",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"request_id", middleware.GetReqID(r.Context()),
				"duration_ms", time.Since(start).Milliseconds(),
			)
		})
	}
}

// corsHandler allows browser clients from the configured origins; "*" allows any.
func corsHandler(origins []string) func(http.Handler) http.Handler {
	return cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", middleware.RequestIDHeader},
		ExposedHeaders: []string{middleware.RequestIDHeader},
		MaxAge:         corsMaxAge,
	})
}
