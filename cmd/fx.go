package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/coreos/go-systemd/v22/daemon"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/fx"

	"github.com/campusnotice/notice-delivery-service/config"
	"github.com/campusnotice/notice-delivery-service/internal/adapter/pubsub"
	"github.com/campusnotice/notice-delivery-service/internal/adapter/push"
	storedi "github.com/campusnotice/notice-delivery-service/internal/adapter/store/di"
	"github.com/campusnotice/notice-delivery-service/internal/domain/registry"
	amqpdi "github.com/campusnotice/notice-delivery-service/internal/handler/amqp"
	"github.com/campusnotice/notice-delivery-service/internal/handler/rest"
	"github.com/campusnotice/notice-delivery-service/internal/service"
)

func NewApp(cfg *config.Config) *fx.App {
	return fx.New(
		fx.Provide(
			func() *config.Config { return cfg },
			ProvideLogger,
			ProvideWatermillLogger,
			ProvidePubSub,
			ProvideEventDispatcher,
		),
		fx.Invoke(ProvideTracing),
		storedi.Module,
		push.Module,
		registry.Module,
		service.Module,
		service.Decorators,
		rest.Module,
		amqpdi.Module,
		fx.Invoke(NotifySystemd),
	)
}

// ProvideLogger builds the process logger. The level follows config reloads.
func ProvideLogger(cfg *config.Config) *slog.Logger {
	level := new(slog.LevelVar)
	level.Set(parseLevel(cfg.Log.Level))

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler = slog.NewJSONHandler(os.Stdout, opts)
	if cfg.Log.Format == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	logger := slog.New(handler).With(
		"service", ServiceName,
		"instance", cfg.Service.ID,
		"version", version,
	)
	slog.SetDefault(logger)

	cfg.OnReload(func(next *config.Config) {
		if lvl := parseLevel(next.Log.Level); lvl != level.Level() {
			level.Set(lvl)
			logger.Info("LOG_LEVEL_CHANGED", "level", lvl.String())
		}
	})
	return logger
}

func parseLevel(s string) slog.Level {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.ToUpper(s))); err != nil {
		return slog.LevelInfo
	}
	return lvl
}

func ProvideWatermillLogger(logger *slog.Logger) watermill.LoggerAdapter {
	return watermill.NewSlogLogger(logger.With("component", "watermill"))
}

// ProvidePubSub connects to RabbitMQ when configured and falls back to an
// in-process bus otherwise.
func ProvidePubSub(lc fx.Lifecycle, cfg *config.Config, wlog watermill.LoggerAdapter, logger *slog.Logger) (*pubsub.Bus, error) {
	var (
		bus *pubsub.Bus
		err error
	)
	if cfg.PubSub.AMQPURL != "" {
		bus, err = pubsub.NewAMQPBus(cfg.PubSub.AMQPURL, wlog)
		if err != nil {
			return nil, err
		}
		logger.Info("BUS_READY", "transport", "amqp")
	} else {
		bus = pubsub.NewInProcessBus(wlog)
		logger.Info("BUS_READY", "transport", "in-process")
	}

	lc.Append(fx.Hook{
		OnStop: func(context.Context) error { return bus.Close() },
	})
	return bus, nil
}

func ProvideEventDispatcher(bus *pubsub.Bus, logger *slog.Logger) pubsub.EventDispatcher {
	return pubsub.NewEventDispatcher(bus, logger.With("component", "dispatcher"))
}

// ProvideTracing installs the global tracer provider. With tracing disabled
// nothing is sampled and no exporter is started.
func ProvideTracing(lc fx.Lifecycle, cfg *config.Config, logger *slog.Logger) error {
	res, err := resource.Merge(resource.Default(), resource.NewSchemaless(
		attribute.String("service.name", ServiceName),
		attribute.String("service.namespace", ServiceNamespace),
		attribute.String("service.instance.id", cfg.Service.ID),
		attribute.String("service.version", version),
	))
	if err != nil {
		return err
	}

	opts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.NeverSample()),
	}
	if cfg.Tracing.Enabled {
		exporter, err := newSpanExporter(context.Background(), cfg.Tracing)
		if err != nil {
			return fmt.Errorf("tracing exporter: %w", err)
		}
		opts = append(opts,
			sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.Tracing.SampleRatio))),
			sdktrace.WithBatcher(exporter),
		)
		logger.Info("TRACING_ENABLED",
			"exporter", cfg.Tracing.Exporter,
			"endpoint", cfg.Tracing.Endpoint,
			"sample_ratio", cfg.Tracing.SampleRatio,
		)
	}
	tp := sdktrace.NewTracerProvider(opts...)
	otel.SetTracerProvider(tp)

	lc.Append(fx.Hook{
		// Shutdown flushes the batcher before the exporter closes.
		OnStop: tp.Shutdown,
	})
	return nil
}

func newSpanExporter(ctx context.Context, cfg config.TracingConfig) (sdktrace.SpanExporter, error) {
	switch cfg.Exporter {
	case "stdout":
		return stdouttrace.New(stdouttrace.WithWriter(os.Stderr))
	default:
		var opts []otlptracehttp.Option
		if cfg.Endpoint != "" {
			opts = append(opts, otlptracehttp.WithEndpointURL(cfg.Endpoint))
		}
		return otlptracehttp.New(ctx, opts...)
	}
}

// NotifySystemd reports readiness once every start hook has run.
// Outside systemd both notifications are no-ops.
func NotifySystemd(lc fx.Lifecycle, logger *slog.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			if ok, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
				logger.Warn("SD_NOTIFY_FAILED", "err", err)
			} else if ok {
				logger.Info("SD_NOTIFY_READY")
			}
			return nil
		},
		OnStop: func(context.Context) error {
			_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)
			return nil
		},
	})
}
