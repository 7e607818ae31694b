package push

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/campusnotice/notice-delivery-service/internal/domain/model"
)

var _ Provider = (*Guard)(nil)

// ErrBreakerOpen marks calls refused without reaching the provider.
var ErrBreakerOpen = errors.New("circuit breaker is open")

// Guard bounds every provider call: a token bucket paces outgoing calls, each
// call gets its own deadline, and a circuit breaker fails fast while the
// provider keeps erroring.
//
// Topic sends and subscriptions trip separate breakers. Subscriptions run on
// every registration and carry stale handles, so they must not be able to
// stop notice fan-out.
type Guard struct {
	next       Provider
	sends      *gobreaker.CircuitBreaker
	subscribes *gobreaker.CircuitBreaker
	limiter    *rate.Limiter
	timeout    time.Duration
	tracer     trace.Tracer
	log        *slog.Logger
}

type GuardOptions struct {
	CallTimeout     time.Duration
	RatePerSecond   float64
	Burst           int
	BreakerFailures uint32
	BreakerTimeout  time.Duration
}

func NewGuard(next Provider, opts GuardOptions, log *slog.Logger) *Guard {
	return &Guard{
		next:       next,
		sends:      newBreaker("push-send", opts, log),
		subscribes: newBreaker("push-subscribe", opts, log),
		limiter:    rate.NewLimiter(rate.Limit(opts.RatePerSecond), opts.Burst),
		timeout:    opts.CallTimeout,
		tracer:     otel.Tracer("notice-delivery-service/push"),
		log:        log,
	}
}

func newBreaker(name string, opts GuardOptions, log *slog.Logger) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    name,
		Timeout: opts.BreakerTimeout,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= opts.BreakerFailures
		},
		// Rejected handles are a verdict on the handles, not on the provider.
		IsSuccessful: func(err error) bool {
			var rejected *RejectedHandlesError
			return err == nil || errors.As(err, &rejected)
		},
		OnStateChange: func(breaker string, from, to gobreaker.State) {
			log.Warn("PUSH_BREAKER_STATE_CHANGED",
				slog.String("breaker", breaker),
				slog.String("from", from.String()),
				slog.String("to", to.String()))
		},
	})
}

// Available is false while topic sends are refused.
func (g *Guard) Available() bool {
	return g.next.Available() && g.sends.State() != gobreaker.StateOpen
}

func (g *Guard) SendToTopic(ctx context.Context, topic string, p model.PushPayload) error {
	ctx, span := g.tracer.Start(ctx, "push.send_to_topic",
		trace.WithAttributes(
			attribute.String("push.topic", topic),
			attribute.String("message.id", p.MessageID),
		))
	defer span.End()

	err := g.call(ctx, g.sends, func(ctx context.Context) error {
		return g.next.SendToTopic(ctx, topic, p)
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

func (g *Guard) Subscribe(ctx context.Context, handles []string, topic string) error {
	ctx, span := g.tracer.Start(ctx, "push.subscribe",
		trace.WithAttributes(
			attribute.String("push.topic", topic),
			attribute.Int("push.handles", len(handles)),
		))
	defer span.End()

	err := g.call(ctx, g.subscribes, func(ctx context.Context) error {
		return g.next.Subscribe(ctx, handles, topic)
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

func (g *Guard) call(ctx context.Context, breaker *gobreaker.CircuitBreaker, fn func(ctx context.Context) error) error {
	if !g.next.Available() {
		return model.ErrProviderUnavailable
	}
	if err := g.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("push rate limit: %w", err)
	}

	_, err := breaker.Execute(func() (any, error) {
		callCtx, cancel := context.WithTimeout(ctx, g.timeout)
		defer cancel()
		return nil, fn(callCtx)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w: %w (%s)", model.ErrProviderUnavailable, ErrBreakerOpen, breaker.Name())
	}
	return err
}
