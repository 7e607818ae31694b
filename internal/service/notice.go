package service

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/campusnotice/notice-delivery-service/internal/adapter/push"
	"github.com/campusnotice/notice-delivery-service/internal/adapter/store"
	"github.com/campusnotice/notice-delivery-service/internal/domain/model"
	"github.com/campusnotice/notice-delivery-service/internal/domain/topic"
)

// [NOTICE_SERVICE] ENTRY POINT FOR SENDERS, RECIPIENT ACKS AND HISTORY
type Noticer interface {
	Submit(ctx context.Context, req SubmitRequest) (model.NoticeOutcome, error)
	Acknowledge(ctx context.Context, messageID, recipientID string, source model.AckSource) (bool, error)
	History(ctx context.Context, recipientID string) ([]model.Message, error)
	AdminHistory(ctx context.Context) ([]model.Message, error)
	RegisterPushHandle(ctx context.Context, recipientID, handle string) (bool, error)
	Presence(ctx context.Context) (*model.PresenceSnapshot, error)
}

// SubmitRequest is a notice as handed in by a sender.
type SubmitRequest struct {
	SenderRole      model.SenderRole `json:"senderRole" validate:"required,oneof=admin student"`
	SenderName      string           `json:"senderName" validate:"required,max=120"`
	Body            string           `json:"body" validate:"required,max=10000"`
	Category        string           `json:"category,omitempty" validate:"max=64"`
	PrimaryGroups   []string         `json:"primaryGroups" validate:"required,min=1,dive,required"`
	SecondaryGroups []string         `json:"secondaryGroups" validate:"required,min=1,dive,required"`
	SubGroup        string           `json:"subGroup,omitempty"`
}

func (r SubmitRequest) Audience() model.Audience {
	return model.Audience{
		Primaries:   r.PrimaryGroups,
		Secondaries: r.SecondaryGroups,
		Sub:         r.SubGroup,
	}.Normalize()
}

type NoticeConfig struct {
	HistoryLimit      int
	AdminHistoryLimit int
}

type NoticeService struct {
	dir      store.Directory
	messages store.MessageStore
	router   *Router
	tracker  *Tracker
	observer *Observer
	push     push.Provider
	validate *validator.Validate
	tracer   trace.Tracer
	logger   *slog.Logger
	config   NoticeConfig
	now      func() time.Time
}

func NewNoticeService(
	dir store.Directory,
	messages store.MessageStore,
	router *Router,
	tracker *Tracker,
	observer *Observer,
	provider push.Provider,
	cfg NoticeConfig,
	logger *slog.Logger,
) *NoticeService {
	return &NoticeService{
		dir:      dir,
		messages: messages,
		router:   router,
		tracker:  tracker,
		observer: observer,
		push:     provider,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		tracer:   otel.Tracer("notice-delivery-service/notice"),
		logger:   logger,
		config:   cfg,
		now:      time.Now,
	}
}

// Submit resolves the audience, records the message with one receipt per
// recipient and routes it. An audience that resolves to nobody is not an
// error: nothing is stored and the outcome says so.
func (s *NoticeService) Submit(ctx context.Context, req SubmitRequest) (model.NoticeOutcome, error) {
	if err := s.validate.Struct(req); err != nil {
		return model.NoticeOutcome{}, fmt.Errorf("%w: %w", model.ErrInvalidRequest, err)
	}
	target := req.Audience()
	if err := target.Validate(); err != nil {
		return model.NoticeOutcome{}, fmt.Errorf("%w: %w", model.ErrInvalidRequest, err)
	}

	ctx, span := s.tracer.Start(ctx, "notice.submit",
		trace.WithAttributes(
			attribute.String("sender.role", string(req.SenderRole)),
			attribute.StringSlice("target.primary", target.Primaries),
			attribute.StringSlice("target.secondary", target.Secondaries),
		))
	defer span.End()

	audience, err := s.dir.FindByGroups(ctx, target.Primaries, target.Secondaries, target.Sub)
	if err != nil {
		return model.NoticeOutcome{}, fmt.Errorf("resolve audience: %w", err)
	}
	if len(audience) == 0 {
		s.logger.Info("NOTICE_AUDIENCE_EMPTY",
			"primary", target.Primaries,
			"secondary", target.Secondaries,
			"sub", target.Sub,
		)
		return model.NoticeOutcome{Empty: true}, nil
	}

	msg := model.NewMessage(req.SenderRole, req.SenderName, req.Body, req.Category, target, audience, s.now())
	if err := s.messages.Create(ctx, msg); err != nil {
		return model.NoticeOutcome{}, err
	}
	span.SetAttributes(attribute.String("message.id", msg.ID))

	// [AUDIENCE_RESOLVED] The admin view follows every send.
	s.observer.Notify()

	out := model.NoticeOutcome{
		MessageID:      msg.ID,
		RoutingOutcome: s.router.Route(ctx, msg, audience),
	}

	// [PROVISIONAL_ACK] A successful live send counts as delivered.
	for _, id := range out.DeliveredLive {
		first, err := s.tracker.MarkDelivered(ctx, msg.ID, id, model.AckLive)
		if err != nil {
			s.logger.Warn("LIVE_RECEIPT_MARK_FAILED", "message_id", msg.ID, "recipient_id", id, "err", err)
			continue
		}
		if first {
			out.ReceiptsMarked++
		}
	}
	return out, nil
}

func (s *NoticeService) Acknowledge(ctx context.Context, messageID, recipientID string, source model.AckSource) (bool, error) {
	if messageID == "" || recipientID == "" {
		return false, fmt.Errorf("%w: message id and recipient id are required", model.ErrInvalidRequest)
	}
	return s.tracker.MarkDelivered(ctx, messageID, recipientID, source)
}

// History returns the newest notices visible to the recipient, oldest first.
// Only the recipient's own receipt is kept on each message.
func (s *NoticeService) History(ctx context.Context, recipientID string) ([]model.Message, error) {
	rec, err := s.dir.FindByIdentity(ctx, recipientID)
	if err != nil {
		return nil, err
	}
	msgs, err := s.messages.ListForAudience(ctx, rec.Primary, rec.Secondary, rec.Sub, s.config.HistoryLimit)
	if err != nil {
		return nil, err
	}

	slices.Reverse(msgs)
	for i := range msgs {
		msgs[i].Receipts = slices.DeleteFunc(msgs[i].Receipts, func(r model.Receipt) bool {
			return r.RecipientID != rec.ID
		})
	}
	return msgs, nil
}

// AdminHistory returns the newest notices of all senders, newest first.
func (s *NoticeService) AdminHistory(ctx context.Context) ([]model.Message, error) {
	return s.messages.ListRecent(ctx, s.config.AdminHistoryLimit)
}

// RegisterPushHandle stores the handle once and subscribes it to the broadcast
// topic and to the recipient's group topic. Subscription failures are logged:
// the next live registration subscribes the handles again.
func (s *NoticeService) RegisterPushHandle(ctx context.Context, recipientID, handle string) (bool, error) {
	if recipientID == "" || handle == "" {
		return false, fmt.Errorf("%w: recipient id and handle are required", model.ErrInvalidRequest)
	}
	rec, err := s.dir.FindByIdentity(ctx, recipientID)
	if err != nil {
		return false, err
	}
	added, err := s.dir.AppendPushHandle(ctx, rec.ID, handle)
	if err != nil {
		return false, err
	}

	for _, name := range []string{topic.AllUsers, topic.ForGroup(rec.Group())} {
		if err := s.push.Subscribe(ctx, []string{handle}, name); err != nil {
			s.logger.Warn("PUSH_SUBSCRIBE_FAILED", "recipient_id", rec.ID, "topic", name, "err", err)
		}
	}
	return added, nil
}

func (s *NoticeService) Presence(ctx context.Context) (*model.PresenceSnapshot, error) {
	return s.observer.Snapshot(ctx)
}
