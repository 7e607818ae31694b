package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/campusnotice/notice-delivery-service/internal/domain/model"
)

// NoticeMiddleware implements [DECORATOR_PATTERN] to add observability
// to the notice service without touching business logic.
type NoticeMiddleware struct {
	Next   Noticer
	Logger *slog.Logger
}

// NewNoticeMiddleware creates a new logging decorator for the Noticer.
func NewNoticeMiddleware(next Noticer, logger *slog.Logger) Noticer {
	return &NoticeMiddleware{
		Next:   next,
		Logger: logger,
	}
}

// Submit wraps the whole send with execution timing and outcome logging.
func (m *NoticeMiddleware) Submit(ctx context.Context, req SubmitRequest) (model.NoticeOutcome, error) {
	start := time.Now()

	out, err := m.Next.Submit(ctx, req)

	duration := time.Since(start)
	if err != nil {
		m.Logger.Error("NOTICE_SUBMIT_FAILED",
			"err", err,
			"sender_role", req.SenderRole,
			"sender_name", req.SenderName,
			"duration_ms", duration.Milliseconds(),
		)
		return out, err
	}

	m.Logger.Info("NOTICE_SUBMITTED",
		"message_id", out.MessageID,
		"empty", out.Empty,
		"total", out.Total,
		"live_delivered", out.LiveDelivered,
		"push_failed", out.PushFailed,
		"receipts_marked", out.ReceiptsMarked,
		"duration_ms", duration.Milliseconds(),
	)
	return out, nil
}

func (m *NoticeMiddleware) Acknowledge(ctx context.Context, messageID, recipientID string, source model.AckSource) (bool, error) {
	first, err := m.Next.Acknowledge(ctx, messageID, recipientID, source)
	if err != nil {
		m.Logger.Warn("RECEIPT_ACK_FAILED",
			"message_id", messageID,
			"recipient_id", recipientID,
			"source", source,
			"err", err,
		)
	}
	return first, err
}

func (m *NoticeMiddleware) History(ctx context.Context, recipientID string) ([]model.Message, error) {
	start := time.Now()
	msgs, err := m.Next.History(ctx, recipientID)
	if err != nil {
		m.Logger.Warn("HISTORY_LOAD_FAILED", "recipient_id", recipientID, "err", err)
	} else {
		m.Logger.Debug("HISTORY_LOADED",
			"recipient_id", recipientID,
			"count", len(msgs),
			"duration_ms", time.Since(start).Milliseconds(),
		)
	}
	return msgs, err
}

func (m *NoticeMiddleware) AdminHistory(ctx context.Context) ([]model.Message, error) {
	msgs, err := m.Next.AdminHistory(ctx)
	if err != nil {
		m.Logger.Warn("ADMIN_HISTORY_LOAD_FAILED", "err", err)
	}
	return msgs, err
}

func (m *NoticeMiddleware) RegisterPushHandle(ctx context.Context, recipientID, handle string) (bool, error) {
	added, err := m.Next.RegisterPushHandle(ctx, recipientID, handle)
	if err != nil {
		m.Logger.Warn("PUSH_HANDLE_REGISTER_FAILED", "recipient_id", recipientID, "err", err)
	} else if added {
		m.Logger.Info("PUSH_HANDLE_REGISTERED", "recipient_id", recipientID)
	}
	return added, err
}

func (m *NoticeMiddleware) Presence(ctx context.Context) (*model.PresenceSnapshot, error) {
	return m.Next.Presence(ctx)
}
