package amqp

import (
	"context"

	"github.com/campusnotice/notice-delivery-service/internal/domain/model"
	"github.com/campusnotice/notice-delivery-service/internal/service/dto"
)

// [ON_NOTICE_SUBMIT]
// Lets other services send notices without holding a live connection.
func (h *NoticeHandler) OnNoticeSubmitV1(ctx context.Context, raw *dto.NoticeV1) error {
	out, err := h.notices.Submit(ctx, raw.ToRequest())
	if err != nil {
		return err
	}
	h.logger.Debug("BUS_NOTICE_ROUTED", "message_id", out.MessageID, "empty", out.Empty, "total", out.Total)
	return nil
}

// [ON_RECEIPT_ACK]
// Delivery reports relayed back from the push path.
func (h *NoticeHandler) OnReceiptAckV1(ctx context.Context, raw *dto.ReceiptAckV1) error {
	_, err := h.notices.Acknowledge(ctx, raw.MessageID, raw.RecipientID, model.AckPush)
	return err
}
