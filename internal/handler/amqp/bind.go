package amqp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"

	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/campusnotice/notice-delivery-service/internal/domain/model"
)

// DomainHandler defines the functional signature for business logic.
type DomainHandler[T any] func(ctx context.Context, payload *T) error

// [INFRASTRUCTURE_BRIDGE]
// Bind connects Watermill to domain logic, handling panic recovery, decoding
// and the ack/nack decision.
func Bind[T any](h *NoticeHandler, fn DomainHandler[T]) message.NoPublishHandlerFunc {
	return func(msg *message.Message) (err error) {
		// [PANIC_RECOVERY]
		// Safely handle runtime panics to keep the consumer alive.
		defer func() {
			if r := recover(); r != nil {
				h.logger.Error("PANIC_RECOVERED",
					"err", r,
					"stack", string(debug.Stack()),
					"msg_id", msg.UUID)
				err = fmt.Errorf("handler panic: %v", r)
			}
		}()

		// [DECODING]
		payload := new(T)
		if err := json.Unmarshal(msg.Payload, payload); err != nil {
			h.logger.Error("DECODE_FAILED", "err", err, "msg_id", msg.UUID)
			return nil // ACK: Poison Pill protection.
		}

		// [EXECUTION]
		if err := fn(msg.Context(), payload); err != nil {
			if permanent(err) {
				h.logger.Warn("MESSAGE_REJECTED", "err", err, "msg_id", msg.UUID)
				return nil // ACK: a retry cannot fix the request itself.
			}
			return err // NACK: Transient failure triggers Retry policy.
		}
		return nil
	}
}

func permanent(err error) bool {
	return errors.Is(err, model.ErrInvalidRequest) ||
		errors.Is(err, model.ErrEmptyGroups) ||
		errors.Is(err, model.ErrRecipientNotFound) ||
		errors.Is(err, model.ErrMessageNotFound) ||
		errors.Is(err, model.ErrReceiptNotFound)
}
