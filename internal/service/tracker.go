package service

import (
	"context"
	"log/slog"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/campusnotice/notice-delivery-service/internal/adapter/pubsub"
	"github.com/campusnotice/notice-delivery-service/internal/adapter/store"
	"github.com/campusnotice/notice-delivery-service/internal/domain/model"
)

// Tracker owns the delivered flag of receipts. Every delivery signal, from
// the live path or from the recipient itself, goes through MarkDelivered.
type Tracker struct {
	store      store.MessageStore
	dispatcher pubsub.EventDispatcher
	// delivered remembers recently confirmed pairs so repeats skip the store.
	delivered *lru.Cache[string, struct{}]
	logger    *slog.Logger
	now       func() time.Time
}

func NewTracker(ms store.MessageStore, dispatcher pubsub.EventDispatcher, cacheSize int, logger *slog.Logger) (*Tracker, error) {
	cache, err := lru.New[string, struct{}](cacheSize)
	if err != nil {
		return nil, err
	}
	return &Tracker{
		store:      ms,
		dispatcher: dispatcher,
		delivered:  cache,
		logger:     logger,
		now:        time.Now,
	}, nil
}

// MarkDelivered flips the receipt once. It reports true only for the call that
// performed the transition; repeats return false without error and keep the
// first timestamp. Unknown pairs fail with model.ErrReceiptNotFound.
func (t *Tracker) MarkDelivered(ctx context.Context, messageID, recipientID string, source model.AckSource) (bool, error) {
	key := messageID + "\x00" + recipientID
	if t.delivered.Contains(key) {
		return false, nil
	}

	at := t.now().UTC()
	first, err := t.store.MarkReceiptDelivered(ctx, messageID, recipientID, at)
	if err != nil {
		return false, err
	}
	t.delivered.Add(key, struct{}{})

	if !first {
		return false, nil
	}

	t.logger.Debug("RECEIPT_DELIVERED",
		"message_id", messageID,
		"recipient_id", recipientID,
		"source", source,
	)
	// The ledger is already updated; a lost bus event is logged, not returned.
	if err := t.dispatcher.Publish(ctx, model.NewReceiptDeliveredEvent(messageID, recipientID, source, at)); err != nil {
		t.logger.Warn("RECEIPT_EVENT_PUBLISH_FAILED",
			"message_id", messageID,
			"recipient_id", recipientID,
			"err", err,
		)
	}
	return true, nil
}
