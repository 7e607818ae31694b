package pgstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"gorm.io/gorm"

	"github.com/campusnotice/notice-delivery-service/internal/adapter/store"
	"github.com/campusnotice/notice-delivery-service/internal/domain/model"
)

var _ store.MessageStore = (*MessageStore)(nil)

type MessageStore struct {
	db  *gorm.DB
	log *slog.Logger
}

func NewMessageStore(db *gorm.DB, log *slog.Logger) *MessageStore {
	return &MessageStore{db: db, log: log}
}

// Create stores the message, its flattened targets and its receipts in one transaction.
func (s *MessageStore) Create(ctx context.Context, msg *model.Message) error {
	row := toMessageRow(msg)
	targets, receipts := row.Targets, row.Receipts
	row.Targets, row.Receipts = nil, nil

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&row).Error; err != nil {
			return err
		}
		if len(targets) > 0 {
			if err := tx.Create(&targets).Error; err != nil {
				return err
			}
		}
		if len(receipts) > 0 {
			if err := tx.CreateInBatches(&receipts, 500).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("store message %s: %w", msg.ID, err)
	}

	s.log.Debug("MESSAGE_STORED", slog.String("message_id", msg.ID), slog.Int("receipts", len(receipts)))
	return nil
}

func (s *MessageStore) Get(ctx context.Context, id string) (*model.Message, error) {
	var row messageRow
	err := s.db.WithContext(ctx).Preload("Targets").Preload("Receipts").Where("id = ?", id).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, model.ErrMessageNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get message %s: %w", id, err)
	}
	m := row.toModel()
	return &m, nil
}

// MarkReceiptDelivered relies on the conditional update to make the transition
// happen once under concurrent confirmations.
func (s *MessageStore) MarkReceiptDelivered(ctx context.Context, messageID, recipientID string, at time.Time) (bool, error) {
	db := s.db.WithContext(ctx)
	res := db.Model(&receiptRow{}).
		Where("message_id = ? AND recipient_id = ? AND delivered = ?", messageID, recipientID, false).
		Updates(map[string]any{"delivered": true, "delivered_at": at.UTC()})
	if res.Error != nil {
		return false, fmt.Errorf("mark receipt %s/%s: %w", messageID, recipientID, res.Error)
	}
	if res.RowsAffected == 1 {
		return true, nil
	}

	var n int64
	err := db.Model(&receiptRow{}).Where("message_id = ? AND recipient_id = ?", messageID, recipientID).Count(&n).Error
	if err != nil {
		return false, fmt.Errorf("check receipt %s/%s: %w", messageID, recipientID, err)
	}
	if n == 0 {
		return false, model.ErrReceiptNotFound
	}
	return false, nil
}

func (s *MessageStore) ListRecent(ctx context.Context, limit int) ([]model.Message, error) {
	return s.list(s.db.WithContext(ctx), limit)
}

func (s *MessageStore) ListForAudience(ctx context.Context, primary, secondary, sub string, limit int) ([]model.Message, error) {
	q := s.db.WithContext(ctx).
		Where("EXISTS (SELECT 1 FROM message_targets t WHERE t.message_id = messages.id AND t.primary_group = ? AND t.secondary_group = ?)",
			model.NormalizePrimary(primary), model.NormalizeSecondary(secondary)).
		Where("sub_group = '' OR sub_group = ?", model.NormalizeSub(sub))
	return s.list(q, limit)
}

func (s *MessageStore) list(q *gorm.DB, limit int) ([]model.Message, error) {
	q = q.Preload("Targets").Preload("Receipts").Order("created_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}

	var rows []messageRow
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	out := make([]model.Message, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toModel())
	}
	return out, nil
}
