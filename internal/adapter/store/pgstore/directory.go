package pgstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/campusnotice/notice-delivery-service/internal/adapter/store"
	"github.com/campusnotice/notice-delivery-service/internal/domain/model"
)

var _ store.Directory = (*Directory)(nil)

type Directory struct {
	db  *gorm.DB
	log *slog.Logger
}

func NewDirectory(db *gorm.DB, log *slog.Logger) *Directory {
	return &Directory{db: db, log: log}
}

func (d *Directory) FindByIdentity(ctx context.Context, id string) (*model.Recipient, error) {
	var row recipientRow
	err := d.db.WithContext(ctx).Preload("PushHandles").Where("id = ?", id).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, model.ErrRecipientNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find recipient %s: %w", id, err)
	}
	r := row.toModel()
	return &r, nil
}

func (d *Directory) FindByGroups(ctx context.Context, primaries, secondaries []string, sub string) ([]model.Recipient, error) {
	target := model.Audience{Primaries: primaries, Secondaries: secondaries, Sub: sub}.Normalize()
	if err := target.Validate(); err != nil {
		return nil, err
	}

	q := d.db.WithContext(ctx).Preload("PushHandles").
		Where("primary_group IN ? AND secondary_group IN ?", target.Primaries, target.Secondaries)
	if target.Sub != "" {
		q = q.Where("sub_group = ?", target.Sub)
	}

	var rows []recipientRow
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("find recipients by groups: %w", err)
	}
	return toRecipients(rows), nil
}

func (d *Directory) List(ctx context.Context) ([]model.Recipient, error) {
	var rows []recipientRow
	if err := d.db.WithContext(ctx).Preload("PushHandles").Order("id").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list recipients: %w", err)
	}
	return toRecipients(rows), nil
}

func (d *Directory) UpdateOnlineStatus(ctx context.Context, id string, online bool, lastSeen time.Time) error {
	res := d.db.WithContext(ctx).Model(&recipientRow{}).Where("id = ?", id).
		Updates(map[string]any{"online": online, "last_seen": lastSeen.UTC()})
	if res.Error != nil {
		return fmt.Errorf("update recipient %s: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return model.ErrRecipientNotFound
	}
	return nil
}

func (d *Directory) AppendPushHandle(ctx context.Context, id, handle string) (bool, error) {
	added := false
	err := d.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var n int64
		if err := tx.Model(&recipientRow{}).Where("id = ?", id).Count(&n).Error; err != nil {
			return err
		}
		if n == 0 {
			return model.ErrRecipientNotFound
		}

		res := tx.Clauses(clause.OnConflict{DoNothing: true}).
			Create(&pushHandleRow{RecipientID: id, Handle: handle, CreatedAt: time.Now().UTC()})
		if res.Error != nil {
			return res.Error
		}
		added = res.RowsAffected == 1
		return nil
	})
	if errors.Is(err, model.ErrRecipientNotFound) {
		return false, err
	}
	if err != nil {
		return false, fmt.Errorf("append push handle %s: %w", id, err)
	}
	return added, nil
}

func (d *Directory) Save(ctx context.Context, r model.Recipient) error {
	r.Normalize()
	if r.ID == "" {
		return errors.New("recipient id is required")
	}
	row := toRecipientRow(r)
	handles := row.PushHandles
	row.PushHandles = nil

	return d.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(&row).Error; err != nil {
			return fmt.Errorf("save recipient %s: %w", r.ID, err)
		}
		if len(handles) == 0 {
			return nil
		}
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&handles).Error; err != nil {
			return fmt.Errorf("save push handles %s: %w", r.ID, err)
		}
		return nil
	})
}

func toRecipients(rows []recipientRow) []model.Recipient {
	out := make([]model.Recipient, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toModel())
	}
	return out
}
