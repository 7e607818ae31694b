package pgstore

import (
	"time"

	"github.com/samber/lo"

	"github.com/campusnotice/notice-delivery-service/internal/domain/model"
)

type recipientRow struct {
	ID          string          `gorm:"column:id;primaryKey"`
	Name        string          `gorm:"column:name"`
	Primary     string          `gorm:"column:primary_group;index:idx_recipient_group"`
	Secondary   string          `gorm:"column:secondary_group;index:idx_recipient_group"`
	Sub         string          `gorm:"column:sub_group"`
	Online      bool            `gorm:"column:online"`
	LastSeen    time.Time       `gorm:"column:last_seen"`
	PushHandles []pushHandleRow `gorm:"foreignKey:RecipientID"`
}

func (recipientRow) TableName() string { return "recipients" }

type pushHandleRow struct {
	RecipientID string    `gorm:"column:recipient_id;primaryKey"`
	Handle      string    `gorm:"column:handle;primaryKey"`
	CreatedAt   time.Time `gorm:"column:created_at"`
}

func (pushHandleRow) TableName() string { return "push_handles" }

type messageRow struct {
	ID         string             `gorm:"column:id;primaryKey"`
	SenderRole string             `gorm:"column:sender_role"`
	SenderName string             `gorm:"column:sender_name"`
	Body       string             `gorm:"column:body"`
	Category   string             `gorm:"column:category"`
	Sub        string             `gorm:"column:sub_group"`
	CreatedAt  time.Time          `gorm:"column:created_at;index"`
	Targets    []messageTargetRow `gorm:"foreignKey:MessageID"`
	Receipts   []receiptRow       `gorm:"foreignKey:MessageID"`
}

func (messageRow) TableName() string { return "messages" }

type messageTargetRow struct {
	MessageID string `gorm:"column:message_id;primaryKey"`
	Primary   string `gorm:"column:primary_group;primaryKey;index:idx_target_group"`
	Secondary string `gorm:"column:secondary_group;primaryKey;index:idx_target_group"`
}

func (messageTargetRow) TableName() string { return "message_targets" }

type receiptRow struct {
	MessageID   string     `gorm:"column:message_id;primaryKey"`
	RecipientID string     `gorm:"column:recipient_id;primaryKey;index"`
	Delivered   bool       `gorm:"column:delivered"`
	DeliveredAt *time.Time `gorm:"column:delivered_at"`
}

func (receiptRow) TableName() string { return "receipts" }

func toRecipientRow(r model.Recipient) recipientRow {
	row := recipientRow{
		ID:        r.ID,
		Name:      r.Name,
		Primary:   r.Primary,
		Secondary: r.Secondary,
		Sub:       r.Sub,
		Online:    r.Online,
		LastSeen:  r.LastSeen,
	}
	for _, h := range r.PushHandles {
		row.PushHandles = append(row.PushHandles, pushHandleRow{RecipientID: r.ID, Handle: h})
	}
	return row
}

func (row recipientRow) toModel() model.Recipient {
	r := model.Recipient{
		ID:        row.ID,
		Name:      row.Name,
		Primary:   row.Primary,
		Secondary: row.Secondary,
		Sub:       row.Sub,
		Online:    row.Online,
		LastSeen:  row.LastSeen,
	}
	for _, h := range row.PushHandles {
		r.PushHandles = append(r.PushHandles, h.Handle)
	}
	return r
}

// toMessageRow flattens the target selection into one row per (primary, secondary)
// pair so audience lookups stay indexable.
func toMessageRow(m *model.Message) messageRow {
	row := messageRow{
		ID:         m.ID,
		SenderRole: string(m.SenderRole),
		SenderName: m.SenderName,
		Body:       m.Body,
		Category:   m.Category,
		Sub:        m.Target.Sub,
		CreatedAt:  m.CreatedAt,
	}
	for _, p := range m.Target.Primaries {
		for _, s := range m.Target.Secondaries {
			row.Targets = append(row.Targets, messageTargetRow{MessageID: m.ID, Primary: p, Secondary: s})
		}
	}
	for _, rc := range m.Receipts {
		row.Receipts = append(row.Receipts, receiptRow{
			MessageID:   m.ID,
			RecipientID: rc.RecipientID,
			Delivered:   rc.Delivered,
			DeliveredAt: rc.DeliveredAt,
		})
	}
	return row
}

func (row messageRow) toModel() model.Message {
	m := model.Message{
		ID:         row.ID,
		SenderRole: model.SenderRole(row.SenderRole),
		SenderName: row.SenderName,
		Body:       row.Body,
		Category:   row.Category,
		CreatedAt:  row.CreatedAt.UTC(),
		Target:     model.Audience{Sub: row.Sub},
	}
	m.Target.Primaries = lo.Uniq(lo.Map(row.Targets, func(t messageTargetRow, _ int) string { return t.Primary }))
	m.Target.Secondaries = lo.Uniq(lo.Map(row.Targets, func(t messageTargetRow, _ int) string { return t.Secondary }))
	for _, rc := range row.Receipts {
		m.Receipts = append(m.Receipts, model.Receipt{
			MessageID:   rc.MessageID,
			RecipientID: rc.RecipientID,
			Delivered:   rc.Delivered,
			DeliveredAt: rc.DeliveredAt,
		})
	}
	return m
}
