package model

import (
	"time"

	"github.com/google/uuid"
)

type SenderRole string

const (
	SenderAdmin   SenderRole = "admin"
	SenderStudent SenderRole = "student"
)

// [MESSAGE] ONE LOGICAL NOTICE AND ITS RECEIPT LEDGER
// Receipts are created together with the message, one per resolved recipient,
// and the set never changes afterwards.
type Message struct {
	ID         string     `json:"id"`
	SenderRole SenderRole `json:"sender_role"`
	SenderName string     `json:"sender_name"`
	Body       string     `json:"body"`
	Category   string     `json:"category,omitempty"`
	Target     Audience   `json:"target"`
	CreatedAt  time.Time  `json:"created_at"`
	Receipts   []Receipt  `json:"receipts,omitempty"`
}

// Receipt tracks whether one recipient confirmed one message.
// DeliveredAt is set iff Delivered is true.
type Receipt struct {
	MessageID   string     `json:"message_id"`
	RecipientID string     `json:"recipient_id"`
	Delivered   bool       `json:"delivered"`
	DeliveredAt *time.Time `json:"delivered_at"`
}

// MarkDelivered performs the single false->true transition.
func (r *Receipt) MarkDelivered(at time.Time) bool {
	if r.Delivered {
		return false
	}
	r.Delivered = true
	r.DeliveredAt = &at
	return true
}

// NewMessage composes a message addressed to the resolved audience.
func NewMessage(role SenderRole, senderName, body, category string, target Audience, audience []Recipient, now time.Time) *Message {
	id := uuid.NewString()
	receipts := make([]Receipt, 0, len(audience))
	for _, r := range audience {
		receipts = append(receipts, Receipt{MessageID: id, RecipientID: r.ID})
	}

	return &Message{
		ID:         id,
		SenderRole: role,
		SenderName: senderName,
		Body:       body,
		Category:   category,
		Target:     target,
		CreatedAt:  now.UTC(),
		Receipts:   receipts,
	}
}

// DeliveredCount counts receipts already confirmed.
func (m *Message) DeliveredCount() int {
	n := 0
	for _, r := range m.Receipts {
		if r.Delivered {
			n++
		}
	}
	return n
}
