package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

const (
	EventSource = "notice-delivery-service"

	// RoutingKeyReceiptDelivered is the bus topic for first-time receipt transitions.
	RoutingKeyReceiptDelivered = "notice.receipt.delivered.v1"
)

// AckSource tells which path confirmed a receipt.
type AckSource string

const (
	// AckLive is the provisional mark after a successful live send.
	AckLive AckSource = "live"
	// AckRecipient is the recipient's own confirmation, the authoritative one.
	AckRecipient AckSource = "recipient"
	// AckPush is a delivery report coming back from the push path.
	AckPush AckSource = "push"
)

// OutboundEventer defines the contract for events that are being published
// from this service to the outside world (e.g., Message Delivery Receipts).
type OutboundEventer interface {
	GetRoutingKey() string
	ToJSON() ([]byte, error)
}

// OutboundEvent is a concrete implementation for publishing.
type OutboundEvent struct {
	ID          string `json:"id"`
	Source      string `json:"source"`
	RecipientID string `json:"recipient_id"`
	RoutingKey  string `json:"-"`
	Payload     any    `json:"payload"`
	Timestamp   int64  `json:"timestamp"`
}

// ReceiptDeliveredPayload describes a receipt that just became delivered.
type ReceiptDeliveredPayload struct {
	MessageID   string    `json:"message_id"`
	RecipientID string    `json:"recipient_id"`
	Source      AckSource `json:"source"`
	DeliveredAt time.Time `json:"delivered_at"`
}

// NewReceiptDeliveredEvent creates a fresh event ready for publishing.
func NewReceiptDeliveredEvent(messageID, recipientID string, source AckSource, at time.Time) *OutboundEvent {
	return &OutboundEvent{
		ID:          uuid.NewString(),
		Source:      EventSource,
		RecipientID: recipientID,
		RoutingKey:  RoutingKeyReceiptDelivered,
		Payload: &ReceiptDeliveredPayload{
			MessageID:   messageID,
			RecipientID: recipientID,
			Source:      source,
			DeliveredAt: at,
		},
		Timestamp: time.Now().UnixMilli(),
	}
}

func (e *OutboundEvent) GetRoutingKey() string   { return e.RoutingKey }
func (e *OutboundEvent) ToJSON() ([]byte, error) { return json.Marshal(e) }
