package wsmarshaller

import (
	"encoding/json"

	"github.com/campusnotice/notice-delivery-service/internal/domain/event"
)

// WSEvent is a generic wrapper for WebSocket messages to provide consistent structure
type WSEvent struct {
	Type    string `json:"type"` // e.g., "notice", "connected", "presence"
	ID      string `json:"id"`   // message or event ID
	SentAt  int64  `json:"sent_at"`
	Payload any    `json:"payload"`
}

// MarshallDeliveryEvent prepares data for WebSocket transmission.
// The encoded frame is cached on the event, so a notice shared by many
// connections is encoded once.
func MarshallDeliveryEvent(ev event.Eventer) ([]byte, error) {
	if cached, ok := ev.GetCached().([]byte); ok {
		return cached, nil
	}

	data, err := json.Marshal(&WSEvent{
		Type:    ev.GetKind().String(),
		ID:      ev.GetID(),
		SentAt:  ev.GetOccurredAt(),
		Payload: ev.GetPayload(),
	})
	if err != nil {
		return nil, err
	}

	ev.SetCached(data)
	return data, nil
}
