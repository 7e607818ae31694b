package lpmarshaller

import (
	"encoding/json"

	"github.com/campusnotice/notice-delivery-service/internal/domain/event"
	wsmarshaller "github.com/campusnotice/notice-delivery-service/internal/handler/marshaller/ws"
)

// Response is one poll answer. Each element has the same shape as a
// websocket frame, so clients parse both transports alike.
type Response struct {
	Events []json.RawMessage `json:"events"`
}

// MarshallEvents batches events. Frames already encoded for a websocket
// delivery of the same event are reused.
func MarshallEvents(events []event.Eventer) ([]byte, error) {
	res := Response{Events: make([]json.RawMessage, 0, len(events))}
	for _, ev := range events {
		frame, err := wsmarshaller.MarshallDeliveryEvent(ev)
		if err != nil {
			return nil, err
		}
		res.Events = append(res.Events, frame)
	}
	return json.Marshal(res)
}
