package model

// TopicResult is the result of one push fan-out call.
type TopicResult struct {
	Topic   string `json:"topic"`
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// RoutingOutcome summarizes one Route call. Partial failures are reported here
// instead of as errors so the sender can act on them.
type RoutingOutcome struct {
	Total         int           `json:"total"`
	LiveDelivered int           `json:"live_delivered"`
	LiveFailed    int           `json:"live_failed"`
	Offline       int           `json:"offline"`
	PushTopics    int           `json:"push_topics"`
	PushFailed    int           `json:"push_failed"`
	Topics        []TopicResult `json:"topics,omitempty"`

	// DeliveredLive lists recipients whose live send succeeded.
	DeliveredLive []string `json:"-"`
}

// PushSucceeded counts topics accepted by the provider.
func (o RoutingOutcome) PushSucceeded() int {
	return o.PushTopics - o.PushFailed
}

// NoticeOutcome is what the sender receives for a submission.
type NoticeOutcome struct {
	MessageID string `json:"message_id,omitempty"`
	// Empty is set when the audience resolved to nobody; nothing was stored or sent.
	Empty bool `json:"empty"`
	RoutingOutcome
	ReceiptsMarked int `json:"receipts_marked"`
}
