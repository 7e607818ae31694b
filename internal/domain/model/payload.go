package model

import (
	"fmt"
	"time"
	"unicode/utf8"
)

// PushBodyLimit is the number of runes of the body carried in push payloads.
const PushBodyLimit = 150

// ServerVersion is reported to clients in the connected handshake.
var ServerVersion = "0.0.0"

// LivePayload is written to an open connection.
type LivePayload struct {
	MessageID  string    `json:"messageId"`
	SenderName string    `json:"senderName"`
	Body       string    `json:"body"`
	Timestamp  time.Time `json:"timestamp"`
}

// PushPayload is handed to the push provider for one topic.
type PushPayload struct {
	Title                 string    `json:"title"`
	Body                  string    `json:"body"`
	MessageID             string    `json:"messageId"`
	Timestamp             time.Time `json:"timestamp"`
	TargetPrimaryGroups   []string  `json:"targetPrimaryGroups"`
	TargetSecondaryGroups []string  `json:"targetSecondaryGroups"`
}

// NewLivePayload builds the live representation of a message.
func NewLivePayload(m *Message) *LivePayload {
	return &LivePayload{
		MessageID:  m.ID,
		SenderName: m.SenderName,
		Body:       m.Body,
		Timestamp:  m.CreatedAt,
	}
}

// NewPushPayload builds the push representation of a message.
func NewPushPayload(m *Message) PushPayload {
	return PushPayload{
		Title:                 fmt.Sprintf("New Notice from %s", m.SenderName),
		Body:                  truncateRunes(m.Body, PushBodyLimit),
		MessageID:             m.ID,
		Timestamp:             m.CreatedAt,
		TargetPrimaryGroups:   m.Target.Primaries,
		TargetSecondaryGroups: m.Target.Secondaries,
	}
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}

// ConnectedPayload is sent to a client once its session is registered.
type ConnectedPayload struct {
	Ok            bool   `json:"ok"`
	ConnectionID  string `json:"connection_id"`
	RecipientID   string `json:"recipient_id,omitempty"`
	ServerVersion string `json:"server_version"`
}

// ErrorPayload reports a rejected client command.
type ErrorPayload struct {
	Command string `json:"command"`
	Reason  string `json:"reason"`
}

// GroupAggregate is one row of the admin presence view.
type GroupAggregate struct {
	Primary   string `json:"primary"`
	Secondary string `json:"secondary"`
	Total     int    `json:"total"`
	Online    int    `json:"online"`
}

// PresenceSnapshot is pushed to the admin observer.
type PresenceSnapshot struct {
	Groups      []GroupAggregate `json:"groups"`
	TotalOnline int              `json:"total_online"`
	GeneratedAt time.Time        `json:"generated_at"`
}
