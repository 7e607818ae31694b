package wsmarshaller

import (
	"encoding/json"
	"fmt"
)

// Client command types.
const (
	CommandRegister      = "register"
	CommandAck           = "ack"
	CommandRegisterAdmin = "register_admin"
	CommandSendNotice    = "send_notice"
)

// ClientCommand is one frame sent by a client.
type ClientCommand struct {
	Type        string          `json:"type"`
	RecipientID string          `json:"recipientId,omitempty"`
	MessageID   string          `json:"messageId,omitempty"`
	Notice      json.RawMessage `json:"notice,omitempty"`
}

// UnmarshallCommand decodes a client frame.
func UnmarshallCommand(data []byte) (*ClientCommand, error) {
	var cmd ClientCommand
	if err := json.Unmarshal(data, &cmd); err != nil {
		return nil, fmt.Errorf("malformed command: %w", err)
	}
	if cmd.Type == "" {
		return nil, fmt.Errorf("malformed command: type is required")
	}
	return &cmd, nil
}
