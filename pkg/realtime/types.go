package realtime

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// TerminalPath is where the terminal channel is served unless provisioning
// says otherwise.
const TerminalPath = "/terminal"

// StatusConnected is the payload of the status message that ends provisioning.
const StatusConnected = "connected"

type ClientMessageType string

const (
	ClientMessageTypeRunTerraform  ClientMessageType = "run_terraform"
	ClientMessageTypePtyInput      ClientMessageType = "pty_input"
	ClientMessageTypeSessionExtend ClientMessageType = "session_extend"
)

type ServerMessageType string

const (
	ServerMessageTypeStatus        ServerMessageType = "status"
	ServerMessageTypePtyOutput     ServerMessageType = "pty_output"
	ServerMessageTypeSessionStatus ServerMessageType = "session_status"
	ServerMessageTypeError         ServerMessageType = "error"
)

var ErrMalformed = errors.New("malformed message")

// Message is one JSON frame on the terminal channel. Payload is left raw so
// each kind decodes its own shape.
type Message struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// SessionStatus is the lease information carried by session_status.
type SessionStatus struct {
	ExpiresAt time.Time `json:"ExpiresAt"`
	Message   string    `json:"Message,omitempty"`
}

// NewMessage builds a frame with payload encoded as JSON. A nil payload
// produces a frame without the payload field.
func NewMessage[T ~string](kind T, payload any) (Message, error) {
	msg := Message{Type: string(kind)}
	if payload == nil {
		return msg, nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return Message{}, fmt.Errorf("encode %s payload: %w", kind, err)
	}
	msg.Payload = raw
	return msg, nil
}

func Encode(msg Message) ([]byte, error) {
	return json.Marshal(msg)
}

func Decode(data []byte) (Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if msg.Type == "" {
		return Message{}, fmt.Errorf("%w: missing type", ErrMalformed)
	}
	return msg, nil
}

// Text returns a string payload. A missing payload is the empty string.
func (m Message) Text() (string, error) {
	if len(m.Payload) == 0 || string(m.Payload) == "null" {
		return "", nil
	}
	var text string
	if err := json.Unmarshal(m.Payload, &text); err != nil {
		return "", fmt.Errorf("%w: %s payload is not a string", ErrMalformed, m.Type)
	}
	return text, nil
}

// SessionStatus decodes a session_status payload. The server sends the status
// object JSON-encoded inside a string; a bare object is accepted as well.
func (m Message) SessionStatus() (SessionStatus, error) {
	raw := []byte(m.Payload)
	if len(raw) > 0 && raw[0] == '"' {
		var inner string
		if err := json.Unmarshal(raw, &inner); err != nil {
			return SessionStatus{}, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		raw = []byte(inner)
	}
	var status SessionStatus
	if err := json.Unmarshal(raw, &status); err != nil {
		return SessionStatus{}, fmt.Errorf("%w: session status: %v", ErrMalformed, err)
	}
	if status.ExpiresAt.IsZero() {
		return SessionStatus{}, fmt.Errorf("%w: session status without ExpiresAt", ErrMalformed)
	}
	return status, nil
}

// EncodeSessionStatus produces the string-wrapped payload the server sends.
func EncodeSessionStatus(status SessionStatus) (Message, error) {
	inner, err := json.Marshal(status)
	if err != nil {
		return Message{}, fmt.Errorf("encode session status: %w", err)
	}
	return NewMessage(ServerMessageTypeSessionStatus, string(inner))
}
