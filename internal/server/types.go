package server

import (
	"encoding/json"
	"strings"
)

// Event types carried in the Envelope.
const (
	EventPresenceUpdate = "presenceUpdate"
	EventChatMessage    = "chatMessage"
	EventError          = "error"
)

// Envelope is the frame exchanged on the real-time channel.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// ChatInput is the client's chatMessage payload. Any identity fields a
// client adds are ignored.
type ChatInput struct {
	Body string `json:"body"`
}

// ErrorPayload is sent to a single connection for input it got wrong.
type ErrorPayload struct {
	Error string `json:"error"`
}

func encodeEvent(eventType string, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Type: eventType, Payload: raw})
}

// ConnState is the lifecycle of one real-time connection.
type ConnState int32

const (
	StatePending ConnState = iota
	StateActive
	StateRejected
	StateClosed
)

func (s ConnState) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateActive:
		return "active"
	case StateRejected:
		return "rejected"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// isExpectedCloseError checks if an error is expected during connection closure.
func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "use of closed network connection") ||
		strings.Contains(errStr, "websocket: close sent") ||
		strings.Contains(errStr, "broken pipe")
}
