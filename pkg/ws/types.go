package ws

import (
	"encoding/json"
)

// Inbound event types
const (
	EventStartChat   = "start_chat"
	EventSendMessage = "send_message"
	EventPing        = "ping"
)

// Outbound event types
const (
	EventSessionKey     = "session_key"
	EventReceiveMessage = "receive_message"
	EventError          = "error"
	EventPong           = "pong"
)

// Message is the envelope every socket frame uses
type Message struct {
	Type    string          `json:"type"`
	Content json.RawMessage `json:"content,omitempty"`
}

// SessionKey is the content of a session_key event
type SessionKey struct {
	SessionKey string `json:"session_key"`
}

// ReceiveMessage is the content of a receive_message event
type ReceiveMessage struct {
	Message string `json:"message"`
}

// Error is the content of an error event
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Encode wraps content in an envelope of the given type
func Encode(eventType string, content any) ([]byte, error) {
	msg := Message{Type: eventType}
	if content != nil {
		raw, err := json.Marshal(content)
		if err != nil {
			return nil, err
		}
		msg.Content = raw
	}
	return json.Marshal(msg)
}
