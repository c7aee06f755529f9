// Package protocol defines the WebSocket message types exchanged between the
// voice client and the transcription backend.
// Every message is a flat JSON object discriminated by its "type" field.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// MessageType identifies the type of WebSocket message
type MessageType string

const (
	// Client → Server messages
	TypeUserInfo MessageType = "user_info" // Associate identity with session
	TypeAudio    MessageType = "audio"     // One PCM16 frame, base64 encoded
	TypeReset    MessageType = "reset"     // Clear conversation state

	// Server → Client messages
	TypeTranscription MessageType = "transcription" // Recognized speech
	TypeAIResponse    MessageType = "ai_response"   // Generated reply
	TypeStatus        MessageType = "status"        // Informational status
	TypeInfo          MessageType = "info"          // Informational status
	TypeError         MessageType = "error"         // Error notice
)

// ErrMissingType is returned by Decode for JSON objects without a type.
var ErrMissingType = errors.New("protocol: message has no type")

// =============================================================================
// Client → Server Message Types
// =============================================================================

// UserInfo associates an identity with the session.
type UserInfo struct {
	Type  MessageType `json:"type"`
	Email string      `json:"email"`
	Name  string      `json:"name"`
}

// Audio carries one frame of 16 kHz mono PCM16, little-endian, base64 encoded.
type Audio struct {
	Type MessageType `json:"type"`
	Data string      `json:"data"`
}

// Reset asks the backend to forget the conversation so far.
type Reset struct {
	Type MessageType `json:"type"`
}

// =============================================================================
// Server → Client Message Types
// =============================================================================

// Inbound is any message sent by the server. Only the fields relevant to
// Type are populated.
type Inbound struct {
	Type    MessageType `json:"type"`
	Text    string      `json:"text,omitempty"`
	Message string      `json:"message,omitempty"`
}

// IsStatus reports whether the message is a status or info notice.
func (m *Inbound) IsStatus() bool {
	return m.Type == TypeStatus || m.Type == TypeInfo
}

// Decode parses a server message. Unknown types decode without error so the
// caller can ignore them.
func Decode(data []byte) (*Inbound, error) {
	var msg Inbound
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("protocol: failed to parse message: %w", err)
	}
	if msg.Type == "" {
		return nil, ErrMissingType
	}
	return &msg, nil
}

// Envelope is any message sent by the client. Only the fields relevant to
// Type are populated.
type Envelope struct {
	Type MessageType `json:"type"`
	Data string      `json:"data,omitempty"`

	Email string `json:"email,omitempty"`
	Name  string `json:"name,omitempty"`
}

// DecodeClient parses a client message.
func DecodeClient(data []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("protocol: failed to parse message: %w", err)
	}
	if env.Type == "" {
		return nil, ErrMissingType
	}
	return &env, nil
}
