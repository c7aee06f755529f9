package protocol

import (
	"encoding/base64"
	"encoding/json"
)

// =============================================================================
// Helper functions for creating client messages
// =============================================================================

// EncodeUserInfo creates a user_info message.
func EncodeUserInfo(email, name string) ([]byte, error) {
	return json.Marshal(UserInfo{Type: TypeUserInfo, Email: email, Name: name})
}

// EncodeAudio creates an audio message from little-endian PCM16 bytes.
func EncodeAudio(pcm []byte) ([]byte, error) {
	return json.Marshal(Audio{
		Type: TypeAudio,
		Data: base64.StdEncoding.EncodeToString(pcm),
	})
}

// EncodeReset creates a reset message.
func EncodeReset() ([]byte, error) {
	return json.Marshal(Reset{Type: TypeReset})
}

// PCM decodes the base64 payload of an audio message.
func (e *Envelope) PCM() ([]byte, error) {
	return base64.StdEncoding.DecodeString(e.Data)
}

// =============================================================================
// Helper functions for creating server messages
// =============================================================================

// EncodeTranscription creates a transcription message.
func EncodeTranscription(text string) ([]byte, error) {
	return json.Marshal(Inbound{Type: TypeTranscription, Text: text})
}

// EncodeAIResponse creates an ai_response message.
func EncodeAIResponse(text string) ([]byte, error) {
	return json.Marshal(Inbound{Type: TypeAIResponse, Text: text})
}

// EncodeStatus creates a status message.
func EncodeStatus(message string) ([]byte, error) {
	return json.Marshal(Inbound{Type: TypeStatus, Message: message})
}

// EncodeInfo creates an info message.
func EncodeInfo(message string) ([]byte, error) {
	return json.Marshal(Inbound{Type: TypeInfo, Message: message})
}

// EncodeError creates an error message.
func EncodeError(message string) ([]byte, error) {
	return json.Marshal(Inbound{Type: TypeError, Message: message})
}
