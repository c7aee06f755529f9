package streamer

import (
	"errors"
	"fmt"
)

// User-facing messages published through OnError.
const (
	MsgDeviceAccess   = "Could not access microphone. Please ensure you have granted permission."
	MsgConnection     = "Connection error. Please try again."
	msgRecordingStart = "Could not start recording: "
)

// Status messages published through OnStatusChange.
const (
	StatusConnected    = "Connected"
	StatusDisconnected = "Disconnected"
	StatusRecording    = "Recording"
	StatusStopped      = "Stopped"
)

// Sentinel errors for the streamer package.
var (
	// ErrClosed indicates the streamer has been closed.
	ErrClosed = errors.New("streamer: closed")

	// ErrNotConnected indicates the connection is not open.
	ErrNotConnected = errors.New("streamer: not connected")

	// ErrMissingURL indicates no backend URL was configured.
	ErrMissingURL = errors.New("streamer: backend URL is required")
)

// DeviceAccessError reports that the microphone could not be acquired,
// because permission was denied, no device exists or capture support is
// missing from the build.
type DeviceAccessError struct {
	Cause error
}

// Error implements the error interface.
func (e *DeviceAccessError) Error() string {
	return fmt.Sprintf("streamer: device access: %v", e.Cause)
}

// Unwrap returns the underlying cause.
func (e *DeviceAccessError) Unwrap() error {
	return e.Cause
}

// ConnectionError reports a failure to open the backend connection.
type ConnectionError struct {
	URL   string
	Cause error
}

// Error implements the error interface.
func (e *ConnectionError) Error() string {
	return fmt.Sprintf("streamer: connection error: %s: %v", e.URL, e.Cause)
}

// Unwrap returns the underlying cause.
func (e *ConnectionError) Unwrap() error {
	return e.Cause
}

// RecordingStartError reports that capture could not be started.
type RecordingStartError struct {
	Cause error
}

// Error implements the error interface.
func (e *RecordingStartError) Error() string {
	return fmt.Sprintf("streamer: could not start recording: %v", e.Cause)
}

// Unwrap returns the underlying cause.
func (e *RecordingStartError) Unwrap() error {
	return e.Cause
}

// message is the text published through OnError.
func (e *RecordingStartError) message() string {
	return msgRecordingStart + e.Cause.Error()
}

// MessageParseError reports a malformed inbound message. It is logged and
// never published.
type MessageParseError struct {
	Raw   []byte
	Cause error
}

// Error implements the error interface.
func (e *MessageParseError) Error() string {
	return fmt.Sprintf("streamer: malformed message (%d bytes): %v", len(e.Raw), e.Cause)
}

// Unwrap returns the underlying cause.
func (e *MessageParseError) Unwrap() error {
	return e.Cause
}

// Error checking helpers.

// IsDeviceAccess returns true if the error is a DeviceAccessError.
func IsDeviceAccess(err error) bool {
	var target *DeviceAccessError
	return errors.As(err, &target)
}

// IsConnection returns true if the error is a ConnectionError.
func IsConnection(err error) bool {
	var target *ConnectionError
	return errors.As(err, &target)
}

// IsRecordingStart returns true if the error is a RecordingStartError.
func IsRecordingStart(err error) bool {
	var target *RecordingStartError
	return errors.As(err, &target)
}

// IsClosed returns true if the streamer was closed.
func IsClosed(err error) bool {
	return errors.Is(err, ErrClosed)
}
