package streamer

// State represents the lifecycle state of an AudioStreamer.
type State int

const (
	// StateIdle means no capture device is held.
	StateIdle State = iota
	// StateCaptureReady means the device is held but not delivering frames.
	StateCaptureReady
	// StateConnecting means StartRecording is opening the connection.
	StateConnecting
	// StateStreaming means captured frames are being sent.
	StateStreaming
	// StateClosed is terminal.
	StateClosed
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateCaptureReady:
		return "capture_ready"
	case StateConnecting:
		return "connecting"
	case StateStreaming:
		return "streaming"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// IsRecording reports whether frames are being captured.
func (s State) IsRecording() bool {
	return s == StateStreaming
}

// canTransition lists the legal state changes.
func (s State) canTransition(next State) bool {
	if next == StateClosed {
		return s != StateClosed
	}
	switch s {
	case StateIdle:
		return next == StateCaptureReady
	case StateCaptureReady:
		return next == StateConnecting
	case StateConnecting:
		return next == StateStreaming || next == StateCaptureReady
	case StateStreaming:
		return next == StateCaptureReady
	default:
		return false
	}
}
