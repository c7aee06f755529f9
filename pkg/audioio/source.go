package audioio

import (
	"context"
	"errors"
	"io"
	"time"
)

var (
	// ErrNoCaptureSupport is returned when the binary has no capture backend.
	ErrNoCaptureSupport = errors.New("audioio: audio capture was disabled during compilation")

	// ErrNotOpen is returned by Start when the device has not been opened.
	ErrNotOpen = errors.New("audioio: device not open")
)

// Frame is one capture callback's worth of mono samples in [-1, 1].
type Frame struct {
	// Samples holds float32 samples at SampleRate. The slice is owned by the
	// receiver once delivered.
	Samples []float32

	// SampleRate is the device rate the samples were captured at.
	SampleRate int
}

// Duration returns the duration of this frame.
func (f Frame) Duration() time.Duration {
	if f.SampleRate == 0 {
		return 0
	}
	return time.Duration(len(f.Samples)) * time.Second / time.Duration(f.SampleRate)
}

// FrameFunc receives captured frames. It runs on the backend's capture
// goroutine and must return quickly.
type FrameFunc func(Frame)

// Source captures audio from a microphone.
type Source interface {
	// Open acquires the capture device. Calling Open on an open source is
	// a no-op.
	Open(ctx context.Context) error

	// Start begins delivering frames to fn. Start on a running source
	// replaces nothing and returns nil.
	Start(fn FrameFunc) error

	// Stop halts frame delivery. The device stays acquired.
	// It is safe to call Stop multiple times.
	Stop() error

	// SampleRate returns the rate the device actually captures at.
	// Valid after Open.
	SampleRate() int

	// Name returns the backend name (e.g., "malgo", "mock").
	Name() string

	// Close releases the device. After Close, the source cannot be reopened.
	io.Closer
}

// SourceStats contains statistics about a source.
type SourceStats struct {
	// FramesDelivered is the total number of frames handed to the callback.
	FramesDelivered int64 `json:"frames_delivered"`

	// SamplesCaptured is the total number of samples captured.
	SamplesCaptured int64 `json:"samples_captured"`

	// Running indicates if frames are being delivered.
	Running bool `json:"running"`

	// Backend is the name of the capture backend.
	Backend string `json:"backend"`
}

// SourceWithStats extends Source with statistics.
type SourceWithStats interface {
	Source
	Stats() SourceStats
}

// framer re-chunks arbitrary-length sample runs into fixed-size frames.
type framer struct {
	size    int
	pending []float32
}

func newFramer(size int) *framer {
	return &framer{size: size, pending: make([]float32, 0, size*2)}
}

// push appends samples and returns every complete frame.
func (f *framer) push(samples []float32) [][]float32 {
	f.pending = append(f.pending, samples...)
	var out [][]float32
	off := 0
	for len(f.pending)-off >= f.size {
		frame := make([]float32, f.size)
		copy(frame, f.pending[off:off+f.size])
		out = append(out, frame)
		off += f.size
	}
	n := copy(f.pending, f.pending[off:])
	f.pending = f.pending[:n]
	return out
}

func (f *framer) reset() {
	f.pending = f.pending[:0]
}
