// Package audioio provides microphone capture and the sample conversions
// needed to stream speech to a transcription backend.
//
// Capture backends:
//   - malgo (miniaudio via cgo) - real devices on Linux, macOS and Windows
//   - null - cgo-less or noaudio builds, always reports ErrNoCaptureSupport
//   - mock - synthetic audio for tests and CI
//
// Every backend delivers fixed-size float32 buffers at the device sample rate.
// Resampling to the wire rate and quantization to PCM16 happen in the caller.
package audioio

import (
	"fmt"
)

// Backend represents the capture backend type.
type Backend string

const (
	// BackendAuto selects malgo when compiled in, otherwise null.
	BackendAuto Backend = "auto"
	// BackendMalgo captures through miniaudio.
	BackendMalgo Backend = "malgo"
	// BackendNull is the placeholder used when audio support is compiled out.
	BackendNull Backend = "null"
	// BackendMock generates synthetic audio.
	BackendMock Backend = "mock"
)

// TargetSampleRate is the rate the transcription backend expects.
const TargetSampleRate = 16000

// DefaultFrameSize is the number of samples delivered per capture callback.
const DefaultFrameSize = 4096

// Config holds capture configuration.
type Config struct {
	// Backend specifies which capture backend to use.
	// Default: "auto"
	Backend Backend `yaml:"backend" json:"backend"`

	// SampleRate is the rate requested from the device. The device may
	// deliver a different rate; Source.SampleRate reports the real one.
	// Default: 16000
	SampleRate int `yaml:"sample_rate" json:"sample_rate"`

	// Channels is the number of channels requested. Only mono is streamed.
	// Default: 1
	Channels int `yaml:"channels" json:"channels"`

	// FrameSize is the number of samples per delivered frame.
	// Default: 4096
	FrameSize int `yaml:"frame_size" json:"frame_size"`

	// Device is the backend-specific device identifier, empty for the
	// system default.
	Device string `yaml:"device" json:"device"`

	// Processing hints. Backends that cannot honour them log it once.
	EchoCancellation bool `yaml:"echo_cancellation" json:"echo_cancellation"`
	NoiseSuppression bool `yaml:"noise_suppression" json:"noise_suppression"`
	AutoGainControl  bool `yaml:"auto_gain_control" json:"auto_gain_control"`
}

// DefaultConfig returns the capture constraints the client always asks for.
func DefaultConfig() Config {
	return Config{
		Backend:          BackendAuto,
		SampleRate:       TargetSampleRate,
		Channels:         1,
		FrameSize:        DefaultFrameSize,
		Device:           "",
		EchoCancellation: true,
		NoiseSuppression: true,
		AutoGainControl:  true,
	}
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	if c.SampleRate <= 0 {
		return fmt.Errorf("sample_rate must be positive, got %d", c.SampleRate)
	}
	if c.Channels != 1 {
		return fmt.Errorf("channels must be 1, got %d", c.Channels)
	}
	if c.FrameSize <= 0 {
		return fmt.Errorf("frame_size must be positive, got %d", c.FrameSize)
	}
	switch c.Backend {
	case BackendAuto, BackendMalgo, BackendNull, BackendMock:
	default:
		return fmt.Errorf("unsupported backend: %s", c.Backend)
	}
	return nil
}
