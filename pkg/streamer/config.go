package streamer

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/teslashibe/go-voicelink/internal/observe"
	"github.com/teslashibe/go-voicelink/pkg/audioio"
	"github.com/teslashibe/go-voicelink/pkg/transport"
)

// SourceFactory creates the capture source on first use.
type SourceFactory func(cfg audioio.Config, logger *slog.Logger) (audioio.Source, error)

// Config holds configuration for an AudioStreamer.
type Config struct {
	// URL is the backend's WebSocket endpoint.
	URL string

	// Audio configures the capture device. The requested rate is advisory;
	// frames are always resampled to audioio.TargetSampleRate.
	Audio audioio.Config

	// Transport configures the WebSocket link.
	Transport transport.Config

	// NewSource creates the capture source. Default: audioio.NewSource.
	NewSource SourceFactory

	// Dialer opens WebSocket connections. Default: built from Transport.
	Dialer transport.Dialer

	// Metrics records frame and message counters. Default: observe.DefaultMetrics.
	Metrics *observe.Metrics

	// Logger is the structured logger to use.
	Logger *slog.Logger
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() Config {
	return Config{
		Audio:     audioio.DefaultConfig(),
		Transport: transport.DefaultConfig(),
		NewSource: audioio.NewSource,
		Logger:    slog.Default(),
	}
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	if c.URL == "" {
		return ErrMissingURL
	}
	if err := c.Audio.Validate(); err != nil {
		return fmt.Errorf("audio: %w", err)
	}
	if c.Dialer == nil {
		if err := c.Transport.Validate(); err != nil {
			return fmt.Errorf("transport: %w", err)
		}
	}
	if c.NewSource == nil {
		return errors.New("streamer: source factory is required")
	}
	return nil
}

// Option is a functional option for configuring an AudioStreamer.
type Option func(*Config)

// WithURL sets the backend WebSocket URL.
func WithURL(url string) Option {
	return func(c *Config) {
		c.URL = url
	}
}

// WithAudio sets the capture configuration.
func WithAudio(cfg audioio.Config) Option {
	return func(c *Config) {
		c.Audio = cfg
	}
}

// WithTransport sets the WebSocket link configuration.
func WithTransport(cfg transport.Config) Option {
	return func(c *Config) {
		c.Transport = cfg
	}
}

// WithSource makes the streamer use src instead of opening a device.
// The streamer takes ownership and closes src on Close.
func WithSource(src audioio.Source) Option {
	return func(c *Config) {
		c.NewSource = func(audioio.Config, *slog.Logger) (audioio.Source, error) {
			return src, nil
		}
	}
}

// WithSourceFactory sets the capture source factory.
func WithSourceFactory(fn SourceFactory) Option {
	return func(c *Config) {
		c.NewSource = fn
	}
}

// WithDialer sets the WebSocket dialer.
func WithDialer(d transport.Dialer) Option {
	return func(c *Config) {
		c.Dialer = d
	}
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m *observe.Metrics) Option {
	return func(c *Config) {
		c.Metrics = m
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Config) {
		c.Logger = logger
	}
}
