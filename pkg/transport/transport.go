// Package transport provides the duplex WebSocket link between the voice
// client and its backend.
//
// Two WebSocket libraries are supported behind the same Dialer interface:
//   - gorilla (github.com/gorilla/websocket) - default
//   - coder (github.com/coder/websocket)
//
// A Link wraps one connection with the client's connection state machine,
// a read loop, keepalive pings and a fire-and-forget send queue.
package transport

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Library selects the WebSocket implementation.
type Library string

const (
	LibraryGorilla Library = "gorilla"
	LibraryCoder   Library = "coder"
)

// Sentinel errors for the transport package.
var (
	// ErrNotOpen indicates the link has no open connection.
	ErrNotOpen = errors.New("transport: not open")

	// ErrQueueFull indicates the send queue is full and the message was dropped.
	ErrQueueFull = errors.New("transport: send queue full")

	// ErrClosed indicates the connection was closed locally.
	ErrClosed = errors.New("transport: closed")
)

// Conn is one open WebSocket connection carrying text frames.
// WriteText, Ping and Close may be called concurrently with ReadText.
type Conn interface {
	// ReadText blocks until the next text message arrives. A close frame
	// from the peer is returned as a *CloseError.
	ReadText(ctx context.Context) ([]byte, error)

	// WriteText sends one text message.
	WriteText(ctx context.Context, data []byte) error

	// Ping sends a keepalive ping.
	Ping(ctx context.Context) error

	// Close performs a normal closure and releases the connection.
	Close(reason string) error
}

// Dialer opens connections.
type Dialer interface {
	Dial(ctx context.Context, url string) (Conn, error)
}

// DialError is returned when the WebSocket handshake fails.
type DialError struct {
	URL string

	// StatusCode is the HTTP status of a rejected upgrade, 0 if the server
	// was never reached.
	StatusCode int

	Cause error
}

// Error implements the error interface.
func (e *DialError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("transport: dial %s failed with status %d: %v", e.URL, e.StatusCode, e.Cause)
	}
	return fmt.Sprintf("transport: dial %s: %v", e.URL, e.Cause)
}

// Unwrap returns the underlying cause.
func (e *DialError) Unwrap() error {
	return e.Cause
}

// CloseError reports a close frame received from the peer.
type CloseError struct {
	Code   int
	Reason string
}

// Error implements the error interface.
func (e *CloseError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("transport: closed by peer (%d): %s", e.Code, e.Reason)
	}
	return fmt.Sprintf("transport: closed by peer (%d)", e.Code)
}

// closeAbnormal is the RFC 6455 code for a connection dropped without a
// close frame.
const closeAbnormal = 1006

// IsCleanClose reports whether err is a close handshake initiated by the
// peer, as opposed to a network failure.
func IsCleanClose(err error) bool {
	var ce *CloseError
	return errors.As(err, &ce) && ce.Code != closeAbnormal
}

// Config holds transport configuration.
type Config struct {
	// Library selects the WebSocket implementation.
	// Default: "gorilla"
	Library Library `yaml:"library" json:"library"`

	// HandshakeTimeout bounds the WebSocket upgrade.
	// Default: 10s
	HandshakeTimeout time.Duration `yaml:"handshake_timeout" json:"handshake_timeout"`

	// WriteTimeout bounds a single message write.
	// Default: 5s
	WriteTimeout time.Duration `yaml:"write_timeout" json:"write_timeout"`

	// KeepaliveInterval is the ping period. Zero disables keepalive.
	// Default: 30s
	KeepaliveInterval time.Duration `yaml:"keepalive_interval" json:"keepalive_interval"`

	// SendQueue is the number of outbound messages buffered before new
	// ones are dropped.
	// Default: 64
	SendQueue int `yaml:"send_queue" json:"send_queue"`

	// ReadLimit caps the size of an inbound message in bytes.
	// Default: 1 MiB
	ReadLimit int64 `yaml:"read_limit" json:"read_limit"`

	// Header is sent with the upgrade request.
	Header http.Header `yaml:"-" json:"-"`
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Library:           LibraryGorilla,
		HandshakeTimeout:  10 * time.Second,
		WriteTimeout:      5 * time.Second,
		KeepaliveInterval: 30 * time.Second,
		SendQueue:         64,
		ReadLimit:         1 << 20,
	}
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	switch c.Library {
	case LibraryGorilla, LibraryCoder:
	default:
		return fmt.Errorf("unsupported websocket library: %s", c.Library)
	}
	if c.HandshakeTimeout <= 0 {
		return fmt.Errorf("handshake_timeout must be positive")
	}
	if c.WriteTimeout <= 0 {
		return fmt.Errorf("write_timeout must be positive")
	}
	if c.KeepaliveInterval < 0 {
		return fmt.Errorf("keepalive_interval must not be negative")
	}
	if c.SendQueue <= 0 {
		return fmt.Errorf("send_queue must be positive, got %d", c.SendQueue)
	}
	if c.ReadLimit <= 0 {
		return fmt.Errorf("read_limit must be positive")
	}
	return nil
}

// NewDialer returns the Dialer for cfg.Library.
func NewDialer(cfg Config) (Dialer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	switch cfg.Library {
	case LibraryCoder:
		return &CoderDialer{cfg: cfg}, nil
	default:
		return &GorillaDialer{cfg: cfg}, nil
	}
}
