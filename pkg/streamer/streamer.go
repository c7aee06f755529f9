// Package streamer captures microphone audio and streams it to a
// transcription backend over a single WebSocket connection.
//
// The capture path runs synchronously in the audio backend's callback:
// RMS (diagnostic only), linear resampling to 16 kHz, quantization to
// PCM16, base64 encoding and a fire-and-forget send. Frames captured while
// the connection is not open are dropped silently.
//
// Results come back as four events delivered to a Listener: status change,
// transcription, AI response and error. Device and transport failures are
// reported exactly once through OnError with a human-readable message and
// are never retried.
package streamer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/teslashibe/go-voicelink/internal/observe"
	"github.com/teslashibe/go-voicelink/pkg/audioio"
	"github.com/teslashibe/go-voicelink/pkg/identity"
	"github.com/teslashibe/go-voicelink/pkg/protocol"
	"github.com/teslashibe/go-voicelink/pkg/transport"
)

// AudioStreamer owns the capture device and the backend connection.
// All methods are safe for concurrent use; operations are serialized.
type AudioStreamer struct {
	cfg       Config
	logger    *slog.Logger
	metrics   *observe.Metrics
	sessionID string
	link      *transport.Link
	listeners registry

	mu       sync.Mutex
	state    State
	source   audioio.Source
	identity identity.Identity

	// closed mirrors state == StateClosed for the link's read goroutine.
	closed atomic.Bool

	// inbound holds back the read goroutine of a new connection until the
	// operation that opened it has published its events, so "Connected"
	// always precedes the backend's first message.
	inbound     chan struct{}
	inboundHeld bool

	frames frameStats
}

// New creates an AudioStreamer. listener may be nil; more listeners can be
// added with Subscribe. Nothing is acquired until Initialize, Connect or
// StartRecording is called.
func New(listener Listener, opts ...Option) (*AudioStreamer, error) {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}
	if cfg.Dialer == nil {
		d, err := transport.NewDialer(cfg.Transport)
		if err != nil {
			return nil, err
		}
		cfg.Dialer = d
	}

	sessionID := uuid.NewString()
	s := &AudioStreamer{
		cfg:       cfg,
		logger:    cfg.Logger.With("component", "streamer", "session", sessionID),
		metrics:   cfg.Metrics,
		sessionID: sessionID,
		state:     StateIdle,
	}
	s.link = transport.NewLink(cfg.URL, cfg.Dialer, cfg.Transport, transport.Handlers{
		OnOpen:    s.awaitInbound,
		OnMessage: s.handleMessage,
		OnClose:   s.handleClose,
	}, cfg.Logger)

	if listener != nil {
		s.listeners.add(listener)
	}

	return s, nil
}

// Subscribe adds a listener. Events are delivered to listeners in the order
// they subscribed. The returned function removes the listener.
func (s *AudioStreamer) Subscribe(l Listener) (unsubscribe func()) {
	return s.listeners.add(l)
}

// SessionID returns the random identifier of this streamer, used in logs.
func (s *AudioStreamer) SessionID() string {
	return s.sessionID
}

// State returns the current lifecycle state.
func (s *AudioStreamer) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// IsRecording reports whether frames are being captured.
func (s *AudioStreamer) IsRecording() bool {
	return s.State().IsRecording()
}

// ConnectionState returns the state of the backend connection.
func (s *AudioStreamer) ConnectionState() transport.State {
	return s.link.State()
}

// Identity returns the identity last set with SetUserInfo.
func (s *AudioStreamer) Identity() identity.Identity {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.identity
}

// setState moves to next, logging transitions the state machine does not
// expect.
func (s *AudioStreamer) setState(next State) {
	if s.state == next {
		return
	}
	if !s.state.canTransition(next) {
		s.logger.Warn("unexpected state transition", "from", s.state, "to", next)
	}
	s.logger.Debug("state changed", "from", s.state, "to", next)
	s.state = next
}

// Initialize acquires the capture device. Calling it while the device is
// held does nothing. On failure OnError receives MsgDeviceAccess and a
// *DeviceAccessError is returned.
func (s *AudioStreamer) Initialize(ctx context.Context) error {
	var events []event

	s.mu.Lock()
	err := s.initializeLocked(ctx, &events)
	s.mu.Unlock()

	s.listeners.emit(events...)
	return err
}

func (s *AudioStreamer) initializeLocked(ctx context.Context, events *[]event) error {
	if s.state == StateClosed {
		return ErrClosed
	}
	if s.source != nil {
		return nil
	}

	src, err := s.cfg.NewSource(s.cfg.Audio, s.cfg.Logger)
	if err == nil {
		if err = src.Open(ctx); err != nil {
			_ = src.Close()
		}
	}
	if err != nil {
		s.logger.Error("error accessing microphone", "error", err)
		s.metrics.RecordError(ctx, "device")
		*events = append(*events, event{kind: eventError, text: MsgDeviceAccess})
		return &DeviceAccessError{Cause: err}
	}

	s.source = src
	s.setState(StateCaptureReady)

	s.logger.Info("audio capture initialized",
		"backend", src.Name(),
		"sample_rate", src.SampleRate(),
		"target_rate", audioio.TargetSampleRate,
	)
	return nil
}

// Connect opens the backend connection unless it is already open. On open
// OnStatusChange receives StatusConnected and the identity is re-sent. On
// failure OnError receives MsgConnection and a *ConnectionError is
// returned; there is no retry.
func (s *AudioStreamer) Connect(ctx context.Context) error {
	var events []event

	s.mu.Lock()
	err := s.connectLocked(ctx, &events)
	s.mu.Unlock()

	s.listeners.emit(events...)
	s.releaseInbound()
	return err
}

func (s *AudioStreamer) connectLocked(ctx context.Context, events *[]event) error {
	if s.state == StateClosed {
		return ErrClosed
	}
	if s.link.IsOpen() {
		return nil
	}

	s.logger.Info("connecting to backend", "url", s.cfg.URL)

	s.holdInboundLocked()
	if err := s.link.Open(ctx); err != nil {
		s.logger.Error("websocket error", "error", err)
		s.metrics.RecordError(ctx, "connection")
		*events = append(*events, event{kind: eventError, text: MsgConnection})
		return &ConnectionError{URL: s.cfg.URL, Cause: err}
	}

	s.logger.Info("websocket connection established")
	*events = append(*events, event{kind: eventStatus, text: StatusConnected})
	s.sendIdentityLocked()
	return nil
}

// StartRecording begins streaming. It initializes the device and connects
// first when needed. Calling it while recording does nothing.
//
// A device failure aborts with the *DeviceAccessError (already published).
// A connection failure is published but recording still starts; frames are
// dropped until a later Connect succeeds. A capture start failure publishes
// "Could not start recording: <reason>" and returns *RecordingStartError.
func (s *AudioStreamer) StartRecording(ctx context.Context) error {
	var events []event

	s.mu.Lock()
	err := s.startRecordingLocked(ctx, &events)
	s.mu.Unlock()

	s.listeners.emit(events...)
	s.releaseInbound()
	return err
}

func (s *AudioStreamer) startRecordingLocked(ctx context.Context, events *[]event) error {
	if s.state == StateClosed {
		return ErrClosed
	}
	if s.state == StateStreaming {
		return nil
	}

	if err := s.initializeLocked(ctx, events); err != nil {
		return err
	}

	s.setState(StateConnecting)
	if err := s.connectLocked(ctx, events); err != nil {
		s.logger.Warn("recording without a connection, frames will be dropped", "error", err)
	}

	s.frames.reset()
	if err := s.source.Start(s.onFrame); err != nil {
		s.setState(StateCaptureReady)
		rerr := &RecordingStartError{Cause: err}
		s.logger.Error("error starting recording", "error", err)
		s.metrics.RecordError(ctx, "recording")
		*events = append(*events, event{kind: eventError, text: rerr.message()})
		return rerr
	}

	s.setState(StateStreaming)
	s.metrics.ActiveRecordings.Add(ctx, 1)
	s.logger.Info("recording started")
	*events = append(*events, event{kind: eventStatus, text: StatusRecording})
	return nil
}

// StopRecording stops delivering frames. The device and the connection
// are kept. Calling it while not recording does nothing and publishes
// nothing.
func (s *AudioStreamer) StopRecording() {
	var events []event

	s.mu.Lock()
	s.stopRecordingLocked(&events)
	s.mu.Unlock()

	s.listeners.emit(events...)
}

func (s *AudioStreamer) stopRecordingLocked(events *[]event) {
	if s.state != StateStreaming {
		return
	}

	if err := s.source.Stop(); err != nil {
		s.logger.Warn("stop capture failed", "error", err)
	}
	s.setState(StateCaptureReady)
	s.metrics.ActiveRecordings.Add(context.Background(), -1)

	sent, dropped := s.frames.totals()
	s.logger.Info("recording stopped", "frames_sent", sent, "frames_dropped", dropped)
	if events != nil {
		*events = append(*events, event{kind: eventStatus, text: StatusStopped})
	}
}

// ResetConversation asks the backend to forget the conversation. When the
// connection is not open nothing is sent and nil is returned.
func (s *AudioStreamer) ResetConversation() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateClosed {
		return ErrClosed
	}
	if !s.link.IsOpen() {
		s.logger.Debug("reset skipped, not connected")
		return nil
	}

	data, err := protocol.EncodeReset()
	if err != nil {
		return err
	}
	if err := s.link.Send(data); err != nil {
		return s.sendError(err)
	}
	s.logger.Info("conversation reset requested")
	return nil
}

// SetUserInfo stores the identity and sends it when the connection is open
// and the email is set. The stored identity is re-sent on every reconnect.
func (s *AudioStreamer) SetUserInfo(id identity.Identity) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateClosed {
		return ErrClosed
	}

	s.identity = id
	s.logger.Info("user info set", "email", id.Email, "name", id.Name)

	if !s.link.IsOpen() {
		return nil
	}
	return s.sendIdentityLocked()
}

func (s *AudioStreamer) sendIdentityLocked() error {
	if !s.identity.HasEmail() {
		return nil
	}

	data, err := protocol.EncodeUserInfo(s.identity.Email, s.identity.Name)
	if err != nil {
		return err
	}
	if err := s.link.Send(data); err != nil {
		s.logger.Warn("send user info failed", "error", err)
		return s.sendError(err)
	}
	s.logger.Debug("sent user info", "email", s.identity.Email)
	return nil
}

func (s *AudioStreamer) sendError(err error) error {
	if errors.Is(err, transport.ErrNotOpen) {
		return ErrNotConnected
	}
	return fmt.Errorf("streamer: send: %w", err)
}

// Close stops recording, releases the device and closes the connection.
// It is safe to call multiple times. A closed streamer cannot be reused
// and no events are published for the shutdown itself.
func (s *AudioStreamer) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateClosed {
		return nil
	}

	var errs []error

	s.stopRecordingLocked(nil)

	if s.source != nil {
		if err := s.source.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close capture: %w", err))
		}
		s.source = nil
	}

	s.closed.Store(true)
	if err := s.link.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close connection: %w", err))
	}

	s.setState(StateClosed)
	s.logger.Info("audio streamer closed")

	return errors.Join(errs...)
}

// holdInboundLocked arms the gate for a connection about to be opened.
func (s *AudioStreamer) holdInboundLocked() {
	if s.inboundHeld {
		return
	}
	s.inbound = make(chan struct{})
	s.inboundHeld = true
}

// releaseInbound lets the read goroutine start dispatching. It must be
// called after the events of the opening operation have been emitted.
func (s *AudioStreamer) releaseInbound() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inboundHeld {
		close(s.inbound)
		s.inboundHeld = false
	}
}

// awaitInbound runs on the read goroutine of each new connection.
func (s *AudioStreamer) awaitInbound() {
	s.mu.Lock()
	gate := s.inbound
	s.mu.Unlock()
	if gate != nil {
		<-gate
	}
}

// handleMessage dispatches one inbound message. It runs on the link's read
// goroutine.
func (s *AudioStreamer) handleMessage(data []byte) {
	msg, err := protocol.Decode(data)
	if err != nil {
		perr := &MessageParseError{Raw: data, Cause: err}
		s.logger.Warn("error parsing message", "error", perr)
		s.metrics.RecordError(context.Background(), "parse")
		return
	}

	s.metrics.RecordMessage(context.Background(), string(msg.Type))

	switch msg.Type {
	case protocol.TypeTranscription:
		s.listeners.emit(event{kind: eventTranscription, text: msg.Text})
	case protocol.TypeAIResponse:
		s.listeners.emit(event{kind: eventAIResponse, text: msg.Text})
	case protocol.TypeStatus, protocol.TypeInfo:
		s.listeners.emit(event{kind: eventStatus, text: msg.Message})
	case protocol.TypeError:
		s.metrics.RecordError(context.Background(), "backend")
		s.listeners.emit(event{kind: eventError, text: msg.Message})
	default:
		s.logger.Debug("ignoring message", "type", msg.Type)
	}
}

// handleClose runs when the connection ends without a local Close.
func (s *AudioStreamer) handleClose(err error) {
	if s.closed.Load() {
		return
	}

	if transport.IsCleanClose(err) {
		s.logger.Info("websocket connection closed", "reason", err)
		s.listeners.emit(event{kind: eventStatus, text: StatusDisconnected})
		return
	}

	s.logger.Error("websocket error", "error", err)
	s.metrics.RecordError(context.Background(), "connection")
	s.listeners.emit(
		event{kind: eventError, text: MsgConnection},
		event{kind: eventStatus, text: StatusDisconnected},
	)
}
