package transport

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// State represents the connection state of a Link.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateOpen
	StateClosedWithError
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosedWithError:
		return "closed_with_error"
	default:
		return "unknown"
	}
}

// Handlers receive link events. All run on the link's read goroutine.
type Handlers struct {
	// OnOpen is called once per connection before the first message is
	// read. Messages are not read until it returns.
	OnOpen func()

	// OnMessage receives each inbound text message.
	OnMessage func(data []byte)

	// OnClose is called once when the connection ends without a local
	// Close. err is a *CloseError for a peer close handshake.
	OnClose func(err error)
}

// LinkStats contains link statistics.
type LinkStats struct {
	MessagesSent     int64 `json:"messages_sent"`
	MessagesDropped  int64 `json:"messages_dropped"`
	MessagesReceived int64 `json:"messages_received"`
	WriteErrors      int64 `json:"write_errors"`
}

// Link is a single logical connection to one URL. It can be reopened after
// it closes; at most one underlying connection is live at a time.
type Link struct {
	url      string
	dialer   Dialer
	cfg      Config
	handlers Handlers
	logger   *slog.Logger

	mu     sync.Mutex
	state  State
	conn   Conn
	gen    uint64
	sendCh chan []byte
	cancel context.CancelFunc

	sent     atomic.Int64
	dropped  atomic.Int64
	received atomic.Int64
	writeErr atomic.Int64
}

// NewLink creates a link to url. Nothing is dialed until Open.
func NewLink(url string, dialer Dialer, cfg Config, handlers Handlers, logger *slog.Logger) *Link {
	if logger == nil {
		logger = slog.Default()
	}
	return &Link{
		url:      url,
		dialer:   dialer,
		cfg:      cfg,
		handlers: handlers,
		logger:   logger.With("component", "transport", "url", url),
		state:    StateDisconnected,
	}
}

// URL returns the endpoint this link dials.
func (l *Link) URL() string {
	return l.url
}

// State returns the current connection state.
func (l *Link) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// IsOpen returns true if the connection is open.
func (l *Link) IsOpen() bool {
	return l.State() == StateOpen
}

// Open dials the endpoint unless the link is already open or connecting.
// On failure the link enters StateClosedWithError and the *DialError is
// returned. There is no retry.
func (l *Link) Open(ctx context.Context) error {
	l.mu.Lock()
	if l.state == StateOpen || l.state == StateConnecting {
		l.mu.Unlock()
		return nil
	}
	l.state = StateConnecting
	l.gen++
	gen := l.gen
	l.mu.Unlock()

	l.logger.Info("connecting")

	conn, err := l.dialer.Dial(ctx, l.url)

	l.mu.Lock()
	if gen != l.gen {
		// Closed while dialing.
		l.mu.Unlock()
		if conn != nil {
			_ = conn.Close("client closed")
		}
		return ErrClosed
	}
	if err != nil {
		l.state = StateClosedWithError
		l.mu.Unlock()
		l.logger.Warn("connect failed", "error", err)
		return err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	sendCh := make(chan []byte, l.cfg.SendQueue)
	l.conn = conn
	l.sendCh = sendCh
	l.cancel = cancel
	l.state = StateOpen
	l.mu.Unlock()

	go l.writeLoop(runCtx, conn, sendCh)
	// The read loop ends when the connection does, so a local close can
	// still complete its handshake.
	go l.readLoop(context.Background(), conn, gen)
	if l.cfg.KeepaliveInterval > 0 {
		go l.keepalive(runCtx, conn)
	}

	l.logger.Info("connected")
	return nil
}

// Send queues data for writing without waiting for it to be written.
// It returns ErrNotOpen when the link is not open and ErrQueueFull when the
// writer has fallen behind; in both cases the message is dropped.
func (l *Link) Send(data []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.state != StateOpen {
		l.dropped.Add(1)
		return ErrNotOpen
	}

	select {
	case l.sendCh <- data:
		return nil
	default:
		l.dropped.Add(1)
		return ErrQueueFull
	}
}

// Close closes the connection. No OnClose callback fires for a local close.
// It is safe to call Close multiple times and from within handlers.
func (l *Link) Close() error {
	l.mu.Lock()
	if l.state == StateConnecting {
		// Invalidate the in-flight dial.
		l.gen++
	}
	conn := l.detachLocked(StateDisconnected)
	l.mu.Unlock()

	if conn == nil {
		return nil
	}

	l.logger.Info("closing connection")
	return conn.Close("client closed")
}

// detachLocked tears down the live connection and returns it for closing.
func (l *Link) detachLocked(next State) Conn {
	if l.cancel != nil {
		l.cancel()
		l.cancel = nil
	}
	conn := l.conn
	l.conn = nil
	l.sendCh = nil
	l.state = next
	return conn
}

func (l *Link) readLoop(ctx context.Context, conn Conn, gen uint64) {
	if l.handlers.OnOpen != nil {
		l.handlers.OnOpen()
	}

	for {
		data, err := conn.ReadText(ctx)
		if err != nil {
			l.handleReadError(conn, gen, err)
			return
		}

		l.received.Add(1)
		if l.handlers.OnMessage != nil {
			l.handlers.OnMessage(data)
		}
	}
}

func (l *Link) handleReadError(conn Conn, gen uint64, err error) {
	l.mu.Lock()
	if gen != l.gen || l.conn != conn {
		// Local close already tore this connection down.
		l.mu.Unlock()
		return
	}
	next := StateClosedWithError
	if IsCleanClose(err) {
		next = StateDisconnected
	}
	l.detachLocked(next)
	l.mu.Unlock()

	_ = conn.Close("read failed")

	if IsCleanClose(err) {
		l.logger.Info("connection closed by peer", "reason", err)
	} else {
		l.logger.Warn("connection lost", "error", err)
	}

	if l.handlers.OnClose != nil {
		l.handlers.OnClose(err)
	}
}

func (l *Link) writeLoop(ctx context.Context, conn Conn, sendCh <-chan []byte) {
	for {
		select {
		case <-ctx.Done():
			return
		case data := <-sendCh:
			wctx, cancel := context.WithTimeout(ctx, l.cfg.WriteTimeout)
			err := conn.WriteText(wctx, data)
			cancel()
			if err != nil {
				l.writeErr.Add(1)
				l.logger.Debug("write failed", "error", err)
				continue
			}
			l.sent.Add(1)
		}
	}
}

func (l *Link) keepalive(ctx context.Context, conn Conn) {
	ticker := time.NewTicker(l.cfg.KeepaliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pctx, cancel := context.WithTimeout(ctx, l.cfg.WriteTimeout)
			err := conn.Ping(pctx)
			cancel()
			if err != nil && ctx.Err() == nil {
				l.logger.Debug("ping failed", "error", err)
			}
		}
	}
}

// Stats returns link statistics.
func (l *Link) Stats() LinkStats {
	return LinkStats{
		MessagesSent:     l.sent.Load(),
		MessagesDropped:  l.dropped.Load(),
		MessagesReceived: l.received.Load(),
		WriteErrors:      l.writeErr.Load(),
	}
}
