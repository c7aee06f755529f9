package transport

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

// GorillaDialer dials with github.com/gorilla/websocket.
type GorillaDialer struct {
	cfg Config
}

// Dial opens a connection to url.
func (d *GorillaDialer) Dial(ctx context.Context, url string) (Conn, error) {
	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: d.cfg.HandshakeTimeout,
	}

	conn, resp, err := dialer.DialContext(ctx, url, d.cfg.Header)
	if err != nil {
		dialErr := &DialError{URL: url, Cause: err}
		if resp != nil {
			dialErr.StatusCode = resp.StatusCode
		}
		return nil, dialErr
	}

	conn.SetReadLimit(d.cfg.ReadLimit)

	return &gorillaConn{conn: conn, writeTimeout: d.cfg.WriteTimeout}, nil
}

type gorillaConn struct {
	conn         *websocket.Conn
	writeTimeout time.Duration
}

// ReadText ignores ctx; closing the connection unblocks it.
func (c *gorillaConn) ReadText(_ context.Context) ([]byte, error) {
	for {
		msgType, data, err := c.conn.ReadMessage()
		if err != nil {
			var ce *websocket.CloseError
			if errors.As(err, &ce) {
				return nil, &CloseError{Code: ce.Code, Reason: ce.Text}
			}
			return nil, err
		}
		if msgType == websocket.TextMessage {
			return data, nil
		}
	}
}

func (c *gorillaConn) WriteText(ctx context.Context, data []byte) error {
	_ = c.conn.SetWriteDeadline(c.deadline(ctx))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (c *gorillaConn) Ping(ctx context.Context) error {
	return c.conn.WriteControl(websocket.PingMessage, nil, c.deadline(ctx))
}

func (c *gorillaConn) Close(reason string) error {
	deadline := time.Now().Add(time.Second)
	_ = c.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason),
		deadline,
	)
	return c.conn.Close()
}

func (c *gorillaConn) deadline(ctx context.Context) time.Time {
	if d, ok := ctx.Deadline(); ok {
		return d
	}
	return time.Now().Add(c.writeTimeout)
}
