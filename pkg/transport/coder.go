package transport

import (
	"context"
	"errors"
	"net/http"

	"github.com/coder/websocket"
)

// CoderDialer dials with github.com/coder/websocket.
type CoderDialer struct {
	cfg Config
}

// Dial opens a connection to url.
func (d *CoderDialer) Dial(ctx context.Context, url string) (Conn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, d.cfg.HandshakeTimeout)
	defer cancel()

	conn, resp, err := websocket.Dial(dialCtx, url, &websocket.DialOptions{
		HTTPHeader: d.cfg.Header,
		HTTPClient: &http.Client{Transport: &http.Transport{Proxy: http.ProxyFromEnvironment}},
	})
	if err != nil {
		dialErr := &DialError{URL: url, Cause: err}
		if resp != nil {
			dialErr.StatusCode = resp.StatusCode
		}
		return nil, dialErr
	}

	conn.SetReadLimit(d.cfg.ReadLimit)

	return &coderConn{conn: conn}, nil
}

type coderConn struct {
	conn *websocket.Conn
}

func (c *coderConn) ReadText(ctx context.Context) ([]byte, error) {
	for {
		msgType, data, err := c.conn.Read(ctx)
		if err != nil {
			var ce websocket.CloseError
			if errors.As(err, &ce) {
				return nil, &CloseError{Code: int(ce.Code), Reason: ce.Reason}
			}
			return nil, err
		}
		if msgType == websocket.MessageText {
			return data, nil
		}
	}
}

func (c *coderConn) WriteText(ctx context.Context, data []byte) error {
	return c.conn.Write(ctx, websocket.MessageText, data)
}

// Ping waits for the pong, which arrives through the concurrent ReadText.
func (c *coderConn) Ping(ctx context.Context) error {
	return c.conn.Ping(ctx)
}

func (c *coderConn) Close(reason string) error {
	return c.conn.Close(websocket.StatusNormalClosure, reason)
}
