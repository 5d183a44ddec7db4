package gateway

import (
	"context"
	"errors"
	"net/http"
	"sync"

	"github.com/coder/websocket"
)

// Conn is a single gateway socket.
// Implementations must allow Write and Close to be called concurrently with Read.
type Conn interface {
	// Read blocks for the next frame. A close frame from the peer is
	// reported as a *CloseError.
	Read(ctx context.Context) ([]byte, error)
	Write(ctx context.Context, data []byte) error
	// Close performs the closing handshake with the given code.
	Close(code int, reason string) error
	// CloseNow drops the socket without a handshake.
	CloseNow() error
}

// Dialer opens gateway sockets.
type Dialer interface {
	Dial(ctx context.Context, url string) (Conn, error)
}

// DialerFunc adapts a function to the Dialer interface.
type DialerFunc func(ctx context.Context, url string) (Conn, error)

// Dial calls f(ctx, url).
func (f DialerFunc) Dial(ctx context.Context, url string) (Conn, error) {
	return f(ctx, url)
}

// WebSocketDialer dials the gateway over WebSocket.
type WebSocketDialer struct {
	// HTTPHeader specifies additional HTTP headers to send during handshake.
	HTTPHeader http.Header

	// HTTPClient is the HTTP client used for the handshake.
	// If nil, http.DefaultClient is used.
	HTTPClient *http.Client

	// ReadLimit caps the size of an inbound frame. Zero means 32MB.
	ReadLimit int64
}

// Dial implements Dialer.
func (d *WebSocketDialer) Dial(ctx context.Context, url string) (Conn, error) {
	dialOpts := &websocket.DialOptions{}
	if d != nil {
		if d.HTTPHeader != nil {
			dialOpts.HTTPHeader = d.HTTPHeader.Clone()
		}
		dialOpts.HTTPClient = d.HTTPClient
	}

	conn, _, err := websocket.Dial(ctx, url, dialOpts)
	if err != nil {
		return nil, &ConnectionError{Op: "dial", URL: url, Err: err}
	}

	limit := int64(32 * 1024 * 1024)
	if d != nil && d.ReadLimit > 0 {
		limit = d.ReadLimit
	}
	conn.SetReadLimit(limit)

	return &wsConn{conn: conn}, nil
}

// wsConn implements Conn over coder/websocket.
type wsConn struct {
	conn   *websocket.Conn
	mu     sync.Mutex
	closed bool
}

func (c *wsConn) Read(ctx context.Context) ([]byte, error) {
	_, data, err := c.conn.Read(ctx)
	if err != nil {
		var ce websocket.CloseError
		if errors.As(err, &ce) {
			return nil, &CloseError{Code: int(ce.Code), Reason: ce.Reason}
		}
		return nil, &ConnectionError{Op: "read", Err: err}
	}
	return data, nil
}

func (c *wsConn) Write(ctx context.Context, data []byte) error {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return ErrNotConnected
	}

	if err := c.conn.Write(ctx, websocket.MessageText, data); err != nil {
		return &ConnectionError{Op: "write", Err: err}
	}
	return nil
}

func (c *wsConn) Close(code int, reason string) error {
	if !c.markClosed() {
		return nil
	}
	return c.conn.Close(websocket.StatusCode(code), reason)
}

func (c *wsConn) CloseNow() error {
	c.markClosed()
	return c.conn.CloseNow()
}

func (c *wsConn) markClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	c.closed = true
	return true
}
