// ABOUTME: Client-side websocket transport built on gorilla/websocket
// ABOUTME: Dialer/Conn interfaces let the session manager be tested without a network

package realtime

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// DefaultWriteTimeout bounds a single frame write.
const DefaultWriteTimeout = 10 * time.Second

// ErrClosed is returned by Conn methods after Close.
var ErrClosed = errors.New("connection closed")

// Conn is a bidirectional frame stream. ReadFrame is called from one
// goroutine; WriteFrame is safe for concurrent use.
type Conn interface {
	ReadFrame() (Frame, error)
	WriteFrame(f Frame) error
	Close() error
}

// Dialer opens connections to the relay.
type Dialer interface {
	Dial(ctx context.Context) (Conn, error)
}

// WSDialer dials the relay's websocket endpoint.
type WSDialer struct {
	// URL is the websocket endpoint, e.g. ws://localhost:8080/socket.
	URL string
	// Token, when set, is sent as a bearer Authorization header.
	Token            string
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
}

// Dial opens a websocket connection.
func (d *WSDialer) Dial(ctx context.Context) (Conn, error) {
	if _, err := url.Parse(d.URL); err != nil {
		return nil, fmt.Errorf("parse socket url: %w", err)
	}

	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: d.HandshakeTimeout,
	}
	if dialer.HandshakeTimeout == 0 {
		dialer.HandshakeTimeout = 10 * time.Second
	}

	header := http.Header{}
	if d.Token != "" {
		header.Set("Authorization", "Bearer "+d.Token)
	}

	ws, resp, err := dialer.DialContext(ctx, d.URL, header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %w (status %d)", d.URL, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial %s: %w", d.URL, err)
	}

	return NewWSConn(ws, d.WriteTimeout), nil
}

// WSConn adapts a gorilla websocket connection to Conn.
type WSConn struct {
	ws           *websocket.Conn
	writeTimeout time.Duration

	mu     sync.Mutex // serializes writes
	closed bool
}

// NewWSConn wraps ws. Zero writeTimeout uses DefaultWriteTimeout.
func NewWSConn(ws *websocket.Conn, writeTimeout time.Duration) *WSConn {
	if writeTimeout <= 0 {
		writeTimeout = DefaultWriteTimeout
	}
	return &WSConn{ws: ws, writeTimeout: writeTimeout}
}

// ReadFrame blocks until the next frame arrives.
func (c *WSConn) ReadFrame() (Frame, error) {
	var f Frame
	if err := c.ws.ReadJSON(&f); err != nil {
		return Frame{}, err
	}
	return f, nil
}

// WriteFrame sends f.
func (c *WSConn) WriteFrame(f Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}
	if err := c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
		return err
	}
	return c.ws.WriteJSON(f)
}

// Close sends a close frame and closes the socket.
func (c *WSConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true

	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	return c.ws.Close()
}

// IsNormalClose reports whether err is an orderly websocket shutdown.
func IsNormalClose(err error) bool {
	return websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway)
}
