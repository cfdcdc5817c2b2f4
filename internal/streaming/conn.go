// Package streaming holds the WebSocket connection under a live session:
// dialing, serialized writes, the read pump, keepalive pings, and a
// normal-closure shutdown. Framing of the payloads is left to the caller.
package streaming

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Nathan-Asif/AegisMedix/logger"
)

// Defaults for Options.
const (
	DefaultHandshakeTimeout = 10 * time.Second
	DefaultWriteTimeout     = 10 * time.Second
	DefaultReadLimit        = 16 << 20
	DefaultCloseTimeout     = 5 * time.Second
)

// ErrClosed is returned by writes on a connection that has been closed locally.
var ErrClosed = errors.New("websocket connection closed")

// Options tune a connection. Zero values take the defaults.
type Options struct {
	// Header is sent with the handshake request.
	Header http.Header

	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	ReadLimit        int64

	// CloseTimeout bounds the write of the closing frame.
	CloseTimeout time.Duration

	// InsecureSkipVerify disables certificate checks on wss:// endpoints
	// (self-signed development servers only).
	InsecureSkipVerify bool

	// LogAttrs are prepended to every log line the connection writes.
	LogAttrs []any
}

func (o *Options) applyDefaults() {
	if o.HandshakeTimeout <= 0 {
		o.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = DefaultWriteTimeout
	}
	if o.ReadLimit <= 0 {
		o.ReadLimit = DefaultReadLimit
	}
	if o.CloseTimeout <= 0 {
		o.CloseTimeout = DefaultCloseTimeout
	}
}

// Conn is one established WebSocket. It is never redialed.
type Conn struct {
	ws   *websocket.Conn
	opts Options

	// writeMu serializes frames; gorilla/websocket allows one writer at a time.
	writeMu sync.Mutex

	closeOnce sync.Once
	closing   chan struct{}
	closeErr  error
}

// Dial opens a connection to rawURL.
func Dial(ctx context.Context, rawURL string, opts Options) (*Conn, error) {
	opts.applyDefaults()

	dialer := websocket.Dialer{HandshakeTimeout: opts.HandshakeTimeout}
	if strings.HasPrefix(rawURL, "wss://") {
		//nolint:gosec // opt-in for development endpoints
		dialer.TLSClientConfig = &tls.Config{
			MinVersion:         tls.VersionTLS12,
			InsecureSkipVerify: opts.InsecureSkipVerify,
		}
	}

	ws, resp, err := dialer.DialContext(ctx, rawURL, opts.Header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("websocket handshake rejected with status %d: %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("failed to connect: %w", err)
	}
	ws.SetReadLimit(opts.ReadLimit)

	c := &Conn{ws: ws, opts: opts, closing: make(chan struct{})}
	c.debug("websocket connected")
	return c, nil
}

// WriteText writes one text frame.
func (c *Conn) WriteText(data []byte) error {
	return c.write(websocket.TextMessage, data)
}

// Ping writes one ping control frame.
func (c *Conn) Ping() error {
	return c.write(websocket.PingMessage, nil)
}

func (c *Conn) write(kind int, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.Closed() {
		return ErrClosed
	}
	if err := c.ws.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout)); err != nil {
		return fmt.Errorf("failed to set write deadline: %w", err)
	}
	if err := c.ws.WriteMessage(kind, data); err != nil {
		return fmt.Errorf("failed to write frame: %w", err)
	}
	return nil
}

// Pump reads frames and passes each payload to handle until the connection
// ends. It returns nil when either side closed normally, ctx.Err() when ctx
// was canceled, and the read error otherwise. Canceling ctx closes the
// connection.
func (c *Conn) Pump(ctx context.Context, handle func([]byte)) error {
	stop := context.AfterFunc(ctx, func() { _ = c.Close() })
	defer stop()

	for {
		_, payload, err := c.ws.ReadMessage()
		if err == nil {
			handle(payload)
			continue
		}
		switch {
		case ctx.Err() != nil:
			return ctx.Err()
		case c.Closed():
			return nil
		case websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway):
			c.debug("peer closed websocket")
			return nil
		default:
			return err
		}
	}
}

// KeepAlive pings every interval until ctx ends, the connection closes, or a
// ping fails. A non-positive interval disables it.
func (c *Conn) KeepAlive(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-c.closing:
				return
			case <-ticker.C:
			}
			if err := c.Ping(); err != nil {
				if !errors.Is(err, ErrClosed) {
					c.warn("keepalive ping failed", "error", err)
				}
				return
			}
		}
	}()
}

// Close writes a normal-closure frame and releases the socket. Later calls
// return the first call's result.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		c.writeMu.Lock()
		close(c.closing)
		frame := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = c.ws.WriteControl(websocket.CloseMessage, frame, time.Now().Add(c.opts.CloseTimeout))
		c.writeMu.Unlock()

		c.closeErr = c.ws.Close()
		c.debug("websocket closed")
	})
	return c.closeErr
}

// Closed reports whether Close has been called.
func (c *Conn) Closed() bool {
	select {
	case <-c.closing:
		return true
	default:
		return false
	}
}

func (c *Conn) debug(msg string, args ...any) {
	logger.Debug(msg, append(append([]any{}, c.opts.LogAttrs...), args...)...)
}

func (c *Conn) warn(msg string, args ...any) {
	logger.Warn(msg, append(append([]any{}, c.opts.LogAttrs...), args...)...)
}
