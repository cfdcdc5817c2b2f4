package transport

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/Nathan-Asif/AegisMedix/internal/streaming"
	"github.com/Nathan-Asif/AegisMedix/logger"
)

// DefaultSubjectParam is the query parameter that scopes a connection to a subject.
const DefaultSubjectParam = "subject_id"

// Channel is a duplex message channel to the inference peer. Handlers must be
// registered before Start. A Channel never reconnects; once the connection
// ends it stays ended.
type Channel interface {
	// Send encodes and writes one frame. Frames are written in call order.
	Send(msg Message) error

	// OnMessage registers the handler for decoded inbound frames.
	OnMessage(fn func(Message))

	// OnError registers the handler for unexpected connection failures.
	OnError(fn func(error))

	// OnClose registers the handler for an orderly close by either side.
	OnClose(fn func())

	// Start begins delivering inbound frames. Exactly one of the error or
	// close handlers fires when delivery stops.
	Start(ctx context.Context)

	// Close sends a close frame and releases the connection. Safe to call repeatedly.
	Close() error
}

// Dialer opens a Channel scoped to a subject.
type Dialer interface {
	Dial(ctx context.Context, subjectID string) (Channel, error)
}

// DialerConfig configures WebSocketDialer.
type DialerConfig struct {
	// Endpoint is the ws:// or wss:// URL of the live session route.
	Endpoint string

	// SubjectParam names the query parameter carrying the subject ID.
	// Defaults to DefaultSubjectParam.
	SubjectParam string

	// Headers are sent during the handshake.
	Headers http.Header

	DialTimeout       time.Duration
	WriteWait         time.Duration
	MaxMessageSize    int64
	HeartbeatInterval time.Duration

	// InsecureSkipVerify disables TLS verification for development peers.
	InsecureSkipVerify bool

	// OnProtocolError observes frames that were dropped as malformed. Optional.
	OnProtocolError func(*ProtocolError)
}

// WebSocketDialer dials the peer over a WebSocket.
type WebSocketDialer struct {
	cfg DialerConfig
}

// NewDialer creates a WebSocketDialer.
func NewDialer(cfg DialerConfig) *WebSocketDialer {
	if cfg.SubjectParam == "" {
		cfg.SubjectParam = DefaultSubjectParam
	}
	return &WebSocketDialer{cfg: cfg}
}

// EndpointURL returns the endpoint with the subject query parameter set.
func (d *WebSocketDialer) EndpointURL(subjectID string) (string, error) {
	u, err := url.Parse(d.cfg.Endpoint)
	if err != nil {
		return "", fmt.Errorf("invalid endpoint: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return "", fmt.Errorf("invalid endpoint scheme %q: want ws or wss", u.Scheme)
	}
	q := u.Query()
	q.Set(d.cfg.SubjectParam, subjectID)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Dial connects to the peer. Failures are returned as *TransportError with Op "dial".
func (d *WebSocketDialer) Dial(ctx context.Context, subjectID string) (Channel, error) {
	endpoint, err := d.EndpointURL(subjectID)
	if err != nil {
		return nil, &TransportError{Op: OpDial, Cause: err}
	}

	conn, err := streaming.Dial(ctx, endpoint, streaming.Options{
		Header:             d.cfg.Headers,
		HandshakeTimeout:   d.cfg.DialTimeout,
		WriteTimeout:       d.cfg.WriteWait,
		ReadLimit:          d.cfg.MaxMessageSize,
		InsecureSkipVerify: d.cfg.InsecureSkipVerify,
		LogAttrs:           []any{"component", "transport", "endpoint", logger.RedactURL(endpoint)},
	})
	if err != nil {
		return nil, &TransportError{Op: OpDial, Cause: err}
	}

	return &wsChannel{
		conn:            conn,
		heartbeat:       d.cfg.HeartbeatInterval,
		onProtocolError: d.cfg.OnProtocolError,
		onMessage:       func(Message) {},
		onError:         func(error) {},
		onClose:         func() {},
	}, nil
}

// wsChannel is the WebSocket-backed Channel.
type wsChannel struct {
	conn      *streaming.Conn
	heartbeat time.Duration

	mu              sync.Mutex
	started         bool
	onMessage       func(Message)
	onError         func(error)
	onClose         func()
	onProtocolError func(*ProtocolError)
}

func (c *wsChannel) Send(msg Message) error {
	data, err := Encode(msg)
	if err != nil {
		return fmt.Errorf("failed to encode %s message: %w", msg.Type, err)
	}
	if err := c.conn.WriteText(data); err != nil {
		if errors.Is(err, streaming.ErrClosed) {
			return ErrClosed
		}
		return &TransportError{Op: OpWrite, Cause: err}
	}
	return nil
}

func (c *wsChannel) OnMessage(fn func(Message)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onMessage = fn
}

func (c *wsChannel) OnError(fn func(error)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onError = fn
}

func (c *wsChannel) OnClose(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onClose = fn
}

func (c *wsChannel) Start(ctx context.Context) {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return
	}
	c.started = true
	onMessage, onError, onClose := c.onMessage, c.onError, c.onClose
	c.mu.Unlock()

	c.conn.KeepAlive(ctx, c.heartbeat)

	go func() {
		err := c.conn.Pump(ctx, func(data []byte) {
			msg, err := Decode(data)
			if err != nil {
				c.dropMalformed(err)
				return
			}
			onMessage(msg)
		})
		if err == nil || errors.Is(err, context.Canceled) {
			logger.Debug("channel closed", "component", "transport")
			onClose()
			return
		}
		onError(&TransportError{Op: OpRead, Cause: err})
	}()
}

func (c *wsChannel) dropMalformed(err error) {
	pErr, ok := AsProtocolError(err)
	if !ok {
		return
	}
	if errors.Is(pErr, ErrUnknownType) {
		logger.Debug("dropping unhandled frame", "component", "transport", "type", pErr.Type)
	} else {
		logger.Warn("dropping malformed frame", "component", "transport", "error", pErr)
	}
	if c.onProtocolError != nil {
		c.onProtocolError(pErr)
	}
}

func (c *wsChannel) Close() error {
	return c.conn.Close()
}
