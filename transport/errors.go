package transport

import (
	"errors"
	"fmt"
)

// ErrUnknownType marks inbound frames whose type tag this client does not handle.
var ErrUnknownType = errors.New("unknown message type")

// ErrClosed is returned by Send after the channel was closed.
var ErrClosed = errors.New("channel is closed")

// Transport operations reported in TransportError.Op.
const (
	OpDial  = "dial"
	OpRead  = "read"
	OpWrite = "write"
)

// TransportError is a connection failure: the channel could not be opened,
// a write failed, or the connection dropped unexpectedly. It is fatal to the
// session that owns the channel.
type TransportError struct {
	// Op is one of OpDial, OpRead, OpWrite.
	Op string

	// Cause is the underlying error.
	Cause error
}

// Error implements the error interface.
func (e *TransportError) Error() string {
	return fmt.Sprintf("transport %s failed: %v", e.Op, e.Cause)
}

// Unwrap returns the underlying error.
func (e *TransportError) Unwrap() error {
	return e.Cause
}

// AsTransportError checks if an error is a TransportError and returns it.
func AsTransportError(err error) (*TransportError, bool) {
	var tErr *TransportError
	if errors.As(err, &tErr) {
		return tErr, true
	}
	return nil, false
}

// ProtocolError describes an inbound frame that could not be decoded.
type ProtocolError struct {
	// Type is the frame's type tag, if one was read.
	Type MessageType

	// Reason is a short description of what was wrong.
	Reason string

	// Cause is the underlying decode error, if any.
	Cause error
}

// Error implements the error interface.
func (e *ProtocolError) Error() string {
	msg := "protocol error"
	if e.Type != "" {
		msg += " in " + string(e.Type) + " frame"
	}
	msg += ": " + e.Reason
	if e.Cause != nil && !errors.Is(e.Cause, ErrUnknownType) {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

// Unwrap returns the underlying error.
func (e *ProtocolError) Unwrap() error {
	return e.Cause
}

// AsProtocolError checks if an error is a ProtocolError and returns it.
func AsProtocolError(err error) (*ProtocolError, bool) {
	var pErr *ProtocolError
	if errors.As(err, &pErr) {
		return pErr, true
	}
	return nil, false
}
