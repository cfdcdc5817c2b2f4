package session

import (
	"errors"
	"fmt"
)

var (
	// ErrSessionActive is returned by Client.Start while another session is live.
	ErrSessionActive = errors.New("a session is already active")

	// ErrNotStarted is returned by Client.End when there is no session.
	ErrNotStarted = errors.New("session not started")

	// ErrTerminal is returned when an operation needs a live session but the
	// session already ended or failed.
	ErrTerminal = errors.New("session is terminal")
)

// PeerError is an error reported by the inference peer in an error message.
type PeerError struct {
	Message string
}

// Error implements the error interface.
func (e *PeerError) Error() string {
	return fmt.Sprintf("peer error: %s", e.Message)
}

// AsPeerError extracts a *PeerError from err's chain.
func AsPeerError(err error) (*PeerError, bool) {
	var pe *PeerError
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}
