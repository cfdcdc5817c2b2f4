package events

import (
	"time"

	"github.com/Nathan-Asif/AegisMedix/transport"
)

// EventType identifies the type of event emitted by a session.
type EventType string

const (
	// EventPhaseChanged marks a session phase transition.
	EventPhaseChanged EventType = "session.phase_changed"
	// EventTextReceived marks a transcript line from the peer.
	EventTextReceived EventType = "session.text"
	// EventSummaryReceived marks the in-band end-of-session summary.
	EventSummaryReceived EventType = "session.summary"
	// EventSessionEnded marks a session reaching ended or error, after its
	// resources were released.
	EventSessionEnded EventType = "session.ended"
)

// EventData is a marker interface for event payloads.
type EventData interface {
	eventData()
}

// Event represents a session event delivered to listeners.
type Event struct {
	Type      EventType
	Timestamp time.Time
	SessionID string
	SubjectID string
	Data      EventData
}

// baseEventData provides a shared marker implementation for all event payloads.
type baseEventData struct{}

func (baseEventData) eventData() {}

// PhaseChangedData contains data for phase transition events.
type PhaseChangedData struct {
	baseEventData
	From   string
	To     string
	Reason string
}

// TextReceivedData contains a transcript line.
type TextReceivedData struct {
	baseEventData
	Content string
}

// SummaryReceivedData carries the peer's end-of-session summary.
type SummaryReceivedData struct {
	baseEventData
	Summary *transport.Summary
}

// SessionEndedData describes how a session terminated.
type SessionEndedData struct {
	baseEventData
	// Phase is the terminal phase, "ended" or "error".
	Phase string
	// Reason names the trigger (user, peer_status, transport_closed, ...).
	Reason string
	// Err is the cause when Phase is "error".
	Err error
	// SummaryReceived reports whether a summary arrived in-band.
	SummaryReceived bool
	// NeedsSummaryFallback asks the summary collaborator to poll for the
	// persisted summary: the session ended normally without one in-band.
	NeedsSummaryFallback bool
	StartedAt            time.Time
	Duration             time.Duration
}
