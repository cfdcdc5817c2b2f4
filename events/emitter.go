package events

import (
	"time"

	"github.com/Nathan-Asif/AegisMedix/transport"
)

// Emitter provides helpers for publishing session events with shared metadata.
type Emitter struct {
	bus       *EventBus
	sessionID string
	subjectID string
}

// NewEmitter creates a new event emitter. A nil bus makes every helper a no-op.
func NewEmitter(bus *EventBus, sessionID, subjectID string) *Emitter {
	return &Emitter{
		bus:       bus,
		sessionID: sessionID,
		subjectID: subjectID,
	}
}

// emit publishes an event with shared context fields.
func (e *Emitter) emit(eventType EventType, data EventData) {
	if e == nil || e.bus == nil {
		return
	}
	e.bus.Publish(&Event{
		Type:      eventType,
		Timestamp: time.Now(),
		SessionID: e.sessionID,
		SubjectID: e.subjectID,
		Data:      data,
	})
}

// PhaseChanged emits the session.phase_changed event.
func (e *Emitter) PhaseChanged(from, to, reason string) {
	e.emit(EventPhaseChanged, PhaseChangedData{From: from, To: to, Reason: reason})
}

// TextReceived emits the session.text event.
func (e *Emitter) TextReceived(content string) {
	e.emit(EventTextReceived, TextReceivedData{Content: content})
}

// SummaryReceived emits the session.summary event.
func (e *Emitter) SummaryReceived(summary *transport.Summary) {
	e.emit(EventSummaryReceived, SummaryReceivedData{Summary: summary})
}

// SessionEnded emits the session.ended event.
func (e *Emitter) SessionEnded(data *SessionEndedData) {
	e.emit(EventSessionEnded, *data)
}
