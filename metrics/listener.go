package metrics

import (
	"github.com/Nathan-Asif/AegisMedix/events"
)

// idlePhase is the phase a session leaves when it starts.
const idlePhase = "idle"

// Listener records session events as Prometheus metrics.
// Register it with an EventBus using SubscribeAll.
type Listener struct{}

// NewListener creates a new metrics Listener.
func NewListener() *Listener {
	return &Listener{}
}

// Handle processes an event and records relevant metrics.
func (l *Listener) Handle(event *events.Event) {
	//exhaustive:ignore
	switch event.Type {
	case events.EventPhaseChanged:
		if data, ok := event.Data.(events.PhaseChangedData); ok {
			if data.From == idlePhase {
				RecordSessionStart()
			}
			RecordPhaseTransition(data.From, data.To)
		}
	case events.EventSessionEnded:
		if data, ok := event.Data.(events.SessionEndedData); ok {
			outcome := OutcomeEnded
			if data.Phase == OutcomeError {
				outcome = OutcomeError
			}
			RecordSessionEnd(outcome, data.Duration.Seconds())
		}
	default:
	}
}

// Listener returns an events.Listener that can be registered with an EventBus.
func (l *Listener) Listener() events.Listener {
	return l.Handle
}
