package telemetry

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/Nathan-Asif/AegisMedix/events"
)

const (
	sessionSpanName = "aegis.session"
	idlePhase       = "idle"
)

// SessionListener converts session events into one span per session, with a
// span event for each phase transition. It relies on the bus delivering
// events in publish order.
type SessionListener struct {
	tracer trace.Tracer

	mu       sync.Mutex
	sessions map[string]trace.Span
}

// NewSessionListener creates a listener that records spans with tracer.
func NewSessionListener(tracer trace.Tracer) *SessionListener {
	return &SessionListener{
		tracer:   tracer,
		sessions: make(map[string]trace.Span),
	}
}

// OnEvent handles a bus event. Register it with EventBus.SubscribeAll.
func (l *SessionListener) OnEvent(event *events.Event) {
	//exhaustive:ignore
	switch event.Type {
	case events.EventPhaseChanged:
		data, ok := event.Data.(events.PhaseChangedData)
		if !ok {
			return
		}
		if data.From == idlePhase {
			l.start(event)
		}
		l.addEvent(event.SessionID, "phase."+data.To,
			attribute.String("phase.from", data.From),
			attribute.String("phase.reason", data.Reason),
		)
	case events.EventTextReceived:
		l.addEvent(event.SessionID, "text.received")
	case events.EventSummaryReceived:
		l.addEvent(event.SessionID, "summary.received")
	case events.EventSessionEnded:
		if data, ok := event.Data.(events.SessionEndedData); ok {
			l.end(event.SessionID, &data)
		}
	default:
	}
}

// SpanContext returns a context carrying the session's span, or ctx unchanged
// if the session is unknown.
func (l *SessionListener) SpanContext(ctx context.Context, sessionID string) context.Context {
	l.mu.Lock()
	span, ok := l.sessions[sessionID]
	l.mu.Unlock()
	if !ok {
		return ctx
	}
	return trace.ContextWithSpan(ctx, span)
}

func (l *SessionListener) start(event *events.Event) {
	_, span := l.tracer.Start(context.Background(), sessionSpanName,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithTimestamp(event.Timestamp),
		trace.WithAttributes(
			attribute.String("session.id", event.SessionID),
			attribute.String("subject.id", event.SubjectID),
		),
	)
	l.mu.Lock()
	l.sessions[event.SessionID] = span
	l.mu.Unlock()
}

func (l *SessionListener) addEvent(sessionID, name string, attrs ...attribute.KeyValue) {
	l.mu.Lock()
	span, ok := l.sessions[sessionID]
	l.mu.Unlock()
	if ok {
		span.AddEvent(name, trace.WithAttributes(attrs...))
	}
}

func (l *SessionListener) end(sessionID string, data *events.SessionEndedData) {
	l.mu.Lock()
	span, ok := l.sessions[sessionID]
	delete(l.sessions, sessionID)
	l.mu.Unlock()
	if !ok {
		return
	}

	span.SetAttributes(
		attribute.String("session.outcome", data.Phase),
		attribute.String("session.end_reason", data.Reason),
		attribute.Bool("session.summary_received", data.SummaryReceived),
	)
	if data.Err != nil {
		span.RecordError(data.Err)
		span.SetStatus(codes.Error, data.Err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}
