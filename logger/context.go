package logger

import (
	"context"
	"log/slog"
)

type fieldsKey struct{}

// Fields are the session attributes carried by a context and added to every
// record logged through a *Context function.
type Fields struct {
	SessionID string
	SubjectID string
	Phase     string
	Component string
}

func (f Fields) attrs() []slog.Attr {
	var attrs []slog.Attr
	for _, kv := range [...]struct{ k, v string }{
		{"session_id", f.SessionID},
		{"subject_id", f.SubjectID},
		{"phase", f.Phase},
		{"component", f.Component},
	} {
		if kv.v != "" {
			attrs = append(attrs, slog.String(kv.k, kv.v))
		}
	}
	return attrs
}

// FieldsFrom returns the fields stored in ctx.
func FieldsFrom(ctx context.Context) Fields {
	if ctx == nil {
		return Fields{}
	}
	f, _ := ctx.Value(fieldsKey{}).(Fields)
	return f
}

func with(ctx context.Context, set func(*Fields)) context.Context {
	f := FieldsFrom(ctx)
	set(&f)
	return context.WithValue(ctx, fieldsKey{}, f)
}

// WithSessionID returns ctx carrying the session ID.
func WithSessionID(ctx context.Context, id string) context.Context {
	return with(ctx, func(f *Fields) { f.SessionID = id })
}

// WithSubjectID returns ctx carrying the subject (patient) ID.
func WithSubjectID(ctx context.Context, id string) context.Context {
	return with(ctx, func(f *Fields) { f.SubjectID = id })
}

// WithPhase returns ctx carrying the session phase.
func WithPhase(ctx context.Context, phase string) context.Context {
	return with(ctx, func(f *Fields) { f.Phase = phase })
}

// WithComponent returns ctx carrying the emitting component.
func WithComponent(ctx context.Context, name string) context.Context {
	return with(ctx, func(f *Fields) { f.Component = name })
}

// sessionHandler prepends the context's Fields to each record.
type sessionHandler struct {
	next slog.Handler
}

func (h sessionHandler) Enabled(ctx context.Context, lvl slog.Level) bool {
	return h.next.Enabled(ctx, lvl)
}

//nolint:gocritic // slog.Handler takes the record by value
func (h sessionHandler) Handle(ctx context.Context, r slog.Record) error {
	attrs := FieldsFrom(ctx).attrs()
	if len(attrs) == 0 {
		return h.next.Handle(ctx, r)
	}
	rec := slog.NewRecord(r.Time, r.Level, r.Message, r.PC)
	rec.AddAttrs(attrs...)
	r.Attrs(func(a slog.Attr) bool {
		rec.AddAttrs(a)
		return true
	})
	return h.next.Handle(ctx, rec)
}

func (h sessionHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return sessionHandler{next: h.next.WithAttrs(attrs)}
}

func (h sessionHandler) WithGroup(name string) slog.Handler {
	return sessionHandler{next: h.next.WithGroup(name)}
}
