// Package telemetry traces live consultations with OpenTelemetry.
//
// Each session becomes one "aegis.session" span, opened when the session
// leaves idle and closed with its terminal phase and reason. Phase changes,
// transcript lines and the in-band summary are span events on it. The
// summary lookup client is instrumented with otelhttp, so with the global
// propagator installed its requests carry trace headers to the backend.
package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// Scope identifies the spans this module records.
const (
	ScopeName    = "github.com/Nathan-Asif/AegisMedix"
	ScopeVersion = "0.1.0"
)

// Tracer returns the module's tracer from tp, or from the global provider
// when tp is nil.
func Tracer(tp trace.TracerProvider) trace.Tracer {
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	return tp.Tracer(ScopeName, trace.WithInstrumentationVersion(ScopeVersion))
}

// NewTracerProvider batches session spans to an OTLP/HTTP collector at
// endpoint (tracing.endpoint or --otlp). serviceName comes from
// tracing.service_name and wins over OTEL_RESOURCE_ATTRIBUTES; host
// attributes identify the workstation running the consultation. Shut the
// provider down after the session ends so the final span is flushed.
func NewTracerProvider(ctx context.Context, endpoint, serviceName string) (*sdktrace.TracerProvider, error) {
	exp, err := otlptracehttp.New(ctx, otlptracehttp.WithEndpointURL(endpoint))
	if err != nil {
		return nil, fmt.Errorf("failed to create OTLP exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithTelemetrySDK(),
		resource.WithHost(),
		resource.WithFromEnv(),
		resource.WithAttributes(attribute.String("service.name", serviceName)),
	)
	if err != nil {
		_ = exp.Shutdown(ctx)
		return nil, fmt.Errorf("failed to build resource: %w", err)
	}

	return sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(exp),
	), nil
}

// SetupPropagation installs W3C trace context and baggage as the global
// propagator, so the summary lookup carries the session's trace.
func SetupPropagation() {
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
}
