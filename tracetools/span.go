// Package tracetools wraps OpenTelemetry span creation for the build
// execution core (spec §4.10): one span per task-runner state transition and
// one per cache push (per cache, not per path), exported via OTLP/gRPC when a collector
// endpoint is configured, or a no-op tracer provider otherwise.
package tracetools

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "hci_agent"

// StartSpan starts a span for operation under the tracer registered by
// Configure (or the global no-op tracer if Configure was never called).
func StartSpan(ctx context.Context, operation string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, operation)
}

// AddAttributes sets string attributes on span.
func AddAttributes(span trace.Span, attributes map[string]string) {
	for k, v := range attributes {
		span.SetAttributes(attribute.String(k, v))
	}
}

// EndWithError records err (if non-nil) on span and ends it.
func EndWithError(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
