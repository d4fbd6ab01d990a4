// Package observability provides the engine's tracing, metrics, and log
// export helpers. Spans and metrics use the otel API only, so they are
// no-ops until bootstrap installs providers; log export is the exception
// and builds its own OTLP provider on request.
package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const scopeName = "nestql"

// StartSpan starts an engine span with optional attributes.
func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	ctx, span := otel.Tracer(scopeName).Start(ctx, name)
	if len(attrs) > 0 {
		span.SetAttributes(attrs...)
	}
	return ctx, span
}

// RecordSpanError records err on span and marks it failed. Nil errors are
// ignored so callers can defer unconditionally.
func RecordSpanError(span trace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
