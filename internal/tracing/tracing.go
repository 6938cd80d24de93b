// Package tracing provides small span helpers around go.opentelemetry.io/otel,
// generalizing the "observability.StartSpan/SetSpanError/SetSpanOK" pattern
// used for instrumenting long-running operations, so a slow reconciliation
// pass or a stuck long-poll (spec.md §4.3.5, §7) shows up in a trace rather
// than only in logs.
package tracing

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// tracerName is the instrumentation scope every Lance span is recorded
// under.
const tracerName = "github.com/pedohorse/lance"

// StartSpan opens a span named name under the package tracer, attaching
// attrs as initial attributes. Callers must call span.End() (directly or
// via defer).
func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, name, trace.WithAttributes(attrs...))
}

// SetSpanError records err on span and marks it as failed. A nil err is a
// no-op.
func SetSpanError(span trace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// SetSpanOK marks span as having completed successfully.
func SetSpanOK(span trace.Span) {
	span.SetStatus(codes.Ok, "")
}
