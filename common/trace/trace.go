// Package trace provides trace/span ID generation and context propagation
// for request correlation across handler -> sub-operation boundaries.
//
// IDs are real OpenTelemetry trace.TraceID/trace.SpanID values (16 and 8
// random bytes respectively) rather than a hand-rolled hex scheme, so the
// ids threaded through this package line up byte-for-byte with the
// OpenTelemetry spans the telemetry package emits for the same operation —
// the WS event envelope's trace_id/span_id fields and the otel span that
// produced them are the same identifiers, not a parallel format.
package trace

import (
	"context"
	"crypto/rand"

	"go.opentelemetry.io/otel/trace"
)

type traceKey struct{}
type spanKey struct{}

// GenerateID generates a new random trace id, hex-encoded per the W3C
// trace-context format otel uses (32 hex chars).
func GenerateID() string {
	var tid trace.TraceID
	_, _ = rand.Read(tid[:])
	return tid.String()
}

// GenerateSpanID generates a new random span id (16 hex chars).
func GenerateSpanID() string {
	var sid trace.SpanID
	_, _ = rand.Read(sid[:])
	return sid.String()
}

// WithTraceID returns a child context carrying the given trace ID.
func WithTraceID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, traceKey{}, id)
}

// FromContext extracts the trace ID from ctx, returning "" if absent.
func FromContext(ctx context.Context) string {
	if v, ok := ctx.Value(traceKey{}).(string); ok {
		return v
	}
	return ""
}

// WithSpanID returns a child context carrying the given span ID, used as
// the parent_span_id of any span started beneath it.
func WithSpanID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, spanKey{}, id)
}

// SpanFromContext extracts the span ID from ctx, returning "" if absent.
func SpanFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(spanKey{}).(string); ok {
		return v
	}
	return ""
}
