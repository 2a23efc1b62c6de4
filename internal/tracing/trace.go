package tracing

import (
	"context"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
)

// TraceContext carries the identifiers used to correlate log lines for one
// checkout or callback request.
type TraceContext struct {
	TraceID string            // Globally unique ID for logs and spans
	SpanID  string            // Current span identifier
	Baggage map[string]string // e.g. session id, merchant reference
}

// NewTraceContext creates a new TraceContext with a unique TraceID and an initial SpanID.
func NewTraceContext() TraceContext {
	return TraceContext{
		TraceID: uuid.NewString(),
		SpanID:  uuid.NewString(),
		Baggage: make(map[string]string),
	}
}

// Set records a baggage entry.
func (tc *TraceContext) Set(key, value string) {
	if tc.Baggage == nil {
		tc.Baggage = make(map[string]string)
	}
	tc.Baggage[key] = value
}

type traceKey struct{}

// WithTraceContext stores tc in ctx.
func WithTraceContext(ctx context.Context, tc TraceContext) context.Context {
	return context.WithValue(ctx, traceKey{}, tc)
}

// FromContext returns the TraceContext stored in ctx. When ctx carries a
// recording OpenTelemetry span its trace and span ids win, so log lines line
// up with exported spans. Without either, a fresh TraceContext is returned.
func FromContext(ctx context.Context) TraceContext {
	tc, ok := ctx.Value(traceKey{}).(TraceContext)
	if !ok {
		tc = NewTraceContext()
	}
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		tc.TraceID = sc.TraceID().String()
		tc.SpanID = sc.SpanID().String()
	}
	return tc
}
