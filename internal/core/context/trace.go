package context

import (
	"context"
)

// TraceContext carries per-request tracing identifiers. The HTTP trace
// middleware populates it; the logger reads it back to enrich every line
// written during the request.
type TraceContext struct {
	TraceID   string
	SpanID    string
	RequestID string
}

type traceContextKey struct{}

// WithTrace attaches a TraceContext to the context.
func WithTrace(ctx context.Context, trace *TraceContext) context.Context {
	return context.WithValue(ctx, traceContextKey{}, trace)
}

// GetTrace returns the TraceContext, or nil outside a traced request
// (background sweeps, startup).
func GetTrace(ctx context.Context) *TraceContext {
	if v, ok := ctx.Value(traceContextKey{}).(*TraceContext); ok {
		return v
	}
	return nil
}
