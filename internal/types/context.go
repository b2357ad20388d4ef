package types

import "context"

// Context keys
type contextKey string

const (
	cycleIDKey contextKey = "cycle_id"
	traceIDKey contextKey = "trace_id"
)

// WithCycleID stores the delivery cycle ID in the context.
func WithCycleID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, cycleIDKey, id)
}

// GetCycleID retrieves the delivery cycle ID from the context.
// Returns an empty string if none is set.
func GetCycleID(ctx context.Context) string {
	id, _ := ctx.Value(cycleIDKey).(string)
	return id
}

// WithTraceID stores the trace ID in the context. Outbound HTTP requests and
// queue messages propagate this value so backend logs can be correlated with
// a specific cycle.
func WithTraceID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, traceIDKey, id)
}

// GetTraceID retrieves the trace ID from the context.
// Returns an empty string if none is set.
func GetTraceID(ctx context.Context) string {
	id, _ := ctx.Value(traceIDKey).(string)
	return id
}
