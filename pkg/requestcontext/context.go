// Package requestcontext carries request and run identifiers through
// contexts so log lines from different layers can be correlated.
//
// HTTP middleware sets the request ID; the orchestrator sets the run ID
// before driving a batch or sync-all run:
//
//	requestID := requestcontext.RequestID(ctx)
//	runID := requestcontext.RunID(ctx)
package requestcontext

import "context"

type (
	requestIDKey struct{}
	runIDKey     struct{}
)

// RequestID retrieves the request ID from the context.
func RequestID(ctx context.Context) string {
	if reqID, ok := ctx.Value(requestIDKey{}).(string); ok {
		return reqID
	}
	return ""
}

// WithRequestID injects a request ID into the context.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, requestID)
}

// RunID retrieves the sync run ID a worker is executing under.
func RunID(ctx context.Context) string {
	if runID, ok := ctx.Value(runIDKey{}).(string); ok {
		return runID
	}
	return ""
}

// WithRunID tags the context with a sync run ID.
func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, runIDKey{}, runID)
}
