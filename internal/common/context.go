// internal/common/context.go
package common

import "context"

type contextKey string

// RunIDKey is the context key for the current GC run's identifier, threaded
// through the ref collector, classifier, and packer driver so their log
// lines and metrics can be correlated back to one run.
const RunIDKey = contextKey("run-id")

// GetRunID extracts the run ID from context, if one was set.
func GetRunID(ctx context.Context) string {
	if runID, ok := ctx.Value(RunIDKey).(string); ok {
		return runID
	}
	return "unknown"
}

// WithRunID attaches a run ID to context.
func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, RunIDKey, runID)
}
