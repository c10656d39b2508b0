package logging

import (
	"context"

	"github.com/google/uuid"
)

type contextKey string

const runIDKey contextKey = "run_id"

// NewRunID returns a fresh identifier for one harness run
func NewRunID() string {
	return uuid.New().String()
}

// ContextWithRunID returns a context carrying runID
func ContextWithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, runIDKey, runID)
}

// RunIDFromContext extracts the run ID from ctx, or "" if none is set
func RunIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if runID, ok := ctx.Value(runIDKey).(string); ok {
		return runID
	}
	return ""
}
