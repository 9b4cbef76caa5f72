package salesetl

import (
	"context"
	"time"
)

type contextKey string

const (
	startedTimeKey contextKey = "startedTime"
	runIDKey       contextKey = "runID"
)

func withStartedTime(ctx context.Context, t time.Time) context.Context {
	return context.WithValue(ctx, startedTimeKey, t)
}

// StartedTimeFrom returns the start time of the run carried by ctx.
func StartedTimeFrom(ctx context.Context) (time.Time, bool) {
	t, ok := ctx.Value(startedTimeKey).(time.Time)
	return t, ok
}

func withRunID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, runIDKey, id)
}

// RunIDFrom returns the id of the run carried by ctx.
func RunIDFrom(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(runIDKey).(string)
	return id, ok
}
