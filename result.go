package salesetl

import (
	"time"
)

// Status is the outcome of a run.
type Status string

// Run statuses.
const (
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// Phase names the step of a run.
type Phase string

// Run phases in execution order.
const (
	PhaseExtract   Phase = "extract"
	PhaseParse     Phase = "parse"
	PhaseTransform Phase = "transform"
	PhaseLoad      Phase = "load"
)

// Result is the outcome of one run.
type Result struct {
	RunID  string
	Job    string
	Source Source
	Status Status

	// Phase is the failed phase. Empty on success.
	Phase Phase
	Err   error

	Extracted   int
	Loaded      int
	Dropped     int
	DropReasons map[string]int

	StartedAt  time.Time
	FinishedAt time.Time
}

// Succeeded reports whether the run loaded the destination.
func (r *Result) Succeeded() bool {
	return r.Status == StatusSucceeded
}

// Duration returns the wall time of the run.
func (r *Result) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

func (r *Result) fail(p Phase, err error) {
	r.Status = StatusFailed
	r.Phase = p
	r.Err = err
}
