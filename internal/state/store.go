// Package state keeps a local SQLite ledger of pipeline runs, their stages
// and the Overture downloads they produced.
package state

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a lookup matches nothing.
var ErrNotFound = errors.New("not found")

// RunStatus is the lifecycle status of a run.
type RunStatus string

// Run statuses.
const (
	RunStatusRunning RunStatus = "running"
	RunStatusDone    RunStatus = "done"
	RunStatusFailed  RunStatus = "failed"
)

// StageStatus is the lifecycle status of one stage within a run.
type StageStatus string

// Stage statuses.
const (
	StageStatusRunning StageStatus = "running"
	StageStatusSuccess StageStatus = "success"
	StageStatusFailed  StageStatus = "failed"
)

// Run is one invocation of the pipeline.
type Run struct {
	ID          string
	Status      RunStatus
	FinalState  string
	ErrorKind   string
	Error       string
	StartedAt   time.Time
	CompletedAt *time.Time
}

// Duration is the wall time of the run, or zero while it is running.
func (r *Run) Duration() time.Duration {
	if r.CompletedAt == nil {
		return 0
	}
	return r.CompletedAt.Sub(r.StartedAt)
}

// StageRun is one stage execution within a run.
type StageRun struct {
	RunID       string
	Stage       string
	Status      StageStatus
	Summary     string
	Error       string
	StartedAt   time.Time
	CompletedAt *time.Time
}

// Duration is the wall time of the stage, or zero while it is running.
func (s *StageRun) Duration() time.Duration {
	if s.CompletedAt == nil {
		return 0
	}
	return s.CompletedAt.Sub(s.StartedAt)
}

// Acquisition records a downloaded dataset file.
type Acquisition struct {
	Path      string
	Release   string
	West      float64
	South     float64
	East      float64
	North     float64
	Features  int64
	CreatedAt time.Time
}
