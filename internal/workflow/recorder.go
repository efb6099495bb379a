package workflow

import (
	"context"

	"github.com/leapstack-labs/ltsprep/internal/pipeline"
	"github.com/leapstack-labs/ltsprep/internal/state"
)

// RunLedger is the part of the state store the recorder writes to.
type RunLedger interface {
	CreateRun(ctx context.Context) (*state.Run, error)
	CompleteRun(ctx context.Context, id string, status state.RunStatus, finalState, errKind, errMsg string) error
	StartStage(ctx context.Context, runID, stage string) error
	CompleteStage(ctx context.Context, runID, stage string, status state.StageStatus, summary, errMsg string) error
}

// Recorder writes pipeline transitions to the run-state ledger.
type Recorder struct {
	ledger RunLedger
}

// NewRecorder creates a recorder over ledger.
func NewRecorder(ledger RunLedger) *Recorder {
	return &Recorder{ledger: ledger}
}

// BeginRun implements pipeline.Recorder.
func (r *Recorder) BeginRun(ctx context.Context) (string, error) {
	run, err := r.ledger.CreateRun(ctx)
	if err != nil {
		return "", err
	}
	return run.ID, nil
}

// BeginStage implements pipeline.Recorder.
func (r *Recorder) BeginStage(ctx context.Context, runID string, s pipeline.State) error {
	return r.ledger.StartStage(ctx, runID, string(s))
}

// EndStage implements pipeline.Recorder.
func (r *Recorder) EndStage(ctx context.Context, runID string, rep pipeline.StageReport) error {
	status := state.StageStatusSuccess
	var msg string
	if rep.Status == pipeline.StatusFailed {
		status = state.StageStatusFailed
		msg = errString(rep.Err)
	}
	return r.ledger.CompleteStage(ctx, runID, string(rep.State), status, rep.Summary, msg)
}

// EndRun implements pipeline.Recorder.
func (r *Recorder) EndRun(ctx context.Context, runID string, rep *pipeline.Report) error {
	status := state.RunStatusDone
	if !rep.Succeeded() {
		status = state.RunStatusFailed
	}
	return r.ledger.CompleteRun(ctx, runID, status, string(rep.Final), string(rep.Kind), errString(rep.Err))
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

var _ pipeline.Recorder = (*Recorder)(nil)
