// Package pipeline sequences the preparation stages as a fail-fast state
// machine.
//
// A run moves INIT → DB_SETUP → LOAD_VECTOR → LOAD_NETWORK → CONFLATE →
// SCORE_LTS → CLEANUP → DONE. The first stage error moves it to FAILED and
// nothing after that stage runs. Nothing is rolled back.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/leapstack-labs/ltsprep/internal/failure"
)

// State is a pipeline state.
type State string

// Pipeline states.
const (
	StateInit        State = "INIT"
	StateDBSetup     State = "DB_SETUP"
	StateLoadVector  State = "LOAD_VECTOR"
	StateLoadNetwork State = "LOAD_NETWORK"
	StateConflate    State = "CONFLATE"
	StateScoreLTS    State = "SCORE_LTS"
	StateCleanup     State = "CLEANUP"
	StateDone        State = "DONE"
	StateFailed      State = "FAILED"
)

// Order is the canonical order of the stage states.
var Order = []State{
	StateDBSetup,
	StateLoadVector,
	StateLoadNetwork,
	StateConflate,
	StateScoreLTS,
	StateCleanup,
}

func position(s State) int {
	for i, o := range Order {
		if o == s {
			return i
		}
	}
	return -1
}

// DoneSummary lists the tables a complete run leaves behind.
var DoneSummary = []string{
	"overture_roads: Overture Maps road segments",
	"model_network: model network from the shapefile",
	"output.network_with_speed: model network with conflated speed data",
	"output.network_with_lts: final network with LTS scores",
}

// Outcome is what a successful stage reports.
type Outcome struct {
	Summary string
	// Lines are echoed to the operator verbatim.
	Lines []string
}

// StageFunc performs one stage.
type StageFunc func(ctx context.Context) (*Outcome, error)

// Stage binds a state to the work done in it.
type Stage struct {
	State State
	Title string
	Run   StageFunc
}

// Status is the result of one stage.
type Status string

// Stage statuses.
const (
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
)

// StageReport records one executed stage.
type StageReport struct {
	State    State
	Title    string
	Status   Status
	Summary  string
	Lines    []string
	Duration time.Duration
	Err      error
}

// Report is the result of a run. Stages after a failure are absent.
type Report struct {
	RunID    string
	Stages   []StageReport
	Final    State
	Err      error
	Kind     failure.Kind
	Duration time.Duration
}

// Succeeded reports whether the run reached DONE.
func (r *Report) Succeeded() bool {
	return r.Final == StateDone
}

// FailedStage returns the stage that failed, if any.
func (r *Report) FailedStage() (StageReport, bool) {
	for _, s := range r.Stages {
		if s.Status == StatusFailed {
			return s, true
		}
	}
	return StageReport{}, false
}

// Observer receives every transition, for rendering.
type Observer interface {
	StageStarted(stage Stage)
	StageFinished(report StageReport)
	RunFinished(report *Report)
}

// NopObserver ignores every event.
type NopObserver struct{}

func (NopObserver) StageStarted(Stage)        {}
func (NopObserver) StageFinished(StageReport) {}
func (NopObserver) RunFinished(*Report)       {}

// Recorder persists transitions. Its errors are logged and never change
// the outcome of a run.
type Recorder interface {
	BeginRun(ctx context.Context) (string, error)
	BeginStage(ctx context.Context, runID string, state State) error
	EndStage(ctx context.Context, runID string, report StageReport) error
	EndRun(ctx context.Context, runID string, report *Report) error
}

// Pipeline runs a validated list of stages.
type Pipeline struct {
	stages   []Stage
	observer Observer
	recorder Recorder
	logger   *slog.Logger
	now      func() time.Time
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithObserver sets the observer.
func WithObserver(o Observer) Option {
	return func(p *Pipeline) {
		if o != nil {
			p.observer = o
		}
	}
}

// WithRecorder sets the recorder.
func WithRecorder(r Recorder) Option {
	return func(p *Pipeline) { p.recorder = r }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Pipeline) {
		if l != nil {
			p.logger = l
		}
	}
}

// ErrInvalidStages is wrapped by New for a stage list it rejects.
var ErrInvalidStages = errors.New("invalid stage list")

// New validates that stages follow the canonical order without repeats.
func New(stages []Stage, opts ...Option) (*Pipeline, error) {
	if len(stages) == 0 {
		return nil, fmt.Errorf("%w: no stages", ErrInvalidStages)
	}

	last := -1
	for _, s := range stages {
		pos := position(s.State)
		switch {
		case pos < 0:
			return nil, fmt.Errorf("%w: %s is not a stage state", ErrInvalidStages, s.State)
		case pos == last:
			return nil, fmt.Errorf("%w: %s appears twice", ErrInvalidStages, s.State)
		case pos < last:
			return nil, fmt.Errorf("%w: %s must run before %s", ErrInvalidStages, s.State, Order[last])
		case s.Run == nil:
			return nil, fmt.Errorf("%w: %s has no work", ErrInvalidStages, s.State)
		}
		last = pos
	}

	p := &Pipeline{
		stages:   append([]Stage(nil), stages...),
		observer: NopObserver{},
		logger:   slog.New(slog.DiscardHandler),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Stages returns the stages in execution order.
func (p *Pipeline) Stages() []Stage {
	return append([]Stage(nil), p.stages...)
}

// Run executes the stages in order and stops at the first error.
func (p *Pipeline) Run(ctx context.Context) *Report {
	start := p.now()
	report := &Report{Final: StateInit}

	if p.recorder != nil {
		id, err := p.recorder.BeginRun(ctx)
		if err != nil {
			p.logger.Warn("failed to record run start", slog.String("error", err.Error()))
		}
		report.RunID = id
	}

	for _, stage := range p.stages {
		if err := ctx.Err(); err != nil {
			p.fail(report, fmt.Errorf("interrupted before %s: %w", stage.State, err))
			break
		}

		report.Final = stage.State
		sr := p.runStage(ctx, report.RunID, stage)
		report.Stages = append(report.Stages, sr)

		if sr.Err != nil {
			p.fail(report, sr.Err)
			break
		}
	}

	if report.Err == nil {
		report.Final = StateDone
		p.logger.Info("pipeline complete")
	}
	report.Duration = p.now().Sub(start)

	if p.recorder != nil && report.RunID != "" {
		if err := p.recorder.EndRun(context.WithoutCancel(ctx), report.RunID, report); err != nil {
			p.logger.Warn("failed to record run end", slog.String("error", err.Error()))
		}
	}
	p.observer.RunFinished(report)
	return report
}

func (p *Pipeline) runStage(ctx context.Context, runID string, stage Stage) StageReport {
	p.logger.Info("stage started", slog.String("state", string(stage.State)))
	p.observer.StageStarted(stage)
	if p.recorder != nil && runID != "" {
		if err := p.recorder.BeginStage(ctx, runID, stage.State); err != nil {
			p.logger.Warn("failed to record stage start", slog.String("state", string(stage.State)), slog.String("error", err.Error()))
		}
	}

	begin := p.now()
	out, err := stage.Run(ctx)
	sr := StageReport{
		State:    stage.State,
		Title:    stage.Title,
		Status:   StatusSuccess,
		Duration: p.now().Sub(begin),
	}
	if err != nil {
		sr.Status = StatusFailed
		sr.Err = err
		p.logger.Info("stage failed",
			slog.String("state", string(stage.State)),
			slog.String("kind", string(failure.KindOf(err))),
			slog.String("error", err.Error()))
	} else if out != nil {
		sr.Summary = out.Summary
		sr.Lines = out.Lines
	}

	if p.recorder != nil && runID != "" {
		if err := p.recorder.EndStage(context.WithoutCancel(ctx), runID, sr); err != nil {
			p.logger.Warn("failed to record stage end", slog.String("state", string(stage.State)), slog.String("error", err.Error()))
		}
	}
	p.observer.StageFinished(sr)
	return sr
}

func (p *Pipeline) fail(report *Report, err error) {
	report.Final = StateFailed
	report.Err = err
	report.Kind = failure.KindOf(err)
}
