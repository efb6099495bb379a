package commands

import (
	"errors"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/leapstack-labs/ltsprep/internal/state"
)

// StatusOutput is the JSON output of the status command.
type StatusOutput struct {
	Run    *RunJSON    `json:"run"`
	Stages []StageJSON `json:"stages"`
}

// RunJSON describes one recorded run.
type RunJSON struct {
	ID          string     `json:"id"`
	Status      string     `json:"status"`
	FinalState  string     `json:"final_state"`
	ErrorKind   string     `json:"error_kind,omitempty"`
	Error       string     `json:"error,omitempty"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	DurationMS  int64      `json:"duration_ms"`
}

// StageJSON describes one recorded stage.
type StageJSON struct {
	State      string `json:"state"`
	Status     string `json:"status"`
	Summary    string `json:"summary,omitempty"`
	Error      string `json:"error,omitempty"`
	DurationMS int64  `json:"duration_ms"`
}

// NewStatusCommand creates the status command.
func NewStatusCommand() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the latest recorded run",
		Long:  `Print the latest run from the run-state ledger and the stages it executed.`,
		Example: `  ltsprep status
  ltsprep status --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runStatus(cmd, asJSON)
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}

func runStatus(cmd *cobra.Command, asJSON bool) error {
	cc, err := NewCommandContext(cmd)
	if err != nil {
		return err
	}
	store, err := cc.OpenStore(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	run, err := store.LatestRun(cmd.Context())
	if errors.Is(err, state.ErrNotFound) {
		if asJSON {
			return cc.Renderer.JSON(StatusOutput{Stages: []StageJSON{}})
		}
		cc.Renderer.Muted("No runs recorded in " + store.Path())
		return nil
	}
	if err != nil {
		return err
	}
	stages, err := store.StageRuns(cmd.Context(), run.ID)
	if err != nil {
		return err
	}

	out := buildStatusOutput(run, stages)
	if asJSON {
		return cc.Renderer.JSON(out)
	}

	r := cc.Renderer
	r.Header("Latest run")
	r.KeyValue("Run", run.ID)
	r.KeyValue("Started", humanize.Time(run.StartedAt))
	if run.CompletedAt != nil {
		r.KeyValue("Duration", run.Duration().Round(time.Millisecond).String())
	}
	r.StatusLine("Status:", string(run.Status), run.Status != state.RunStatusFailed)
	r.KeyValue("Final state", run.FinalState)
	if run.Error != "" {
		r.KeyValue("Error", run.Error)
	}
	r.Println()

	rows := make([]table.Row, 0, len(stages))
	for _, s := range out.Stages {
		detail := s.Summary
		if s.Error != "" {
			detail = s.Error
		}
		rows = append(rows, table.Row{s.State, s.Status, (time.Duration(s.DurationMS) * time.Millisecond).String(), detail})
	}
	r.Table(table.Row{"Stage", "Status", "Duration", "Detail"}, rows)
	return nil
}

func buildStatusOutput(run *state.Run, stages []*state.StageRun) StatusOutput {
	out := StatusOutput{
		Run: &RunJSON{
			ID:          run.ID,
			Status:      string(run.Status),
			FinalState:  run.FinalState,
			ErrorKind:   run.ErrorKind,
			Error:       run.Error,
			StartedAt:   run.StartedAt,
			CompletedAt: run.CompletedAt,
			DurationMS:  run.Duration().Milliseconds(),
		},
		Stages: make([]StageJSON, 0, len(stages)),
	}
	for _, s := range stages {
		out.Stages = append(out.Stages, StageJSON{
			State:      s.Stage,
			Status:     string(s.Status),
			Summary:    s.Summary,
			Error:      s.Error,
			DurationMS: s.Duration().Milliseconds(),
		})
	}
	return out
}
