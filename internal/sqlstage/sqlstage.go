// Package sqlstage runs an external SQL script through psql and checks the
// table it is expected to produce.
package sqlstage

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/leapstack-labs/ltsprep/internal/connection"
	"github.com/leapstack-labs/ltsprep/internal/failure"
	"github.com/leapstack-labs/ltsprep/internal/process"
	"github.com/leapstack-labs/ltsprep/pkg/adapters/postgres"
)

// DefaultPsql is the psql binary looked up on PATH.
const DefaultPsql = "psql"

// DefaultSummaryMarker starts the part of the LTS script output that is
// echoed to the operator.
const DefaultSummaryMarker = "LTS Calculation Summary"

// Script describes one SQL stage.
type Script struct {
	// Name labels the stage in logs and errors.
	Name string
	Path string
	// SummaryMarker, when set, selects the stdout lines to echo.
	SummaryMarker string
	// OutputTable, when set, is checked after the script succeeded.
	OutputTable string
}

// Result reports a finished script.
type Result struct {
	Script Script
	// Summary holds stdout from the first marker line onward.
	Summary []string
	// Rows is the output table row count; -1 when the table is missing or
	// was not checked.
	Rows        int64
	TableExists bool
	Warning     string
}

// Line is the one-line stage summary.
func (r *Result) Line() string {
	s := "ran " + r.Script.Path
	switch {
	case r.Warning != "":
		s += " (warning: " + r.Warning + ")"
	case r.Script.OutputTable != "" && r.TableExists:
		s += fmt.Sprintf(", %s has %d rows", r.Script.OutputTable, r.Rows)
	}
	return s
}

// Runner executes SQL scripts with psql.
type Runner struct {
	runner      process.Runner
	dialer      postgres.Dialer
	psql        string
	onErrorStop bool
	logger      *slog.Logger
}

// Option configures a Runner.
type Option func(*Runner)

// WithPsql sets the psql binary.
func WithPsql(bin string) Option {
	return func(r *Runner) {
		if bin != "" {
			r.psql = bin
		}
	}
}

// WithOnErrorStop controls -v ON_ERROR_STOP=1.
func WithOnErrorStop(on bool) Option {
	return func(r *Runner) { r.onErrorStop = on }
}

// New creates a script runner. dialer may be nil when no script names an
// output table.
func New(runner process.Runner, dialer postgres.Dialer, logger *slog.Logger, opts ...Option) *Runner {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	r := &Runner{
		runner:      runner,
		dialer:      dialer,
		psql:        DefaultPsql,
		onErrorStop: true,
		logger:      logger,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Args builds the psql argument vector for a script.
func (r *Runner) Args(d connection.Descriptor, script string) []string {
	args := append(d.PsqlArgs(), "-f", script, "-q")
	if r.onErrorStop {
		args = append(args, "-v", "ON_ERROR_STOP=1")
	}
	return args
}

// Run checks the script exists, runs it and verifies its output table.
func (r *Runner) Run(ctx context.Context, d connection.Descriptor, s Script) (*Result, error) {
	info, err := os.Stat(s.Path)
	if errors.Is(err, os.ErrNotExist) || (err == nil && info.IsDir()) {
		return nil, failure.Missing(s.Name+" script", s.Path)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to stat %s: %w", s.Path, err)
	}

	cmd := process.Command{Name: r.psql, Args: r.Args(d, s.Path), Env: d.Env()}
	r.logger.Info("running sql script", slog.String("script", s.Path), slog.String("command", cmd.String()))

	out, err := r.runner.Run(ctx, cmd)
	if err != nil {
		return nil, err
	}
	if out.ExitCode != 0 {
		return nil, &failure.ToolError{Tool: "psql", ExitCode: out.ExitCode, Output: string(out.Stderr)}
	}
	if len(out.Stderr) > 0 {
		r.logger.Debug("psql stderr", slog.String("script", s.Path), slog.String("stderr", string(out.Stderr)))
	}

	res := &Result{Script: s, Rows: -1}
	if s.SummaryMarker != "" {
		res.Summary = ExtractSummary(out.Stdout, s.SummaryMarker)
	}
	if s.OutputTable != "" && r.dialer != nil {
		if err := r.checkOutput(ctx, d, res); err != nil {
			return nil, err
		}
	}
	return res, nil
}

func (r *Runner) checkOutput(ctx context.Context, d connection.Descriptor, res *Result) error {
	db, err := r.dialer.Dial(ctx, d.URL())
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", d.Redacted(), err)
	}
	defer func() { _ = db.Close() }()

	table := res.Script.OutputTable
	ok, err := db.TableExists(ctx, table)
	if err != nil {
		return err
	}
	if !ok {
		res.Warning = table + " was not created"
		r.logger.Warn("expected output table is missing", slog.String("table", table), slog.String("script", res.Script.Path))
		return nil
	}

	n, err := db.CountRows(ctx, table)
	if err != nil {
		return err
	}
	res.TableExists = true
	res.Rows = n
	return nil
}

// ExtractSummary returns the stdout lines starting at the first line that
// contains marker. It returns nil when the marker never appears.
func ExtractSummary(stdout []byte, marker string) []string {
	var lines []string
	found := false
	sc := bufio.NewScanner(bytes.NewReader(stdout))
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := sc.Text()
		if !found && strings.Contains(line, marker) {
			found = true
		}
		if found {
			lines = append(lines, line)
		}
	}
	return lines
}
