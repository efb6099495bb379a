// Package process runs external tools synchronously and captures what they
// print.
package process

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"time"
)

// Command is one external process invocation. Args never pass through a
// shell.
type Command struct {
	Name string
	Args []string
	// Env entries (KEY=value) appended to the parent environment.
	Env []string
	Dir string
}

// String renders the command line for logs. Env is never included.
func (c Command) String() string {
	return strings.Join(append([]string{c.Name}, c.Args...), " ")
}

// Result is the outcome of a process that ran to completion.
type Result struct {
	Stdout   []byte
	Stderr   []byte
	ExitCode int
	Duration time.Duration
}

// Runner executes commands.
type Runner interface {
	Run(ctx context.Context, cmd Command) (*Result, error)
}

// StartError reports a process that could not be started at all.
type StartError struct {
	Name string
	Err  error
}

func (e *StartError) Error() string {
	msg := fmt.Sprintf("failed to start %s: %v", e.Name, e.Err)
	if errors.Is(e.Err, exec.ErrNotFound) {
		msg += fmt.Sprintf("\nHint: install %s or point the matching *_BIN setting at it", e.Name)
	}
	return msg
}

func (e *StartError) Unwrap() error { return e.Err }

// ExecRunner runs commands with os/exec.
type ExecRunner struct {
	logger *slog.Logger
}

// NewExecRunner creates a runner. If logger is nil, a discard logger is used.
func NewExecRunner(logger *slog.Logger) *ExecRunner {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &ExecRunner{logger: logger}
}

// Run starts the command and blocks until it exits. A nonzero exit status is
// reported in Result.ExitCode, not as an error.
func (r *ExecRunner) Run(ctx context.Context, c Command) (*Result, error) {
	cmd := exec.CommandContext(ctx, c.Name, c.Args...)
	cmd.Dir = c.Dir
	cmd.Env = append(os.Environ(), c.Env...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	r.logger.Debug("running command", slog.String("command", c.String()), slog.String("dir", c.Dir))

	start := time.Now()
	err := cmd.Run()
	res := &Result{
		Stdout:   stdout.Bytes(),
		Stderr:   stderr.Bytes(),
		Duration: time.Since(start),
	}

	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return nil, &StartError{Name: c.Name, Err: err}
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("%s interrupted: %w", c.Name, ctxErr)
		}
		res.ExitCode = exitErr.ExitCode()
	}

	r.logger.Debug("command finished",
		slog.String("command", c.Name),
		slog.Int("exit_code", res.ExitCode),
		slog.Duration("duration", res.Duration))

	return res, nil
}

var _ Runner = (*ExecRunner)(nil)
