// Package failure classifies the fatal conditions a pipeline run can end with.
//
// Every stage error is one of four kinds. The kind never changes what the
// process does (all fatal conditions exit with status 1), but it decides how
// the error is reported and is recorded in the run-state ledger.
package failure

import (
	"errors"
	"fmt"
	"strings"
)

// Kind identifies a class of fatal condition.
type Kind string

// Error kinds.
const (
	KindConfig       Kind = "config"
	KindPrecondition Kind = "precondition"
	KindTool         Kind = "tool"
	KindUnexpected   Kind = "unexpected"
)

// ConfigError reports missing or invalid configuration.
type ConfigError struct {
	Key     string
	Message string
	Hint    string
}

// Config returns a ConfigError for the given configuration key.
func Config(key, format string, args ...any) *ConfigError {
	return &ConfigError{Key: key, Message: fmt.Sprintf(format, args...)}
}

// WithHint attaches an operator hint to the error.
func (e *ConfigError) WithHint(hint string) *ConfigError {
	e.Hint = hint
	return e
}

func (e *ConfigError) Error() string {
	msg := e.Message
	if e.Key != "" {
		msg = e.Key + ": " + msg
	}
	if e.Hint != "" {
		msg += "\nHint: " + e.Hint
	}
	return msg
}

// PreconditionError reports an input file that is missing.
type PreconditionError struct {
	What  string
	Paths []string
	Hint  string
}

// Missing returns a PreconditionError for an input expected at one of paths.
func Missing(what string, paths ...string) *PreconditionError {
	return &PreconditionError{What: what, Paths: paths}
}

// WithHint attaches an operator hint to the error.
func (e *PreconditionError) WithHint(hint string) *PreconditionError {
	e.Hint = hint
	return e
}

func (e *PreconditionError) Error() string {
	msg := fmt.Sprintf("%s not found at %s", e.What, strings.Join(e.Paths, " or "))
	if e.Hint != "" {
		msg += "\nHint: " + e.Hint
	}
	return msg
}

// ToolError reports an external tool or data source that did not deliver.
// ExitCode is -1 when the failure is not a process exit (e.g. an empty
// result from the remote data source).
type ToolError struct {
	Tool     string
	ExitCode int
	Output   string
}

func (e *ToolError) Error() string {
	out := strings.TrimSpace(e.Output)
	if e.ExitCode < 0 {
		return fmt.Sprintf("%s: %s", e.Tool, out)
	}
	if out == "" {
		return fmt.Sprintf("%s exited with status %d", e.Tool, e.ExitCode)
	}
	return fmt.Sprintf("%s exited with status %d: %s", e.Tool, e.ExitCode, out)
}

// KindOf classifies err. A nil error has no kind.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var cfgErr *ConfigError
	if errors.As(err, &cfgErr) {
		return KindConfig
	}
	var preErr *PreconditionError
	if errors.As(err, &preErr) {
		return KindPrecondition
	}
	var toolErr *ToolError
	if errors.As(err, &toolErr) {
		return KindTool
	}
	return KindUnexpected
}
