// Package output renders operator-facing CLI output.
//
// Text mode styles headers and status lines with lipgloss when stdout is a
// terminal. Plain mode writes the same lines without escape sequences.
package output

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/muesli/termenv"
	"golang.org/x/term"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Mode selects how output is rendered.
type Mode string

// Output modes.
const (
	ModeAuto  Mode = "auto"
	ModeText  Mode = "text"
	ModePlain Mode = "plain"
)

// Renderer writes to the command's stdout and stderr.
type Renderer struct {
	out    io.Writer
	errOut io.Writer
	mode   Mode
	isTTY  bool
	styles *Styles
	title  cases.Caser
}

// NewRenderer creates a renderer. The TTY state is detected from out.
func NewRenderer(out, errOut io.Writer, mode Mode) *Renderer {
	return NewRendererWithTTY(out, errOut, isTerminal(out), mode)
}

// NewRendererWithTTY creates a renderer with an explicit TTY state.
func NewRendererWithTTY(out, errOut io.Writer, isTTY bool, mode Mode) *Renderer {
	if mode == "" {
		mode = ModeAuto
	}
	r := &Renderer{
		out:    out,
		errOut: errOut,
		mode:   mode,
		isTTY:  isTTY,
		title:  cases.Title(language.English),
	}
	if r.EffectiveMode() == ModeText {
		r.styles = NewStyles()
	} else {
		r.styles = PlainStyles()
	}
	return r
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// EffectiveMode resolves auto to text on a terminal and plain otherwise.
// NO_COLOR forces plain in auto mode.
func (r *Renderer) EffectiveMode() Mode {
	if r.mode != ModeAuto {
		return r.mode
	}
	if r.isTTY && !termenv.EnvNoColor() {
		return ModeText
	}
	return ModePlain
}

// IsTTY reports whether stdout is a terminal.
func (r *Renderer) IsTTY() bool { return r.isTTY }

// Styles returns the active styles.
func (r *Renderer) Styles() *Styles { return r.styles }

// Writer returns stdout.
func (r *Renderer) Writer() io.Writer { return r.out }

// ErrWriter returns stderr.
func (r *Renderer) ErrWriter() io.Writer { return r.errOut }

// Title cases s for headings, e.g. "database setup" to "Database Setup".
func (r *Renderer) Title(s string) string { return r.title.String(s) }

// Println writes a line to stdout.
func (r *Renderer) Println(a ...any) {
	_, _ = fmt.Fprintln(r.out, a...)
}

// Printf writes formatted text to stdout.
func (r *Renderer) Printf(format string, a ...any) {
	_, _ = fmt.Fprintf(r.out, format, a...)
}

// Header writes a section banner.
func (r *Renderer) Header(text string) {
	r.Println()
	r.Println(r.styles.Header.Render(text))
	r.Println(r.styles.Muted.Render(rule))
}

const rule = "============================================================"

// Success writes a success line.
func (r *Renderer) Success(msg string) {
	r.Println(r.styles.Success.Render(r.styles.SuccessMark + " " + msg))
}

// Warning writes a warning line to stderr.
func (r *Renderer) Warning(msg string) {
	_, _ = fmt.Fprintln(r.errOut, r.styles.Warning.Render("Warning: "+msg))
}

// Error writes a failure line to stderr.
func (r *Renderer) Error(msg string) {
	_, _ = fmt.Fprintln(r.errOut, r.styles.Error.Render(r.styles.FailMark+" "+msg))
}

// Muted writes a de-emphasized line.
func (r *Renderer) Muted(msg string) {
	r.Println(r.styles.Muted.Render(msg))
}

// StatusLine writes "label  status" with the status styled by outcome.
func (r *Renderer) StatusLine(label, status string, ok bool) {
	style := r.styles.StatusSuccess
	if !ok {
		style = r.styles.StatusFailed
	}
	r.Printf("%-14s %s\n", label, style.Render(status))
}

// KeyValue writes an aligned "key: value" line.
func (r *Renderer) KeyValue(key, value string) {
	r.Printf("%s %s\n", r.styles.Bold.Render(fmt.Sprintf("%-12s", key+":")), value)
}

// Table renders rows with a header. Text mode uses box drawing; plain mode
// uses ASCII.
func (r *Renderer) Table(header table.Row, rows []table.Row) {
	t := table.NewWriter()
	t.SetOutputMirror(r.out)
	if r.EffectiveMode() == ModeText {
		t.SetStyle(table.StyleLight)
	} else {
		t.SetStyle(table.StyleDefault)
	}
	t.AppendHeader(header)
	t.AppendRows(rows)
	t.Render()
}

// JSON writes v as indented JSON.
func (r *Renderer) JSON(v any) error {
	enc := json.NewEncoder(r.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
