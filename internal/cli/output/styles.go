package output

import "github.com/charmbracelet/lipgloss"

// Styles holds the lipgloss styles used by the renderer.
type Styles struct {
	Header        lipgloss.Style
	Bold          lipgloss.Style
	Muted         lipgloss.Style
	Success       lipgloss.Style
	Warning       lipgloss.Style
	Error         lipgloss.Style
	Info          lipgloss.Style
	StatusSuccess lipgloss.Style
	StatusFailed  lipgloss.Style

	SuccessMark string
	FailMark    string
}

// NewStyles returns the terminal styles.
func NewStyles() *Styles {
	return &Styles{
		Header:        lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12")),
		Bold:          lipgloss.NewStyle().Bold(true),
		Muted:         lipgloss.NewStyle().Foreground(lipgloss.Color("8")),
		Success:       lipgloss.NewStyle().Foreground(lipgloss.Color("10")),
		Warning:       lipgloss.NewStyle().Foreground(lipgloss.Color("11")),
		Error:         lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true),
		Info:          lipgloss.NewStyle().Foreground(lipgloss.Color("14")),
		StatusSuccess: lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Bold(true),
		StatusFailed:  lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true),
		SuccessMark:   "✓",
		FailMark:      "✗",
	}
}

// PlainStyles returns styles that render text unchanged.
func PlainStyles() *Styles {
	plain := lipgloss.NewStyle()
	return &Styles{
		Header:        plain,
		Bold:          plain,
		Muted:         plain,
		Success:       plain,
		Warning:       plain,
		Error:         plain,
		Info:          plain,
		StatusSuccess: plain,
		StatusFailed:  plain,
		SuccessMark:   "OK",
		FailMark:      "FAILED",
	}
}
