// Package cliui provides the terminal output styling cmd/codesearchd uses
// for its plain-scriptable command output: a lipgloss color palette and
// go-isatty/NO_COLOR detection, narrowed to the handful of styles a
// line-oriented CLI needs — this engine's CLI only ever prints one-shot
// command results, never a live progress bar.
package cliui

import (
	"io"
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
)

// Color palette: an asitop-inspired lime theme.
const (
	colorLime     = "154"
	colorWhite    = "255"
	colorGray     = "245"
	colorDarkGray = "238"
	colorRed      = "196"
	colorYellow   = "220"
)

// Styles holds the styled components used across cmd/codesearchd's output.
type Styles struct {
	Header  lipgloss.Style
	Success lipgloss.Style
	Warning lipgloss.Style
	Error   lipgloss.Style
	Dim     lipgloss.Style
	Path    lipgloss.Style
}

// Default returns the colored style set.
func Default() Styles {
	return Styles{
		Header:  lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color(colorWhite)),
		Success: lipgloss.NewStyle().Foreground(lipgloss.Color(colorLime)),
		Warning: lipgloss.NewStyle().Foreground(lipgloss.Color(colorYellow)),
		Error:   lipgloss.NewStyle().Foreground(lipgloss.Color(colorRed)),
		Dim:     lipgloss.NewStyle().Foreground(lipgloss.Color(colorDarkGray)),
		Path:    lipgloss.NewStyle().Foreground(lipgloss.Color(colorGray)),
	}
}

// Plain returns an unstyled style set, used when output isn't a color
// terminal or NO_COLOR is set.
func Plain() Styles {
	return Styles{
		Header:  lipgloss.NewStyle(),
		Success: lipgloss.NewStyle(),
		Warning: lipgloss.NewStyle(),
		Error:   lipgloss.NewStyle(),
		Dim:     lipgloss.NewStyle(),
		Path:    lipgloss.NewStyle(),
	}
}

// For picks Default or Plain based on whether w is a color-capable
// terminal and NO_COLOR/noColor don't disable it.
func For(w io.Writer, noColor bool) Styles {
	if noColor || DetectNoColor() || !IsTTY(w) {
		return Plain()
	}
	return Default()
}

// IsTTY reports whether w is a terminal the CLI can safely color, via an
// *os.File + go-isatty check.
func IsTTY(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// DetectNoColor reports whether the NO_COLOR environment variable is set.
func DetectNoColor() bool {
	_, ok := os.LookupEnv("NO_COLOR")
	return ok
}
