// Package ui renders terminal output for the tsync command.
package ui

import (
	"io"
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
	"golang.org/x/term"

	"github.com/Mschirtzinger/tasksync/internal/ledger"
)

var (
	ColorPass   = lipgloss.AdaptiveColor{Light: "#2e7d32", Dark: "#86d993"}
	ColorWarn   = lipgloss.AdaptiveColor{Light: "#b26a00", Dark: "#f5c26b"}
	ColorFail   = lipgloss.AdaptiveColor{Light: "#c62828", Dark: "#ff7b72"}
	ColorAccent = lipgloss.AdaptiveColor{Light: "#1565c0", Dark: "#79c0ff"}
	ColorMuted  = lipgloss.AdaptiveColor{Light: "#6e7781", Dark: "#8b949e"}

	passStyle   = lipgloss.NewStyle().Foreground(ColorPass)
	warnStyle   = lipgloss.NewStyle().Foreground(ColorWarn)
	failStyle   = lipgloss.NewStyle().Foreground(ColorFail).Bold(true)
	accentStyle = lipgloss.NewStyle().Foreground(ColorAccent)
	mutedStyle  = lipgloss.NewStyle().Foreground(ColorMuted)
	headerStyle = lipgloss.NewStyle().Bold(true)
)

// Init picks the color profile for out. Colors are off when noColor is
// set, NO_COLOR is present in the environment, or out is not a terminal.
func Init(out io.Writer, noColor bool) {
	if noColor || os.Getenv("NO_COLOR") != "" || !IsTerminal(out) {
		lipgloss.SetColorProfile(termenv.Ascii)
		return
	}
	o := termenv.NewOutput(out)
	lipgloss.SetColorProfile(o.EnvColorProfile())
	lipgloss.SetHasDarkBackground(o.HasDarkBackground())
}

// IsTerminal reports whether w is an interactive terminal.
func IsTerminal(w any) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

func RenderPass(s string) string   { return passStyle.Render(s) }
func RenderWarn(s string) string   { return warnStyle.Render(s) }
func RenderFail(s string) string   { return failStyle.Render(s) }
func RenderAccent(s string) string { return accentStyle.Render(s) }
func RenderMuted(s string) string  { return mutedStyle.Render(s) }

// RenderStatus colors an entry or overall status.
func RenderStatus(status string) string {
	switch status {
	case ledger.StatusSuccess, ledger.OverallSuccess, "created", "updated":
		return RenderPass(status)
	case ledger.StatusPartial, ledger.OverallPartial:
		return RenderWarn(status)
	case ledger.StatusFailure, ledger.OverallFailed, "failed":
		return RenderFail(status)
	default:
		return RenderMuted(status)
	}
}

// Symbol is the one-character marker printed before an overall status.
func Symbol(overall string) string {
	switch overall {
	case ledger.OverallSuccess:
		return RenderPass("✓")
	case ledger.OverallPartial:
		return RenderWarn("⚠")
	case ledger.OverallFailed:
		return RenderFail("✗")
	default:
		return RenderMuted("•")
	}
}
