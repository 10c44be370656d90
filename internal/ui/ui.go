// Package ui provides terminal styling helpers shared by the daemon's
// control-plane subcommands.
package ui

import (
	"os"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"
)

var (
	ColorPass   = lipgloss.Color("42")
	ColorWarn   = lipgloss.Color("214")
	ColorFail   = lipgloss.Color("196")
	ColorMuted  = lipgloss.Color("245")
	ColorAccent = lipgloss.Color("63")
)

const (
	IconPass = "✓"
	IconWarn = "!"
	IconFail = "✗"
)

// ShouldUseColor mirrors the NO_COLOR / CLICOLOR conventions.
func ShouldUseColor() bool {
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	if os.Getenv("CLICOLOR") == "0" {
		return false
	}
	if os.Getenv("CLICOLOR_FORCE") != "" {
		return true
	}
	return term.IsTerminal(int(os.Stdout.Fd()))
}

func style(c lipgloss.Color, s string) string {
	if !ShouldUseColor() {
		return s
	}
	return lipgloss.NewStyle().Foreground(c).Render(s)
}

func RenderPass(s string) string   { return style(ColorPass, s) }
func RenderWarn(s string) string   { return style(ColorWarn, s) }
func RenderFail(s string) string   { return style(ColorFail, s) }
func RenderMuted(s string) string  { return style(ColorMuted, s) }
func RenderAccent(s string) string { return style(ColorAccent, s) }
