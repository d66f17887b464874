package main

import (
	"github.com/charmbracelet/lipgloss"
)

var (
	// Color palette
	primaryColor = lipgloss.Color("#7D56F4")
	successColor = lipgloss.Color("#04B575")
	warningColor = lipgloss.Color("#FFA500")
	errorColor   = lipgloss.Color("#FF4B4B")
	mutedColor   = lipgloss.Color("#666666")

	headerStyle  = lipgloss.NewStyle().Bold(true).Foreground(primaryColor)
	successStyle = lipgloss.NewStyle().Foreground(successColor)
	warningStyle = lipgloss.NewStyle().Foreground(warningColor)
	errorStyle   = lipgloss.NewStyle().Foreground(errorColor).Bold(true)
	mutedStyle   = lipgloss.NewStyle().Foreground(mutedColor)
)

// styled renders s with style unless colors are disabled.
func styled(style lipgloss.Style, s string) string {
	if noColor {
		return s
	}
	return style.Render(s)
}

func header(s string) string { return styled(headerStyle, s) }

// mark renders a pass/fail marker.
func mark(ok bool) string {
	if ok {
		return styled(successStyle, "✓")
	}
	return styled(errorStyle, "✗")
}

func warnMark() string { return styled(warningStyle, "!") }

// laneState colors a lane state name by urgency.
func laneState(s string) string {
	switch s {
	case "IDLE":
		return styled(mutedStyle, s)
	case "ACTIVE":
		return styled(warningStyle, s)
	default:
		return styled(successStyle, s)
	}
}
