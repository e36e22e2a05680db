// Package watch implements the callhook watch TUI: a live view of the
// webhook events delivered to the events hub, grouped by source.
package watch

import "github.com/charmbracelet/lipgloss"

// Theme holds every style used by the watch TUI.
type Theme struct {
	StatusOK     lipgloss.Style
	StatusFailed lipgloss.Style

	Border    lipgloss.Style
	Title     lipgloss.Style
	Dim       lipgloss.Style
	Highlight lipgloss.Style
	Field     lipgloss.Style

	ActivityOn  lipgloss.Style
	ActivityOff lipgloss.Style
}

func NewDefaultTheme() Theme {
	purple := lipgloss.Color("#874BFD")

	return Theme{
		StatusOK:     lipgloss.NewStyle().Foreground(lipgloss.Color("#00FF00")),
		StatusFailed: lipgloss.NewStyle().Foreground(lipgloss.Color("#FF0000")),

		Border: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(purple),
		Title: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Padding(0, 1),
		Dim:       lipgloss.NewStyle().Foreground(lipgloss.Color("#888888")),
		Highlight: lipgloss.NewStyle().Foreground(lipgloss.Color("#E5C07B")),
		Field:     lipgloss.NewStyle().Foreground(lipgloss.Color("#61AFEF")),

		ActivityOn:  lipgloss.NewStyle().Foreground(lipgloss.Color("#00FF00")),
		ActivityOff: lipgloss.NewStyle().Foreground(lipgloss.Color("#444444")),
	}
}
