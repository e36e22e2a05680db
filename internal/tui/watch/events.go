package watch

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/callhook/internal/events"
)

const maxEventLog = 50

func renderEventStream(eventLog []events.Event, filter string, theme Theme, width int) string {
	innerWidth := width - 4

	title := "EVENT STREAM"
	if filter != "" {
		title += " · " + filter
	}

	var lines []string
	for _, e := range eventLog {
		if len(lines) >= 10 {
			break
		}
		if filter != "" {
			if env, ok := decodeEnvelope(e); !ok || env.Source != filter {
				continue
			}
		}
		lines = append(lines, formatEvent(e, theme))
	}

	if len(lines) == 0 {
		content := lipgloss.JoinVertical(lipgloss.Left,
			theme.Title.Render(title),
			theme.Dim.Render("  Waiting for events..."),
		)
		return theme.Border.Width(innerWidth).Render(content)
	}

	eventsText := lipgloss.NewStyle().Padding(0, 1).Render(strings.Join(lines, "\n"))
	content := lipgloss.JoinVertical(lipgloss.Left,
		theme.Title.Render(title),
		eventsText,
	)
	return theme.Border.Width(innerWidth).Render(content)
}

func formatEvent(e events.Event, theme Theme) string {
	ts := theme.Dim.Render(e.At.Format("15:04:05"))
	return fmt.Sprintf("%s %s", ts, describeEvent(e, theme))
}

func describeEvent(e events.Event, theme Theme) string {
	env, ok := decodeEnvelope(e)
	if !ok {
		raw := string(e.Data)
		if len(raw) > 60 {
			raw = raw[:60] + "..."
		}
		return theme.Dim.Render(fmt.Sprintf("%-20s", e.Type)) + " " + raw
	}

	execID := env.ExecutionID
	if len(execID) > 8 {
		execID = execID[:8]
	}

	fields := fieldNames(env.JSON)
	return fmt.Sprintf("%s [%s#%d] %s",
		theme.Highlight.Render(fmt.Sprintf("%-22s", env.Source)),
		execID,
		env.PairedItem,
		theme.Field.Render(strings.Join(fields, " ")),
	)
}
