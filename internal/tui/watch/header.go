package watch

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
)

// HealthState tracks receiver health from /healthz polling.
type HealthState struct {
	Status         string
	UptimeSeconds  int64
	SourcesLoaded  int
	EventsBuffered int
	Connected      bool
	LastCheck      time.Time
}

func renderHeader(health HealthState, activity Activity, theme Theme, width int, now time.Time) string {
	innerWidth := width - 4

	statusText := theme.StatusOK.Render("RECEIVING")
	if !health.Connected {
		statusText = theme.StatusFailed.Render("CONNECTING")
	} else if health.Status != "ok" && health.Status != "" {
		statusText = theme.StatusFailed.Render("DEGRADED")
	}

	lastEventStr := "never"
	if !activity.LastEvent().IsZero() {
		lastEventStr = formatDuration(now.Sub(activity.LastEvent()).Round(time.Second)) + " ago"
	}

	titleText := " CALLHOOK WATCH"
	clock := theme.Dim.Render(now.Format("15:04:05"))
	pad := innerWidth - lipgloss.Width(titleText) - lipgloss.Width(clock) - 4
	if pad < 1 {
		pad = 1
	}
	titleLine := titleText + strings.Repeat(" ", pad) + clock + " "

	statsLine := fmt.Sprintf(" %s  up %s  Sources: %d  Buffered: %d",
		statusText,
		formatDuration(time.Duration(health.UptimeSeconds)*time.Second),
		health.SourcesLoaded,
		health.EventsBuffered,
	)

	activityLine := fmt.Sprintf(" Last event: %s %s", lastEventStr, activity.Render(theme))

	content := lipgloss.JoinVertical(lipgloss.Left,
		titleLine,
		statsLine,
		activityLine,
	)
	return theme.Border.Width(innerWidth).Render(content)
}

func formatDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm %ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%dh %dm", int(d.Hours()), int(d.Minutes())%60)
}
