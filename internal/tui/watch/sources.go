package watch

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/callhook/internal/events"
)

// SourceState aggregates the events seen for one source.
type SourceState struct {
	Name          string
	Events        int
	Requests      int
	LastExecution string
	LastSeen      time.Time
	LastFields    []string
}

// envelope mirrors events.Envelope with the fields left raw.
type envelope struct {
	EventID     string          `json:"event_id"`
	ExecutionID string          `json:"execution_id"`
	Source      string          `json:"source"`
	PairedItem  int             `json:"paired_item"`
	JSON        json.RawMessage `json:"json"`
}

func decodeEnvelope(e events.Event) (envelope, bool) {
	var env envelope
	if e.Type != events.TypeWebhookEvent {
		return env, false
	}
	if err := json.Unmarshal(e.Data, &env); err != nil || env.Source == "" {
		return env, false
	}
	return env, true
}

// updateSourceState folds one hub event into the per-source counters.
// Events of one request share an execution id and count as one request.
func updateSourceState(sources map[string]*SourceState, e events.Event) {
	env, ok := decodeEnvelope(e)
	if !ok {
		return
	}

	st, ok := sources[env.Source]
	if !ok {
		st = &SourceState{Name: env.Source}
		sources[env.Source] = st
	}

	st.Events++
	if env.ExecutionID != st.LastExecution {
		st.Requests++
		st.LastExecution = env.ExecutionID
	}
	st.LastSeen = e.At
	st.LastFields = fieldNames(env.JSON)
}

// fieldNames returns the top-level keys of an object in document order.
func fieldNames(raw json.RawMessage) []string {
	dec := json.NewDecoder(strings.NewReader(string(raw)))
	if tok, err := dec.Token(); err != nil || tok != json.Delim('{') {
		return nil
	}
	var names []string
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return names
		}
		name, _ := tok.(string)
		names = append(names, name)
		var skip json.RawMessage
		if err := dec.Decode(&skip); err != nil {
			return names
		}
	}
	return names
}

func sortedSources(sources map[string]*SourceState) []*SourceState {
	out := make([]*SourceState, 0, len(sources))
	for _, st := range sources {
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func newSourceTable() table.Model {
	t := table.New(
		table.WithColumns([]table.Column{
			{Title: "Source", Width: 24},
			{Title: "Requests", Width: 9},
			{Title: "Events", Width: 7},
			{Title: "Last seen", Width: 10},
			{Title: "Fields", Width: 40},
		}),
		table.WithFocused(true),
		table.WithHeight(8),
	)

	s := table.DefaultStyles()
	s.Header = s.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(lipgloss.Color("240")).
		BorderBottom(true).
		Bold(false)
	s.Selected = s.Selected.
		Foreground(lipgloss.Color("229")).
		Background(lipgloss.Color("57")).
		Bold(false)
	t.SetStyles(s)
	return t
}

func sourceRows(sources map[string]*SourceState, now time.Time) []table.Row {
	ordered := sortedSources(sources)
	rows := make([]table.Row, 0, len(ordered))
	for _, st := range ordered {
		rows = append(rows, table.Row{
			st.Name,
			fmt.Sprintf("%d", st.Requests),
			fmt.Sprintf("%d", st.Events),
			formatDuration(now.Sub(st.LastSeen).Round(time.Second)) + " ago",
			strings.Join(st.LastFields, ","),
		})
	}
	return rows
}

func renderSources(t table.Model, count int, theme Theme, width int) string {
	innerWidth := width - 4

	if count == 0 {
		content := lipgloss.JoinVertical(lipgloss.Left,
			theme.Title.Render("SOURCES"),
			theme.Dim.Render("  No events delivered yet"),
		)
		return theme.Border.Width(innerWidth).Render(content)
	}

	content := lipgloss.JoinVertical(lipgloss.Left,
		theme.Title.Render("SOURCES"),
		t.View(),
	)
	return theme.Border.Width(innerWidth).Render(content)
}
