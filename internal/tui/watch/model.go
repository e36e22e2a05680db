package watch

import (
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/callhook/internal/events"
)

// Model is the BubbleTea model for the watch TUI.
type Model struct {
	client *Client

	width  int
	height int

	health   HealthState
	sources  map[string]*SourceState
	eventLog []events.Event
	lastID   int64

	activity Activity
	theme    Theme
	table    table.Model
	filter   string

	hubEvents chan events.Event

	lastError string
}

// New creates a watch model reading from client.
func New(client *Client) *Model {
	return &Model{
		client:    client,
		sources:   make(map[string]*SourceState),
		eventLog:  make([]events.Event, 0, maxEventLog),
		theme:     NewDefaultTheme(),
		table:     newSourceTable(),
		hubEvents: make(chan events.Event, 100),
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(
		subscribeToEvents(m.client, 0, m.hubEvents),
		receiveNextEvent(m.hubEvents),
		fetchHealth(m.client),
		tea.Tick(time.Second, func(t time.Time) tea.Msg { return tickMsg(t) }),
		tea.EnterAltScreen,
	)
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "enter":
			// toggle the event stream filter on the selected source
			if row := m.table.SelectedRow(); row != nil && m.filter != row[0] {
				m.filter = row[0]
			} else {
				m.filter = ""
			}
			return m, nil
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.table.SetWidth(m.width - 6)
		return m, nil

	case tickMsg:
		now := time.Time(msg)
		m.activity.Decay(now)
		m.table.SetRows(sourceRows(m.sources, now))
		return m, tea.Tick(time.Second, func(t time.Time) tea.Msg { return tickMsg(t) })

	case eventMsg:
		m.applyEvent(events.Event(msg))
		m.health.Connected = true
		m.lastError = ""
		return m, receiveNextEvent(m.hubEvents)

	case healthMsg:
		m.health.Status = msg.Status
		m.health.UptimeSeconds = msg.UptimeSeconds
		m.health.SourcesLoaded = msg.SourcesLoaded
		m.health.EventsBuffered = msg.EventsBuffered
		m.health.Connected = true
		m.health.LastCheck = time.Now()
		m.lastError = ""
		return m, tea.Tick(5*time.Second, func(time.Time) tea.Msg { return fetchHealth(m.client)() })

	case sseDisconnectedMsg:
		m.health.Connected = false
		m.lastError = "event stream disconnected, reconnecting..."
		return m, tea.Tick(3*time.Second, func(time.Time) tea.Msg { return reconnectMsg{} })

	case reconnectMsg:
		// the pending receiveNextEvent keeps reading from the same channel
		return m, subscribeToEvents(m.client, m.lastID, m.hubEvents)

	case errMsg:
		m.lastError = msg.Error()
		return m, tea.Tick(5*time.Second, func(time.Time) tea.Msg { return fetchHealth(m.client)() })
	}

	var cmd tea.Cmd
	m.table, cmd = m.table.Update(msg)
	return m, cmd
}

// applyEvent records e, newest first. Replayed events are ignored.
func (m *Model) applyEvent(e events.Event) {
	if e.ID != 0 && e.ID <= m.lastID {
		return
	}
	if e.ID > m.lastID {
		m.lastID = e.ID
	}
	if e.At.IsZero() {
		e.At = time.Now()
	}

	m.eventLog = append([]events.Event{e}, m.eventLog...)
	if len(m.eventLog) > maxEventLog {
		m.eventLog = m.eventLog[:maxEventLog]
	}

	m.activity.OnEvent(e.At)
	updateSourceState(m.sources, e)
	m.table.SetRows(sourceRows(m.sources, e.At))
}

func (m Model) View() string {
	if m.width == 0 {
		return "Connecting..."
	}

	now := time.Now()
	parts := []string{
		renderHeader(m.health, m.activity, m.theme, m.width, now),
		renderSources(m.table, len(m.sources), m.theme, m.width),
		renderEventStream(m.eventLog, m.filter, m.theme, m.width),
	}
	if m.lastError != "" {
		parts = append(parts, m.theme.StatusFailed.Render(fmt.Sprintf(" ⚠ %s", m.lastError)))
	}
	parts = append(parts, lipgloss.NewStyle().
		Foreground(lipgloss.Color("241")).
		Render(" [q] Quit • [↑/↓] Select source • [enter] Filter stream"))

	return lipgloss.NewStyle().Margin(1, 2).Render(
		lipgloss.JoinVertical(lipgloss.Left, parts...),
	)
}

// Run starts the TUI and blocks until the user quits.
func Run(client *Client) error {
	_, err := tea.NewProgram(New(client)).Run()
	return err
}
