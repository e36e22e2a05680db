package watch

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/mattjoyce/callhook/internal/events"
)

type eventMsg events.Event

type healthMsg struct {
	Status         string `json:"status"`
	UptimeSeconds  int64  `json:"uptime_seconds"`
	SourcesLoaded  int    `json:"sources_loaded"`
	EventsBuffered int    `json:"events_buffered"`
}

type tickMsg time.Time

type errMsg error

type sseDisconnectedMsg struct{}
type reconnectMsg struct{}

// Client talks to the callhook admin API.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

// NewClient creates a client for the API mounted at baseURL (e.g. http://127.0.0.1:8081/api).
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		http:    &http.Client{},
	}
}

// Stream reads the SSE event stream and sends every event to ch until the
// connection drops or ctx ends. lastID resumes after a known event.
func (c *Client) Stream(ctx context.Context, lastID int64, ch chan<- events.Event) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/events", nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Accept", "text/event-stream")
	if lastID > 0 {
		req.Header.Set("Last-Event-ID", strconv.FormatInt(lastID, 10))
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("event stream: unexpected status %d", resp.StatusCode)
	}
	return readSSE(resp.Body, func(ev events.Event) {
		select {
		case ch <- ev:
		case <-ctx.Done():
		}
	})
}

// Health fetches /healthz.
func (c *Client) Health(ctx context.Context) (healthMsg, error) {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	var h healthMsg
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/healthz", nil)
	if err != nil {
		return h, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return h, err
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(&h); err != nil {
		return h, err
	}
	return h, nil
}

// readSSE parses a server-sent event stream. Comment lines are skipped.
func readSSE(r io.Reader, emit func(events.Event)) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	var current events.Event
	var data strings.Builder

	for scanner.Scan() {
		line := scanner.Text()

		switch {
		case line == "":
			if data.Len() > 0 {
				current.Data = json.RawMessage(data.String())
				current.At = time.Now()
				emit(current)
			}
			current = events.Event{}
			data.Reset()
		case strings.HasPrefix(line, ":"):
		case strings.HasPrefix(line, "id: "):
			if id, err := strconv.ParseInt(line[4:], 10, 64); err == nil {
				current.ID = id
			}
		case strings.HasPrefix(line, "event: "):
			current.Type = line[7:]
		case strings.HasPrefix(line, "data: "):
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(line[6:])
		}
	}
	return scanner.Err()
}

// --- Commands ---

func subscribeToEvents(c *Client, lastID int64, ch chan<- events.Event) tea.Cmd {
	return func() tea.Msg {
		_ = c.Stream(context.Background(), lastID, ch)
		return sseDisconnectedMsg{}
	}
}

func receiveNextEvent(ch <-chan events.Event) tea.Cmd {
	return func() tea.Msg {
		return eventMsg(<-ch)
	}
}

func fetchHealth(c *Client) tea.Cmd {
	return func() tea.Msg {
		h, err := c.Health(context.Background())
		if err != nil {
			return errMsg(err)
		}
		return h
	}
}
