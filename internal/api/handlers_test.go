package api

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/callhook/internal/events"
	"github.com/mattjoyce/callhook/internal/webhook"
)

const testAPIKey = "test-key"

func newTestServer(t *testing.T) (*Server, *events.Hub) {
	t.Helper()
	reg := webhook.NewRegistry()
	for _, name := range []string{"AdCallsHook", "AdCallsHookAfterCall"} {
		require.NoError(t, reg.Register(webhook.SourceConfig{
			Name:        name,
			DisplayName: name,
			Icon:        "file:adcalls.svg",
			Validate:    func(json.RawMessage) bool { return true },
			Transform: func(context.Context, json.RawMessage, *webhook.Execution) ([]webhook.Event, error) {
				return nil, nil
			},
		}))
	}
	hub := events.NewHub(16)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(Config{APIKey: testAPIKey}, reg, hub, logger), hub
}

func doRequest(h http.Handler, path, key string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if key != "" {
		req.Header.Set("Authorization", "Bearer "+key)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestHealthz_NoAuth(t *testing.T) {
	srv, hub := newTestServer(t)
	require.NoError(t, hub.Publish("tick", nil))

	rr := doRequest(srv.Routes(), "/healthz", "")
	require.Equal(t, http.StatusOK, rr.Code)

	var resp HealthzResponse
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, 2, resp.SourcesLoaded)
	assert.Equal(t, 1, resp.EventsBuffered)
}

func TestProtectedRoutes_RequireKey(t *testing.T) {
	srv, _ := newTestServer(t)
	h := srv.Routes()

	for _, path := range []string{"/sources", "/sources/AdCallsHook", "/events"} {
		assert.Equal(t, http.StatusUnauthorized, doRequest(h, path, "").Code, path)
		assert.Equal(t, http.StatusUnauthorized, doRequest(h, path, "wrong").Code, path)
	}
}

func TestProtectedRoutes_EmptyConfiguredKey(t *testing.T) {
	srv, _ := newTestServer(t)
	srv.config.APIKey = ""

	rr := doRequest(srv.Routes(), "/sources", "anything")
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestListSources(t *testing.T) {
	srv, _ := newTestServer(t)

	rr := doRequest(srv.Routes(), "/sources", testAPIKey)
	require.Equal(t, http.StatusOK, rr.Code)

	var resp SourcesResponse
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
	require.Len(t, resp.Sources, 2)
	assert.Equal(t, "AdCallsHook", resp.Sources[0].Name)
	assert.Equal(t, "AdCallsHookAfterCall", resp.Sources[1].Name)
	assert.Equal(t, []string{"trigger"}, resp.Sources[0].Group)
	require.Len(t, resp.Sources[0].Webhooks, 1)
	assert.Equal(t, http.MethodPost, resp.Sources[0].Webhooks[0].HTTPMethod)
}

func TestGetSource(t *testing.T) {
	srv, _ := newTestServer(t)
	h := srv.Routes()

	rr := doRequest(h, "/sources/AdCallsHook", testAPIKey)
	require.Equal(t, http.StatusOK, rr.Code)
	var desc webhook.Description
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&desc))
	assert.Equal(t, "AdCallsHook", desc.Name)
	assert.Equal(t, "file:adcalls.svg", desc.Icon)

	rr = doRequest(h, "/sources/Missing", testAPIKey)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestEvents_StreamsSnapshot(t *testing.T) {
	srv, hub := newTestServer(t)
	require.NoError(t, hub.Deliver(context.Background(), webhook.Result{
		ExecutionID: "exec-1",
		Source:      "AdCallsHook",
		Events: webhook.NewEvents([]webhook.Fields{
			{{Name: "call_id", Value: "a"}},
			{{Name: "call_id", Value: "b"}},
		}),
	}))

	// A canceled request returns right after the snapshot is written.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := httptest.NewRequest(http.MethodGet, "/events", nil).WithContext(ctx)
	req.Header.Set("Authorization", "Bearer "+testAPIKey)
	rr := httptest.NewRecorder()
	srv.Routes().ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "text/event-stream", rr.Header().Get("Content-Type"))

	body := rr.Body.String()
	assert.Contains(t, body, "id: 1\nevent: webhook.event\n")
	assert.Contains(t, body, "id: 2\nevent: webhook.event\n")
	assert.Contains(t, body, `"call_id":"a"`)
	assert.Less(t, strings.Index(body, `"call_id":"a"`), strings.Index(body, `"call_id":"b"`))
}

func TestEvents_ResumesFromLastEventID(t *testing.T) {
	srv, hub := newTestServer(t)
	for i := 0; i < 3; i++ {
		require.NoError(t, hub.Publish("tick", map[string]int{"n": i}))
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := httptest.NewRequest(http.MethodGet, "/events", nil).WithContext(ctx)
	req.Header.Set("Authorization", "Bearer "+testAPIKey)
	req.Header.Set("Last-Event-ID", "2")
	rr := httptest.NewRecorder()
	srv.Routes().ServeHTTP(rr, req)

	body := rr.Body.String()
	assert.NotContains(t, body, "id: 1\n")
	assert.NotContains(t, body, "id: 2\n")
	assert.Contains(t, body, "id: 3\n")
}

func TestEvents_StreamOutlivesServerTimeouts(t *testing.T) {
	srv, hub := newTestServer(t)

	ts := httptest.NewUnstartedServer(srv.Routes())
	ts.Config.ReadTimeout = 200 * time.Millisecond
	ts.Config.WriteTimeout = 200 * time.Millisecond
	ts.Start()
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/events", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+testAPIKey)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	time.Sleep(500 * time.Millisecond)
	require.NoError(t, hub.Publish("late", map[string]string{"after": "timeouts"}))

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case line, ok := <-lines:
			if !ok {
				t.Fatal("stream closed before the late event arrived")
			}
			if line == "event: late" {
				return
			}
		case <-ctx.Done():
			t.Fatal("late event not received")
		}
	}
}

func TestEvents_Disabled(t *testing.T) {
	srv, _ := newTestServer(t)
	srv.events = nil

	rr := doRequest(srv.Routes(), "/events", testAPIKey)
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
}

func TestParseLastEventID(t *testing.T) {
	assert.Equal(t, int64(0), parseLastEventID(""))
	assert.Equal(t, int64(0), parseLastEventID("abc"))
	assert.Equal(t, int64(0), parseLastEventID("-4"))
	assert.Equal(t, int64(42), parseLastEventID("42"))
}
