package webhook_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/callhook/internal/config"
	"github.com/mattjoyce/callhook/internal/webhook"
	"github.com/mattjoyce/callhook/internal/webhook/mocks"
)

const secret = "abc123"

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func echoSource(name string) webhook.SourceConfig {
	return webhook.SourceConfig{
		Name: name,
		Validate: func(body json.RawMessage) bool {
			fields, err := webhook.DecodeFields(body)
			return err == nil && !fields.Has("invalid")
		},
		Transform: func(_ context.Context, body json.RawMessage, _ *webhook.Execution) ([]webhook.Event, error) {
			fields, err := webhook.DecodeFields(body)
			if err != nil {
				return nil, err
			}
			if fields.Has("explode") {
				return nil, errors.New("cannot map payload")
			}
			return []webhook.Event{webhook.NewEvent(fields)}, nil
		},
	}
}

func newServer(t *testing.T, cfg webhook.Config, sink webhook.EventSink, sources ...webhook.SourceConfig) *webhook.Server {
	t.Helper()
	reg := webhook.NewRegistry()
	for _, src := range sources {
		require.NoError(t, reg.Register(src))
	}
	return webhook.New(cfg, webhook.NewDispatcher(reg, discardLogger()), sink, discardLogger())
}

func adCallsConfig() webhook.Config {
	return webhook.Config{
		Endpoints: []webhook.EndpointConfig{
			{Path: "/adcalls", Source: "AdCallsHook", Secret: secret},
		},
	}
}

func post(h http.Handler, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&out))
	return out
}

func TestServer_Accepted(t *testing.T) {
	ctrl := gomock.NewController(t)
	sink := mocks.NewMockEventSink(ctrl)

	sink.EXPECT().Deliver(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, res webhook.Result) error {
		assert.Equal(t, "AdCallsHook", res.Source)
		require.Len(t, res.Events, 1)
		v, _ := res.Events[0].Fields.Get("call_id")
		assert.Equal(t, "c-1", v)
		return nil
	})

	srv := newServer(t, adCallsConfig(), sink, echoSource("AdCallsHook"))
	rec := post(srv, "/adcalls", `{"call_id":"c-1"}`, map[string]string{"x-ac-webhook-secret": secret})

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"code":200,"message":"ok"}`, rec.Body.String())
}

func TestServer_Rejections(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		headers  map[string]string
		wantCode int
		wantBody string
	}{
		{
			name:     "missing secret",
			body:     `{"call_id":"c-1"}`,
			wantCode: http.StatusUnauthorized,
			wantBody: `{"error":"Invalid secret"}`,
		},
		{
			name:     "wrong secret",
			body:     `{"call_id":"c-1"}`,
			headers:  map[string]string{"X-AC-Webhook-Secret": "ABC123"},
			wantCode: http.StatusUnauthorized,
			wantBody: `{"error":"Invalid secret"}`,
		},
		{
			name:     "invalid payload",
			body:     `{"invalid":true}`,
			headers:  map[string]string{"x-ac-webhook-secret": secret},
			wantCode: http.StatusBadRequest,
			wantBody: `{"error":"Invalid payload"}`,
		},
		{
			name:     "non-JSON payload",
			body:     `call_id=c-1`,
			headers:  map[string]string{"x-ac-webhook-secret": secret},
			wantCode: http.StatusBadRequest,
			wantBody: `{"error":"Invalid payload"}`,
		},
		{
			name:     "trailing bracket after object",
			body:     `{"call_id":"c-1"}]`,
			headers:  map[string]string{"x-ac-webhook-secret": secret},
			wantCode: http.StatusBadRequest,
			wantBody: `{"error":"Invalid payload"}`,
		},
		{
			name:     "transform failure",
			body:     `{"explode":true}`,
			headers:  map[string]string{"x-ac-webhook-secret": secret},
			wantCode: http.StatusInternalServerError,
			wantBody: `{"error":"transform failed"}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctrl := gomock.NewController(t)
			// no Deliver expectation: rejected requests never reach the sink
			sink := mocks.NewMockEventSink(ctrl)

			srv := newServer(t, adCallsConfig(), sink, echoSource("AdCallsHook"))
			rec := post(srv, "/adcalls", tt.body, tt.headers)

			assert.Equal(t, tt.wantCode, rec.Code)
			assert.JSONEq(t, tt.wantBody, rec.Body.String())
		})
	}
}

func TestServer_RepeatedSecretHeader(t *testing.T) {
	ctrl := gomock.NewController(t)
	srv := newServer(t, adCallsConfig(), mocks.NewMockEventSink(ctrl), echoSource("AdCallsHook"))

	req := httptest.NewRequest(http.MethodPost, "/adcalls", strings.NewReader(`{}`))
	req.Header.Add("X-Ac-Webhook-Secret", secret)
	req.Header.Add("X-Ac-Webhook-Secret", secret)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestServer_MissingSourceConfig(t *testing.T) {
	ctrl := gomock.NewController(t)
	srv := newServer(t, adCallsConfig(), mocks.NewMockEventSink(ctrl))

	rec := post(srv, "/adcalls", `{}`, map[string]string{"x-ac-webhook-secret": secret})
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "source not configured", decodeBody(t, rec)["error"])
}

func TestServer_BodyTooLarge(t *testing.T) {
	ctrl := gomock.NewController(t)
	cfg := adCallsConfig()
	cfg.Endpoints[0].MaxBodySize = 16

	srv := newServer(t, cfg, mocks.NewMockEventSink(ctrl), echoSource("AdCallsHook"))
	rec := post(srv, "/adcalls", `{"call_id":"`+strings.Repeat("x", 32)+`"}`, map[string]string{"x-ac-webhook-secret": secret})

	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestServer_EmptyBodyIsEmptyObject(t *testing.T) {
	ctrl := gomock.NewController(t)
	sink := mocks.NewMockEventSink(ctrl)
	sink.EXPECT().Deliver(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, res webhook.Result) error {
		require.Len(t, res.Events, 1)
		assert.Empty(t, res.Events[0].Fields)
		return nil
	})

	srv := newServer(t, adCallsConfig(), sink, echoSource("AdCallsHook"))
	rec := post(srv, "/adcalls", "", map[string]string{"x-ac-webhook-secret": secret})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestServer_UnknownPath(t *testing.T) {
	ctrl := gomock.NewController(t)
	srv := newServer(t, adCallsConfig(), mocks.NewMockEventSink(ctrl), echoSource("AdCallsHook"))

	rec := post(srv, "/other", `{}`, map[string]string{"x-ac-webhook-secret": secret})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_DeliveryFailure(t *testing.T) {
	ctrl := gomock.NewController(t)
	sink := mocks.NewMockEventSink(ctrl)
	sink.EXPECT().Deliver(gomock.Any(), gomock.Any()).Return(errors.New("sink closed"))

	srv := newServer(t, adCallsConfig(), sink, echoSource("AdCallsHook"))
	rec := post(srv, "/adcalls", `{"call_id":"c-1"}`, map[string]string{"x-ac-webhook-secret": secret})

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "failed to deliver events", decodeBody(t, rec)["error"])
}

func TestServer_EnrichmentNeverLeaksSecret(t *testing.T) {
	ctrl := gomock.NewController(t)
	sink := mocks.NewMockEventSink(ctrl)

	var delivered webhook.Result
	sink.EXPECT().Deliver(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, res webhook.Result) error {
		delivered = res
		return nil
	})

	cfg := adCallsConfig()
	cfg.Endpoints[0].Options = webhook.Options{IncludeRawBody: true, IncludeHeaders: true}

	srv := newServer(t, cfg, sink, echoSource("AdCallsHook"))
	rec := post(srv, "/adcalls", `{"call_id":"c-1"}`, map[string]string{
		"x-ac-webhook-secret": secret,
		"Content-Type":        "application/json",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	require.Len(t, delivered.Events, 1)
	out, err := json.Marshal(delivered.Events[0].Fields)
	require.NoError(t, err)
	assert.NotContains(t, string(out), secret)
	assert.Contains(t, string(out), `"_rawBody":{"call_id":"c-1"}`)
	assert.Contains(t, string(out), `"content-type":"application/json"`)
}

func TestServer_RouteParams(t *testing.T) {
	ctrl := gomock.NewController(t)
	sink := mocks.NewMockEventSink(ctrl)
	sink.EXPECT().Deliver(gomock.Any(), gomock.Any()).Return(nil)

	var seen map[string]string
	src := echoSource("AdCallsHook")
	transform := src.Transform
	src.Transform = func(ctx context.Context, body json.RawMessage, exec *webhook.Execution) ([]webhook.Event, error) {
		seen = exec.Params
		return transform(ctx, body, exec)
	}

	cfg := webhook.Config{Endpoints: []webhook.EndpointConfig{
		{Path: "/adcalls/{tenant}", Source: "AdCallsHook", Secret: secret},
	}}
	srv := newServer(t, cfg, sink, src)

	rec := post(srv, "/adcalls/acme", `{}`, map[string]string{"x-ac-webhook-secret": secret})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, map[string]string{"tenant": "acme"}, seen)
}

func TestServer_EndpointsBoundToDistinctSources(t *testing.T) {
	ctrl := gomock.NewController(t)
	sink := mocks.NewMockEventSink(ctrl)

	var got []string
	sink.EXPECT().Deliver(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, res webhook.Result) error {
		got = append(got, res.Source)
		return nil
	}).Times(2)

	cfg := webhook.Config{Endpoints: []webhook.EndpointConfig{
		{Path: "/a", Source: "A", Secret: "sa"},
		{Path: "/b", Source: "B", Secret: "sb"},
	}}
	srv := newServer(t, cfg, sink, echoSource("A"), echoSource("B"))

	assert.Equal(t, http.StatusOK, post(srv, "/b", `{}`, map[string]string{"x-ac-webhook-secret": "sb"}).Code)
	assert.Equal(t, http.StatusOK, post(srv, "/a", `{}`, map[string]string{"x-ac-webhook-secret": "sa"}).Code)
	// secrets are per endpoint
	assert.Equal(t, http.StatusUnauthorized, post(srv, "/a", `{}`, map[string]string{"x-ac-webhook-secret": "sb"}).Code)

	assert.Equal(t, []string{"B", "A"}, got)
}

func TestServer_GenericRoute(t *testing.T) {
	ctrl := gomock.NewController(t)
	sink := mocks.NewMockEventSink(ctrl)
	sink.EXPECT().Deliver(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, res webhook.Result) error {
		assert.Equal(t, "AdCallsHook", res.Source)
		return nil
	})

	cfg := adCallsConfig()
	cfg.GenericRoute = true
	srv := newServer(t, cfg, sink, echoSource("AdCallsHook"), echoSource("Unbound"))

	rec := post(srv, "/hook/CUSTOM.AdCallsHook", `{}`, map[string]string{"x-ac-webhook-secret": secret})
	assert.Equal(t, http.StatusOK, rec.Code)

	// a source without an endpoint has no secret and fails closed
	rec = post(srv, "/hook/Unbound", `{}`, map[string]string{"x-ac-webhook-secret": ""})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = post(srv, "/hook/Nope", `{}`, map[string]string{"x-ac-webhook-secret": secret})
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestServer_GenericRouteDisabled(t *testing.T) {
	ctrl := gomock.NewController(t)
	srv := newServer(t, adCallsConfig(), mocks.NewMockEventSink(ctrl), echoSource("AdCallsHook"))

	rec := post(srv, "/hook/AdCallsHook", `{}`, map[string]string{"x-ac-webhook-secret": secret})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_ReloadSwapsRoutes(t *testing.T) {
	ctrl := gomock.NewController(t)
	sink := mocks.NewMockEventSink(ctrl)
	sink.EXPECT().Deliver(gomock.Any(), gomock.Any()).Return(nil)

	srv := newServer(t, adCallsConfig(), sink, echoSource("AdCallsHook"))
	srv.Reload(webhook.Config{Endpoints: []webhook.EndpointConfig{
		{Path: "/v2/adcalls", Source: "AdCallsHook", Secret: "rotated"},
	}})

	assert.Equal(t, http.StatusNotFound, post(srv, "/adcalls", `{}`, map[string]string{"x-ac-webhook-secret": secret}).Code)
	assert.Equal(t, http.StatusUnauthorized, post(srv, "/v2/adcalls", `{}`, map[string]string{"x-ac-webhook-secret": secret}).Code)
	assert.Equal(t, http.StatusOK, post(srv, "/v2/adcalls", `{}`, map[string]string{"x-ac-webhook-secret": "rotated"}).Code)
}

func TestServer_Mount(t *testing.T) {
	ctrl := gomock.NewController(t)
	srv := newServer(t, adCallsConfig(), mocks.NewMockEventSink(ctrl), echoSource("AdCallsHook"))

	srv.Mount("/api", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("mounted"))
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/healthz", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "mounted", rec.Body.String())
}

func TestServer_StartStops(t *testing.T) {
	ctrl := gomock.NewController(t)
	cfg := adCallsConfig()
	cfg.Listen = "127.0.0.1:0"
	srv := newServer(t, cfg, mocks.NewMockEventSink(ctrl), echoSource("AdCallsHook"))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Start(ctx) }()
	cancel()

	err := <-done
	assert.ErrorIs(t, err, context.Canceled)
}

func TestFromGlobalConfig(t *testing.T) {
	cfg := &config.Config{
		Server:      config.ServerConfig{Listen: "127.0.0.1:9000", GenericRoute: true},
		Credentials: map[string]string{"adcalls": "from-ref"},
		Endpoints: []config.EndpointConf{
			{Path: "/a", Source: "AdCallsHook", Secret: "inline", IncludeRawBody: true},
			{Path: "/b", Source: "AdCallsHookAfterCall", SecretRef: "adcalls", MaxBodySize: "2KB", SecretHeader: "x-token"},
		},
	}

	out, err := webhook.FromGlobalConfig(cfg)
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:9000", out.Listen)
	assert.True(t, out.GenericRoute)
	require.Len(t, out.Endpoints, 2)

	assert.Equal(t, "inline", out.Endpoints[0].Secret)
	assert.Equal(t, int64(webhook.DefaultMaxBodySize), out.Endpoints[0].MaxBodySize)
	assert.True(t, out.Endpoints[0].Options.IncludeRawBody)

	assert.Equal(t, "from-ref", out.Endpoints[1].Secret)
	assert.Equal(t, int64(2048), out.Endpoints[1].MaxBodySize)
	assert.Equal(t, "x-token", out.Endpoints[1].Params().SecretHeader)
}

func TestFromGlobalConfig_Errors(t *testing.T) {
	_, err := webhook.FromGlobalConfig(nil)
	assert.Error(t, err)

	_, err = webhook.FromGlobalConfig(&config.Config{Endpoints: []config.EndpointConf{{Path: "/a", Source: "A"}}})
	assert.Error(t, err)

	_, err = webhook.FromGlobalConfig(&config.Config{Endpoints: []config.EndpointConf{{Path: "/a", Source: "A", SecretRef: "missing"}}})
	assert.Error(t, err)

	_, err = webhook.FromGlobalConfig(&config.Config{Endpoints: []config.EndpointConf{{Path: "/a", Source: "A", Secret: "s", MaxBodySize: "lots"}}})
	assert.Error(t, err)
}

func TestServer_ResponseIsJSONEncoded(t *testing.T) {
	ctrl := gomock.NewController(t)
	sink := mocks.NewMockEventSink(ctrl)
	sink.EXPECT().Deliver(gomock.Any(), gomock.Any()).Return(nil)

	src := echoSource("AdCallsHook")
	src.BuildResponse = func(json.RawMessage, *webhook.Execution) any {
		return map[string]string{"status": "queued"}
	}
	srv := newServer(t, adCallsConfig(), sink, src)

	rec := post(srv, "/adcalls", `{}`, map[string]string{"x-ac-webhook-secret": secret})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, `{"status":"queued"}`, string(bytes.TrimSpace(rec.Body.Bytes())))
}
