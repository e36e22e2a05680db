package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Server is the HTTP host for webhook endpoints. Each configured path is
// bound to its source when routes are built, so the dispatcher is always
// handed the source name explicitly.
type Server struct {
	dispatcher *Dispatcher
	sink       EventSink
	logger     *slog.Logger
	server     *http.Server

	mu     sync.Mutex
	config Config
	mounts map[string]http.Handler
	router atomic.Pointer[chi.Mux]
}

// New creates a new webhook server instance.
func New(config Config, dispatcher *Dispatcher, sink EventSink, logger *slog.Logger) *Server {
	s := &Server{
		dispatcher: dispatcher,
		sink:       sink,
		logger:     logger,
		mounts:     make(map[string]http.Handler),
	}
	s.Reload(config)
	return s
}

// Mount attaches an auxiliary handler (e.g. the events API) under pattern.
func (s *Server) Mount(pattern string, h http.Handler) {
	s.mu.Lock()
	s.mounts[pattern] = h
	cfg := s.config
	s.mu.Unlock()
	s.Reload(cfg)
}

// Reload applies a new endpoint configuration. In-flight requests finish on
// the routes they started with.
func (s *Server) Reload(config Config) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range config.Endpoints {
		ep := &config.Endpoints[i]
		if ep.MaxBodySize == 0 {
			ep.MaxBodySize = DefaultMaxBodySize
		}
		if ep.SecretHeader == "" {
			ep.SecretHeader = DefaultSecretHeader
		}
	}
	if config.Listen == "" {
		config.Listen = DefaultListen
	}

	s.config = config
	s.router.Store(s.setupRoutes())
}

// ServeHTTP serves requests with the current route table.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.Load().ServeHTTP(w, r)
}

// Start starts the webhook HTTP server (blocking).
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	cfg := s.config
	s.mu.Unlock()

	readTimeout := cfg.ReadTimeout
	if readTimeout <= 0 {
		readTimeout = 10 * time.Second
	}
	writeTimeout := cfg.WriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = 10 * time.Second
	}

	s.server = &http.Server{
		Addr:         cfg.Listen,
		Handler:      s,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("webhook server starting", "listen", cfg.Listen, "endpoints", len(cfg.Endpoints))

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("webhook server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("webhook server shutdown failed: %w", err)
		}
		return ctx.Err()
	case err := <-errCh:
		return fmt.Errorf("webhook server error: %w", err)
	}
}

// setupRoutes configures the HTTP router. Caller holds s.mu.
func (s *Server) setupRoutes() *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)

	for _, ep := range s.config.Endpoints {
		r.Post(ep.Path, s.handlerFor(ep))
	}

	if s.config.GenericRoute {
		r.Post("/hook/{type}", s.handleGeneric)
	}

	for pattern, h := range s.mounts {
		r.Mount(pattern, h)
	}

	return r
}

// loggingMiddleware logs HTTP requests (excludes payloads and headers).
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		s.logger.Info("webhook request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
			"remote_addr", r.RemoteAddr,
		)
	})
}

// handlerFor binds an endpoint to a handler.
func (s *Server) handlerFor(ep EndpointConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.serve(w, r, ep.Source, ep.Params(), ep.MaxBodySize)
	}
}

// handleGeneric resolves the source from a runtime type tag. The secret and
// options come from the first endpoint bound to that source; without one the
// request fails secret verification.
func (s *Server) handleGeneric(w http.ResponseWriter, r *http.Request) {
	typeName := chi.URLParam(r, "type")
	name := s.dispatcher.Registry().ResolveName(typeName)

	params := Params{Path: r.URL.Path}
	maxBody := int64(DefaultMaxBodySize)

	s.mu.Lock()
	for _, ep := range s.config.Endpoints {
		if ep.Source == name {
			params = ep.Params()
			params.Path = r.URL.Path
			maxBody = ep.MaxBodySize
			break
		}
	}
	s.mu.Unlock()

	s.serve(w, r, typeName, params, maxBody)
}

func (s *Server) serve(w http.ResponseWriter, r *http.Request, source string, params Params, maxBody int64) {
	ctx := r.Context()

	// Enforce body size limit
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBody+1))
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, "failed to read request body")
		return
	}
	if int64(len(body)) > maxBody {
		s.respondError(w, http.StatusRequestEntityTooLarge, "payload too large")
		return
	}
	if len(body) == 0 {
		body = []byte("{}")
	}

	req := InboundRequest{
		Headers: HeadersFromHTTP(r.Header),
		Body:    json.RawMessage(body),
		Params:  routeParams(r),
	}

	res, err := s.dispatcher.Dispatch(ctx, source, params, req)
	if err != nil {
		var terr *TransformError
		switch {
		case errors.Is(err, ErrMissingConfig):
			s.logger.Error("webhook source not configured", "path", r.URL.Path, "source", res.Source, "error", err)
			s.respondError(w, http.StatusInternalServerError, "source not configured")
		case errors.As(err, &terr):
			s.logger.Error("webhook transform failed", "path", r.URL.Path, "source", res.Source, "execution_id", res.ExecutionID, "error", err)
			s.respondError(w, http.StatusInternalServerError, "transform failed")
		default:
			s.logger.Error("webhook dispatch failed", "path", r.URL.Path, "error", err)
			s.respondError(w, http.StatusInternalServerError, "internal error")
		}
		return
	}

	if res.Response.Status == StatusAccepted && len(res.Events) > 0 && s.sink != nil {
		if err := s.sink.Deliver(ctx, res); err != nil {
			s.logger.Error("failed to deliver webhook events",
				"path", r.URL.Path,
				"source", res.Source,
				"execution_id", res.ExecutionID,
				"error", err,
			)
			s.respondError(w, http.StatusInternalServerError, "failed to deliver events")
			return
		}
		s.logger.Info("webhook events delivered",
			"path", r.URL.Path,
			"source", res.Source,
			"execution_id", res.ExecutionID,
			"events", len(res.Events),
		)
	}

	s.respondJSON(w, res.Response.Code, res.Response.Body)
}

func routeParams(r *http.Request) map[string]string {
	rctx := chi.RouteContext(r.Context())
	if rctx == nil || len(rctx.URLParams.Keys) == 0 {
		return nil
	}
	params := make(map[string]string, len(rctx.URLParams.Keys))
	for i, key := range rctx.URLParams.Keys {
		if key == "*" {
			continue
		}
		params[key] = rctx.URLParams.Values[i]
	}
	return params
}

// respondJSON sends a JSON response.
func (s *Server) respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// respondError sends a JSON error response.
func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, ErrorResponse{Error: message})
}
