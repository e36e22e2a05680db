package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mattjoyce/callhook/internal/webhook"
)

// ErrorResponse is returned on errors
type ErrorResponse struct {
	Error string `json:"error"`
}

// HealthzResponse is returned by GET /healthz.
type HealthzResponse struct {
	Status         string `json:"status"`
	UptimeSeconds  int64  `json:"uptime_seconds"`
	SourcesLoaded  int    `json:"sources_loaded"`
	EventsBuffered int    `json:"events_buffered"`
}

// SourcesResponse is returned by GET /sources.
type SourcesResponse struct {
	Sources []webhook.Description `json:"sources"`
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	resp := HealthzResponse{
		Status:        "ok",
		UptimeSeconds: int64(time.Since(s.startedAt).Seconds()),
		SourcesLoaded: len(s.registry.All()),
	}
	if s.events != nil {
		resp.EventsBuffered = s.events.Len()
	}
	respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleListSources(w http.ResponseWriter, r *http.Request) {
	all := s.registry.All()
	resp := SourcesResponse{Sources: make([]webhook.Description, 0, len(all))}
	for _, cfg := range all {
		resp.Sources = append(resp.Sources, webhook.Describe(cfg))
	}
	respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGetSource(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	cfg, ok := s.registry.Lookup(name)
	if !ok {
		s.writeError(w, http.StatusNotFound, "source not found")
		return
	}
	respondJSON(w, http.StatusOK, webhook.Describe(cfg))
}

func respondJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) writeError(w http.ResponseWriter, statusCode int, message string) {
	respondJSON(w, statusCode, ErrorResponse{Error: message})
}
