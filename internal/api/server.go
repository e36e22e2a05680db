package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mattjoyce/callhook/internal/events"
	"github.com/mattjoyce/callhook/internal/webhook"
)

// SourceRegistry defines the registry operations the API reads.
type SourceRegistry interface {
	All() []webhook.SourceConfig
	Lookup(id string) (webhook.SourceConfig, bool)
}

// Config holds API configuration
type Config struct {
	// APIKey protects the source and event endpoints. Empty leaves only /healthz reachable.
	APIKey string
}

// Server serves the admin API. It has no listener of its own; the webhook
// server mounts Routes.
type Server struct {
	config    Config
	registry  SourceRegistry
	events    *events.Hub
	logger    *slog.Logger
	startedAt time.Time
}

// New creates a new API server instance
func New(config Config, registry SourceRegistry, hub *events.Hub, logger *slog.Logger) *Server {
	return &Server{
		config:    config,
		registry:  registry,
		events:    hub,
		logger:    logger,
		startedAt: time.Now(),
	}
}

// Routes returns the API router.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()

	// Unauthenticated ops endpoint.
	r.Get("/healthz", s.handleHealthz)

	r.Group(func(r chi.Router) {
		r.Use(s.authMiddleware)
		r.Get("/sources", s.handleListSources)
		r.Get("/sources/{name}", s.handleGetSource)
		r.Get("/events", s.handleEvents)
	})

	return r
}
