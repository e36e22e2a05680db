package webhook

import (
	"context"
	"fmt"
	"time"

	"github.com/mattjoyce/callhook/internal/config"
)

//go:generate mockgen -destination=mocks/mock_sink.go -package=mocks github.com/mattjoyce/callhook/internal/webhook EventSink

// EventSink receives the normalized events of every accepted request.
type EventSink interface {
	Deliver(ctx context.Context, res Result) error
}

// Config holds webhook server configuration.
type Config struct {
	Listen       string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// GenericRoute enables POST /hook/{type}.
	GenericRoute bool

	Endpoints []EndpointConfig
}

// EndpointConfig binds one route path to a source.
type EndpointConfig struct {
	Path         string
	Source       string
	Secret       string
	SecretHeader string
	MaxBodySize  int64
	Options      Options
}

// Params returns the dispatch parameters for this endpoint.
func (ep EndpointConfig) Params() Params {
	return Params{
		Secret:       ep.Secret,
		SecretHeader: ep.SecretHeader,
		Path:         ep.Path,
		Options:      ep.Options,
	}
}

// FromGlobalConfig converts the loaded file config to a webhook.Config,
// resolving secret references and parsing body size limits.
func FromGlobalConfig(cfg *config.Config) (Config, error) {
	if cfg == nil {
		return Config{}, fmt.Errorf("config is nil")
	}

	out := Config{
		Listen:       cfg.Server.Listen,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		GenericRoute: cfg.Server.GenericRoute,
		Endpoints:    make([]EndpointConfig, len(cfg.Endpoints)),
	}

	for i, ep := range cfg.Endpoints {
		secret, err := cfg.ResolveSecret(ep)
		if err != nil {
			return Config{}, fmt.Errorf("webhook endpoint %q: %w", ep.Path, err)
		}
		if secret == "" {
			return Config{}, fmt.Errorf("webhook endpoint %q: no secret or secret_ref configured", ep.Path)
		}

		maxBodySize, err := config.ParseSize(ep.MaxBodySize, DefaultMaxBodySize)
		if err != nil {
			return Config{}, fmt.Errorf("webhook endpoint %q: invalid max_body_size %q: %w", ep.Path, ep.MaxBodySize, err)
		}

		out.Endpoints[i] = EndpointConfig{
			Path:         ep.Path,
			Source:       ep.Source,
			Secret:       secret,
			SecretHeader: ep.SecretHeader,
			MaxBodySize:  maxBodySize,
			Options: Options{
				IncludeRawBody: ep.IncludeRawBody,
				IncludeHeaders: ep.IncludeHeaders,
			},
		}
	}

	return out, nil
}
