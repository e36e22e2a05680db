package config

import "time"

// Config represents the complete callhook configuration.
type Config struct {
	Service     ServiceConfig     `yaml:"service"`
	Server      ServerConfig      `yaml:"server"`
	Events      EventsConfig      `yaml:"events"`
	Credentials map[string]string `yaml:"credentials,omitempty"`
	Sources     []SourceDef       `yaml:"sources,omitempty"`
	Endpoints   []EndpointConf    `yaml:"endpoints"`

	// Path is the file the config was loaded from.
	Path string `yaml:"-"`
}

// ServiceConfig defines core service settings.
type ServiceConfig struct {
	Name      string `yaml:"name"`
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
}

// ServerConfig defines the webhook listener.
type ServerConfig struct {
	Listen       string        `yaml:"listen"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`

	// NamespacePrefixes are stripped from source names before registry lookup on every route.
	NamespacePrefixes []string `yaml:"namespace_prefixes,omitempty"`

	// GenericRoute enables POST /hook/{type}, resolving the source from the type tag.
	GenericRoute bool `yaml:"generic_route"`
}

// EventsConfig defines the downstream event stream.
type EventsConfig struct {
	BufferSize int `yaml:"buffer_size"`

	// APIKey protects GET /events and GET /sources. Empty disables both.
	APIKey string `yaml:"api_key"`
}

// SourceDef is a data-driven source definition. A definition whose name
// matches a built-in source overrides the non-empty fields of that source.
type SourceDef struct {
	Name        string   `yaml:"name"`
	DisplayName string   `yaml:"display_name"`
	Description string   `yaml:"description"`
	Icon        string   `yaml:"icon"`
	Categories  []string `yaml:"categories,omitempty"`
	DefaultPath string   `yaml:"default_path"`

	// RequiredFields must be present in the payload object.
	RequiredFields []string `yaml:"required_fields,omitempty"`

	// StripFields are removed from every emitted event.
	StripFields []string `yaml:"strip_fields,omitempty"`

	// SplitField names an array field; each element becomes one event.
	SplitField string `yaml:"split_field,omitempty"`

	// Response replaces the default acknowledgment body.
	Response map[string]any `yaml:"response,omitempty"`
}

// EndpointConf binds a route path to a source.
type EndpointConf struct {
	Path   string `yaml:"path"`
	Source string `yaml:"source"`

	// Secret is the shared secret expected in SecretHeader.
	Secret string `yaml:"secret,omitempty"`

	// SecretRef references an entry in credentials (preferred over Secret).
	SecretRef string `yaml:"secret_ref,omitempty"`

	// SecretHeader defaults to x-ac-webhook-secret.
	SecretHeader string `yaml:"secret_header,omitempty"`

	// MaxBodySize accepts "512KB", "1MB" or a byte count (default: 1MB).
	MaxBodySize string `yaml:"max_body_size,omitempty"`

	IncludeRawBody bool `yaml:"include_raw_body"`
	IncludeHeaders bool `yaml:"include_headers"`
}

// Defaults returns a Config with sensible defaults.
func Defaults() *Config {
	return &Config{
		Service: ServiceConfig{
			Name:      "callhook",
			LogLevel:  "info",
			LogFormat: "json",
		},
		Server: ServerConfig{
			Listen:            "127.0.0.1:8081",
			ReadTimeout:       10 * time.Second,
			WriteTimeout:      10 * time.Second,
			NamespacePrefixes: []string{"CUSTOM."},
		},
		Events: EventsConfig{
			BufferSize: 256,
		},
		Credentials: make(map[string]string),
	}
}
