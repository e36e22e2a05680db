package webhook

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Registry holds source configurations keyed by source name.
//
// Sources are normally registered at startup, but a config reload re-registers
// them while requests are being served, so access is guarded by a RWMutex.
type Registry struct {
	mu       sync.RWMutex
	sources  map[string]SourceConfig
	prefixes []string
}

// NewRegistry creates an empty registry. prefixes are host namespace tags
// stripped from runtime type names (DefaultNamespacePrefixes when nil).
func NewRegistry(prefixes ...string) *Registry {
	if prefixes == nil {
		prefixes = DefaultNamespacePrefixes
	}
	return &Registry{
		sources:  make(map[string]SourceConfig),
		prefixes: prefixes,
	}
}

// Register stores cfg under cfg.Name. Registering an existing name replaces it.
func (r *Registry) Register(cfg SourceConfig) error {
	if err := checkSource(cfg); err != nil {
		return err
	}

	r.mu.Lock()
	r.sources[cfg.Name] = cfg
	r.mu.Unlock()
	return nil
}

// Replace swaps the whole registry contents for cfgs. Nothing changes when
// any config is invalid.
func (r *Registry) Replace(cfgs []SourceConfig) error {
	sources := make(map[string]SourceConfig, len(cfgs))
	for _, cfg := range cfgs {
		if err := checkSource(cfg); err != nil {
			return err
		}
		sources[cfg.Name] = cfg
	}

	r.mu.Lock()
	r.sources = sources
	r.mu.Unlock()
	return nil
}

func checkSource(cfg SourceConfig) error {
	if strings.TrimSpace(cfg.Name) == "" {
		return fmt.Errorf("source name is empty")
	}
	if cfg.Validate == nil {
		return fmt.Errorf("source %q: validate func is nil", cfg.Name)
	}
	if cfg.Transform == nil {
		return fmt.Errorf("source %q: transform func is nil", cfg.Name)
	}
	return nil
}

// Lookup returns the config registered under exactly id.
func (r *Registry) Lookup(id string) (SourceConfig, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cfg, ok := r.sources[id]
	return cfg, ok
}

// ResolveName strips the first matching namespace prefix from a runtime type name.
func (r *Registry) ResolveName(typeName string) string {
	for _, p := range r.prefixes {
		if p != "" && strings.HasPrefix(typeName, p) {
			return strings.TrimPrefix(typeName, p)
		}
	}
	return typeName
}

// Names returns the registered source names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.sources))
	for name := range r.sources {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// All returns a snapshot of every registered config, sorted by name.
func (r *Registry) All() []SourceConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]SourceConfig, 0, len(r.sources))
	for _, cfg := range r.sources {
		out = append(out, cfg)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Len returns the number of registered sources.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sources)
}
