package config

import (
	"fmt"
	"strings"
)

// validate performs structural validation on the configuration.
func validate(cfg *Config) error {
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[cfg.Service.LogLevel] {
		return fmt.Errorf("service.log_level must be one of: debug, info, warn, error (got %q)", cfg.Service.LogLevel)
	}
	if cfg.Service.LogFormat != "json" && cfg.Service.LogFormat != "text" {
		return fmt.Errorf("service.log_format must be json or text (got %q)", cfg.Service.LogFormat)
	}

	if cfg.Server.ReadTimeout < 0 || cfg.Server.WriteTimeout < 0 {
		return fmt.Errorf("server timeouts must not be negative")
	}
	if err := checkUnresolved("events.api_key", cfg.Events.APIKey); err != nil {
		return err
	}

	for name, value := range cfg.Credentials {
		if err := checkUnresolved("credentials."+name, value); err != nil {
			return err
		}
	}

	if err := validateSources(cfg.Sources); err != nil {
		return err
	}
	return validateEndpoints(cfg)
}

func validateSources(defs []SourceDef) error {
	seen := make(map[string]bool, len(defs))
	for i, def := range defs {
		if strings.TrimSpace(def.Name) == "" {
			return fmt.Errorf("sources[%d]: name is required", i)
		}
		if seen[def.Name] {
			return fmt.Errorf("sources[%d]: duplicate source name %q", i, def.Name)
		}
		seen[def.Name] = true

		for _, f := range def.StripFields {
			if f == "" {
				return fmt.Errorf("sources[%d] (%s): strip_fields contains an empty name", i, def.Name)
			}
		}
	}
	return nil
}

func validateEndpoints(cfg *Config) error {
	paths := make(map[string]bool, len(cfg.Endpoints))
	for i, ep := range cfg.Endpoints {
		if !strings.HasPrefix(ep.Path, "/") {
			return fmt.Errorf("endpoints[%d]: path must start with '/' (got %q)", i, ep.Path)
		}
		if paths[ep.Path] {
			return fmt.Errorf("endpoints[%d] (%s): duplicate path", i, ep.Path)
		}
		paths[ep.Path] = true

		if ep.Source == "" {
			return fmt.Errorf("endpoints[%d] (%s): source is required", i, ep.Path)
		}

		if ep.Secret == "" && ep.SecretRef == "" {
			return fmt.Errorf("endpoints[%d] (%s): either 'secret' or 'secret_ref' is required", i, ep.Path)
		}
		secret, err := cfg.ResolveSecret(ep)
		if err != nil {
			return fmt.Errorf("endpoints[%d] (%s): %w", i, ep.Path, err)
		}
		if secret == "" {
			return fmt.Errorf("endpoints[%d] (%s): secret is empty", i, ep.Path)
		}
		if err := checkUnresolved(fmt.Sprintf("endpoints[%d].secret", i), secret); err != nil {
			return err
		}

		if _, err := ParseSize(ep.MaxBodySize, 1); err != nil {
			return fmt.Errorf("endpoints[%d] (%s): invalid max_body_size %q: %w", i, ep.Path, ep.MaxBodySize, err)
		}
	}
	return nil
}

func checkUnresolved(field, value string) error {
	if matches := envVarPattern.FindStringSubmatch(value); len(matches) > 1 {
		return fmt.Errorf("%s: environment variable ${%s} is not set", field, matches[1])
	}
	return nil
}
