package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Load reads, interpolates, defaults and validates the configuration at
// configPath. A directory path loads config.yaml inside it.
func Load(configPath string) (*Config, error) {
	absPath, err := filepath.Abs(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve config path %q: %w", configPath, err)
	}

	info, err := os.Stat(absPath)
	if err != nil {
		return nil, fmt.Errorf("config file not found: %s\n"+
			"Hint: Check the path or run with --config flag", absPath)
	}
	if info.IsDir() {
		absPath = filepath.Join(absPath, "config.yaml")
		if _, err := os.Stat(absPath); err != nil {
			return nil, fmt.Errorf("directory provided but config.yaml not found: %s", absPath)
		}
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", absPath, err)
	}
	cfg.Path = absPath
	return cfg, nil
}

// Parse decodes YAML config data, applies defaults and validates the result.
// Unknown keys are rejected.
func Parse(data []byte) (*Config, error) {
	interpolated := interpolateEnv(string(data))

	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader([]byte(interpolated)))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	applyConfigDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// DiscoverConfigPath finds the config file by checking standard locations.
// Priority order: $CALLHOOK_CONFIG, ~/.config/callhook, /etc/callhook, ./config.yaml
func DiscoverConfigPath() (string, error) {
	if p := os.Getenv("CALLHOOK_CONFIG"); p != "" {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	if homeDir, err := os.UserHomeDir(); err == nil {
		userConfigDir := filepath.Join(homeDir, ".config", "callhook")
		if _, err := os.Stat(filepath.Join(userConfigDir, "config.yaml")); err == nil {
			return userConfigDir, nil
		}
	}

	systemConfigDir := "/etc/callhook"
	if _, err := os.Stat(filepath.Join(systemConfigDir, "config.yaml")); err == nil {
		return systemConfigDir, nil
	}

	if _, err := os.Stat("./config.yaml"); err == nil {
		return "./config.yaml", nil
	}

	return "", fmt.Errorf("no config found (checked: $CALLHOOK_CONFIG, ~/.config/callhook, /etc/callhook, ./config.yaml)")
}

// ResolveSecret returns the secret for an endpoint. SecretRef takes precedence.
func (c *Config) ResolveSecret(ep EndpointConf) (string, error) {
	if ep.SecretRef != "" {
		secret, ok := c.Credentials[ep.SecretRef]
		if !ok {
			return "", fmt.Errorf("secret_ref %q not found in credentials", ep.SecretRef)
		}
		return secret, nil
	}
	return ep.Secret, nil
}

func applyConfigDefaults(cfg *Config) {
	defaults := Defaults()

	if cfg.Service.Name == "" {
		cfg.Service.Name = defaults.Service.Name
	}
	if cfg.Service.LogLevel == "" {
		cfg.Service.LogLevel = defaults.Service.LogLevel
	}
	if cfg.Service.LogFormat == "" {
		cfg.Service.LogFormat = defaults.Service.LogFormat
	}
	cfg.Service.LogLevel = strings.ToLower(cfg.Service.LogLevel)

	if cfg.Server.Listen == "" {
		cfg.Server.Listen = defaults.Server.Listen
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = defaults.Server.ReadTimeout
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = defaults.Server.WriteTimeout
	}
	if cfg.Server.NamespacePrefixes == nil {
		cfg.Server.NamespacePrefixes = defaults.Server.NamespacePrefixes
	}

	if cfg.Events.BufferSize <= 0 {
		cfg.Events.BufferSize = defaults.Events.BufferSize
	}
	if cfg.Credentials == nil {
		cfg.Credentials = defaults.Credentials
	}
}

// interpolateEnv replaces ${VAR} with environment variable values.
// Undefined variables are left as-is (not expanded).
func interpolateEnv(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		if value, exists := os.LookupEnv(varName); exists {
			return value
		}
		return match
	})
}

// ParseSize parses size strings like "1MB", "512KB" or "2048576" to bytes.
// Returns fallback if size is empty.
func ParseSize(size string, fallback int64) (int64, error) {
	if size == "" {
		return fallback, nil
	}

	upper := strings.ToUpper(strings.TrimSpace(size))
	multiplier := int64(1)

	switch {
	case strings.HasSuffix(upper, "KB"):
		multiplier = 1024
		upper = strings.TrimSuffix(upper, "KB")
	case strings.HasSuffix(upper, "MB"):
		multiplier = 1024 * 1024
		upper = strings.TrimSuffix(upper, "MB")
	case strings.HasSuffix(upper, "GB"):
		multiplier = 1024 * 1024 * 1024
		upper = strings.TrimSuffix(upper, "GB")
	}

	value, err := strconv.ParseInt(strings.TrimSpace(upper), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid size value: %w", err)
	}
	if value <= 0 {
		return 0, fmt.Errorf("size must be positive")
	}

	result := value * multiplier
	if result/multiplier != value {
		return 0, fmt.Errorf("size too large")
	}
	return result, nil
}
