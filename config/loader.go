package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

const (
	// EnvPrefix is the prefix for environment variables.
	EnvPrefix = "SIGFLOW_"
	// Delimiter is the key delimiter for nested config.
	Delimiter = "."
)

// Loader handles configuration loading from various sources.
type Loader struct {
	k *koanf.Koanf
}

// NewLoader creates a new configuration loader.
func NewLoader() *Loader {
	return &Loader{
		k: koanf.New(Delimiter),
	}
}

// Load loads configuration with the following priority, lowest first:
// defaults, configuration file, environment variables, explicit overrides.
func (l *Loader) Load(configPath string, overrides map[string]interface{}) (*Config, error) {
	if err := l.loadDefaults(); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if configPath != "" {
		if err := l.loadFile(configPath); err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	} else {
		l.loadDefaultFiles()
	}

	if err := l.loadEnv(); err != nil {
		return nil, fmt.Errorf("failed to load env vars: %w", err)
	}

	if len(overrides) > 0 {
		if err := l.k.Load(confmap.Provider(overrides, Delimiter), nil); err != nil {
			return nil, fmt.Errorf("failed to apply overrides: %w", err)
		}
	}

	var cfg Config
	if err := l.k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{
		Tag: "mapstructure",
	}); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := ValidateWithDetails(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// loadDefaults loads the default configuration. Defaults use flat delimited
// keys so later file and env sources merge per-field instead of replacing
// whole sections.
func (l *Loader) loadDefaults() error {
	d := DefaultConfig()

	queues := make([]map[string]interface{}, 0, len(d.Queues))
	for _, q := range d.Queues {
		queues = append(queues, map[string]interface{}{
			"name":       q.Name,
			"rate_limit": q.RateLimit,
		})
	}

	return l.k.Load(confmap.Provider(map[string]interface{}{
		"app.name":             d.App.Name,
		"app.environment":      d.App.Environment,
		"app.debug":            d.App.Debug,
		"log.level":            d.Log.Level,
		"log.format":           d.Log.Format,
		"log.output":           d.Log.Output,
		"queues":               queues,
		"api.enabled":          d.API.Enabled,
		"api.host":             d.API.Host,
		"api.port":             d.API.Port,
		"api.read_timeout":     d.API.ReadTimeout,
		"api.write_timeout":    d.API.WriteTimeout,
		"api.shutdown_timeout": d.API.ShutdownTimeout,
		"metrics.enabled":      d.Metrics.Enabled,
		"metrics.port":         d.Metrics.Port,
		"metrics.path":         d.Metrics.Path,
		"tracing.enabled":      d.Tracing.Enabled,
		"tracing.exporter":     d.Tracing.Exporter,
		"tracing.endpoint":     d.Tracing.Endpoint,
		"tracing.timeout":      d.Tracing.Timeout,
	}, Delimiter), nil)
}

// loadFile loads configuration from a json or yaml file.
func (l *Loader) loadFile(path string) error {
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("config file %s: %w", path, err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return l.k.Load(file.Provider(path), json.Parser())
	case ".yaml", ".yml":
		return l.k.Load(file.Provider(path), yaml.Parser())
	default:
		return fmt.Errorf("unsupported config file format: %s", path)
	}
}

// loadDefaultFiles tries the standard config locations, first hit wins.
func (l *Loader) loadDefaultFiles() {
	candidates := []string{
		"sigflow.yaml",
		"sigflow.yml",
		"sigflow.json",
		filepath.Join("config", "sigflow.yaml"),
	}
	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			_ = l.loadFile(path)
			return
		}
	}
}

// loadEnv loads SIGFLOW_-prefixed environment variables. Double underscores
// separate nesting levels, e.g. SIGFLOW_LOG__LEVEL=debug.
func (l *Loader) loadEnv() error {
	return l.k.Load(env.Provider(EnvPrefix, Delimiter, func(s string) string {
		key := strings.TrimPrefix(s, EnvPrefix)
		key = strings.ToLower(key)
		return strings.ReplaceAll(key, "__", Delimiter)
	}), nil)
}

// Load is a convenience wrapper around a fresh Loader.
func Load(configPath string, overrides map[string]interface{}) (*Config, error) {
	return NewLoader().Load(configPath, overrides)
}
