// Package config provides configuration management for sigflow.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the global configuration for sigflow.
type Config struct {
	// App is the application configuration.
	App AppConfig `mapstructure:"app" validate:"required"`

	// Log is the logging configuration.
	Log LogConfig `mapstructure:"log" validate:"required"`

	// Queues declares the task queues to create at startup.
	Queues []QueueConfig `mapstructure:"queues" validate:"dive"`

	// API is the introspection HTTP server configuration.
	API APIConfig `mapstructure:"api"`

	// Metrics is the observability configuration.
	Metrics MetricsConfig `mapstructure:"metrics"`

	// Tracing is the distributed tracing configuration.
	Tracing TracingConfig `mapstructure:"tracing"`
}

// AppConfig holds application metadata and settings.
type AppConfig struct {
	// Name is the application name.
	Name string `mapstructure:"name" validate:"required"`

	// Environment is the runtime environment (development, staging, production).
	Environment string `mapstructure:"environment" validate:"env"`

	// Debug enables debug mode with verbose logging.
	Debug bool `mapstructure:"debug"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	// Level is the minimum log level (debug, info, warn, error).
	Level string `mapstructure:"level" validate:"oneof=debug info warn error"`

	// Format is the output format (json or text).
	Format string `mapstructure:"format" validate:"oneof=json text"`

	// Output is the destination: stdout, stderr, or a file path.
	Output string `mapstructure:"output"`
}

// QueueConfig declares one task queue.
type QueueConfig struct {
	// Name is the unique queue name.
	Name string `mapstructure:"name" validate:"required"`

	// RateLimit paces task execution (tasks per second, 0 = unlimited).
	RateLimit float64 `mapstructure:"rate_limit" validate:"gte=0"`
}

// APIConfig holds the introspection HTTP server settings.
type APIConfig struct {
	// Enabled enables the HTTP server.
	Enabled bool `mapstructure:"enabled"`

	// Host is the bind address.
	Host string `mapstructure:"host"`

	// Port is the HTTP port.
	Port int `mapstructure:"port" validate:"min=0,max=65535"`

	// ReadTimeout is the maximum duration for reading the entire request.
	ReadTimeout time.Duration `mapstructure:"read_timeout"`

	// WriteTimeout is the maximum duration before timing out writes.
	WriteTimeout time.Duration `mapstructure:"write_timeout"`

	// ShutdownTimeout is the maximum duration to wait for graceful shutdown.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// MetricsConfig holds Prometheus settings.
type MetricsConfig struct {
	// Enabled enables metrics collection and the metrics endpoint.
	Enabled bool `mapstructure:"enabled"`

	// Port is the metrics server port.
	Port int `mapstructure:"port" validate:"min=0,max=65535"`

	// Path is the metrics endpoint path.
	Path string `mapstructure:"path"`
}

// TracingConfig holds OpenTelemetry tracing settings.
type TracingConfig struct {
	// Enabled enables trace export.
	Enabled bool `mapstructure:"enabled"`

	// Exporter selects the exporter; only "otlp" is supported.
	Exporter string `mapstructure:"exporter"`

	// Endpoint is the OTLP gRPC collector endpoint (host:port).
	Endpoint string `mapstructure:"endpoint"`

	// Timeout is the export timeout.
	Timeout time.Duration `mapstructure:"timeout"`

	// Headers are extra headers sent with each export request.
	Headers map[string]string `mapstructure:"headers"`
}

// QueueNames returns the configured queue names.
func (c *Config) QueueNames() []string {
	names := make([]string, 0, len(c.Queues))
	for _, q := range c.Queues {
		names = append(names, q.Name)
	}
	return names
}

// String returns a single-line summary of the configuration for logging.
func (c *Config) String() string {
	return fmt.Sprintf("app=%s env=%s log=%s queues=[%s] api=%v metrics=%v tracing=%v",
		c.App.Name, c.App.Environment, c.Log.Level,
		strings.Join(c.QueueNames(), ","),
		c.API.Enabled, c.Metrics.Enabled, c.Tracing.Enabled,
	)
}
