package config

import (
	"strings"
	"time"

	"github.com/marmos91/dittohttp/pkg/adapter/http"
)

const (
	// DefaultHTTPPort is the port served when none is configured.
	DefaultHTTPPort = 8080

	// DefaultDocumentRoot is the directory served when none is configured.
	DefaultDocumentRoot = "/var/www/html"

	// DefaultMetricsPort is the Prometheus endpoint port.
	DefaultMetricsPort = 9090
)

// ApplyDefaults sets default values for any unspecified configuration fields.
//
// This function is called after loading configuration from file and environment
// variables to fill in any missing values with sensible defaults.
//
// Default Strategy:
//   - Zero values (0, "", false, nil) are replaced with defaults
//   - Explicit values are preserved
//   - Booleans that default to true are set by Load through viper, since a
//     zero value cannot be told apart from an explicit false here
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applyServerDefaults(&cfg.Server)
	applyAdaptersDefaults(&cfg.Adapters)
}

// applyLoggingDefaults sets logging defaults and normalizes values.
func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	// Normalize log level to uppercase for consistent internal representation
	cfg.Level = strings.ToUpper(cfg.Level)

	if cfg.Format == "" {
		cfg.Format = "text"
	}
	if cfg.Output == "" {
		cfg.Output = "stdout"
	}
}

// applyServerDefaults sets server defaults.
func applyServerDefaults(cfg *ServerConfig) {
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
	if cfg.Metrics.Port == 0 {
		cfg.Metrics.Port = DefaultMetricsPort
	}
}

// applyAdaptersDefaults sets adapter defaults.
func applyAdaptersDefaults(cfg *AdaptersConfig) {
	// A config built in code with no HTTP section at all (port still 0) gets
	// the adapter enabled, so it passes validation. Load goes through viper
	// defaults instead, where an explicit enabled: false is kept.
	if !cfg.HTTP.Enabled && cfg.HTTP.Port == 0 {
		cfg.HTTP.Enabled = true
		cfg.HTTP.SanitizePaths = true
	}

	applyHTTPDefaults(&cfg.HTTP)
}

// applyHTTPDefaults sets HTTP adapter defaults.
func applyHTTPDefaults(cfg *http.HTTPConfig) {
	if cfg.Port == 0 {
		cfg.Port = DefaultHTTPPort
	}
	if cfg.DocumentRoot == "" {
		cfg.DocumentRoot = DefaultDocumentRoot
	}
	if cfg.DefaultDocument == "" {
		cfg.DefaultDocument = "judge.html"
	}
	if cfg.RegisterDocument == "" {
		cfg.RegisterDocument = "register.html"
	}
	if cfg.LoginDocument == "" {
		cfg.LoginDocument = "log.html"
	}

	// Pool and table sizes
	if cfg.Workers == 0 {
		cfg.Workers = 8
	}
	if cfg.MaxQueue == 0 {
		cfg.MaxQueue = 10000
	}
	if cfg.MaxConnections == 0 {
		cfg.MaxConnections = 10000
	}
	if cfg.ReadBufferSize == 0 {
		cfg.ReadBufferSize = 2048
	}
	if cfg.WriteBufferSize == 0 {
		cfg.WriteBufferSize = 1024
	}
	if cfg.MaxEvents == 0 {
		cfg.MaxEvents = 10000
	}
	if cfg.Backlog == 0 {
		cfg.Backlog = 128
	}

	// AcceptRate and AcceptBurst default to 0 (unlimited)

	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
	if cfg.MetricsLogInterval == 0 {
		cfg.MetricsLogInterval = 5 * time.Minute
	}
}

// GetDefaultConfig returns a Config struct with all default values applied.
//
// This is useful for:
//   - Generating sample configuration files
//   - Testing
//   - Documentation
func GetDefaultConfig() *Config {
	cfg := &Config{
		Adapters: AdaptersConfig{
			HTTP: http.HTTPConfig{
				Enabled:       true,
				SanitizePaths: true,
			},
		},
	}

	ApplyDefaults(cfg)
	return cfg
}
