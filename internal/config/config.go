package config

import (
	"encoding/json"
	"errors"

	"github.com/harun/trackq/pkg/cron"
)

// Config represents the main trackq configuration
type Config struct {
	// Tracker construction
	Tracker TrackerConfig `json:"tracker" mapstructure:"tracker"`

	// Logging
	Logging LoggingConfig `json:"logging" mapstructure:"logging"`

	// Ingress server
	Ingress IngressConfig `json:"ingress" mapstructure:"ingress"`

	// Spool directory watcher
	Spool SpoolConfig `json:"spool" mapstructure:"spool"`

	// Scheduled pushes
	Schedules []cron.JobSpec `json:"schedules" mapstructure:"schedules"`

	// Tracing
	Tracing TracingConfig `json:"tracing" mapstructure:"tracing"`

	// PendingBuffer is a call buffer replayed before anything else.
	PendingBuffer string `json:"pending_buffer" mapstructure:"pending_buffer"`

	// Data directory
	DataDir string `json:"data_dir" mapstructure:"data_dir"`
}

// TrackerConfig holds the values handed to every tracker the proxy creates
type TrackerConfig struct {
	Version string `json:"version" mapstructure:"version"`
	// EventsFile receives every tracked record as a JSON line.
	EventsFile string `json:"events_file" mapstructure:"events_file"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level     string `json:"level" mapstructure:"level"`
	File      string `json:"file" mapstructure:"file"`
	MaxSize   int    `json:"max_size" mapstructure:"max_size"` // MB
	MaxAge    int    `json:"max_age" mapstructure:"max_age"`   // days
	Compress  bool   `json:"compress" mapstructure:"compress"`
	Redaction bool   `json:"redaction" mapstructure:"redaction"`
	Console   bool   `json:"console" mapstructure:"console"`
}

// IngressConfig holds the HTTP/WebSocket ingress configuration.
// Durations are in seconds. RateLimit 0 disables rate limiting.
type IngressConfig struct {
	Enabled         bool   `json:"enabled" mapstructure:"enabled"`
	Host            string `json:"host" mapstructure:"host"`
	Port            int    `json:"port" mapstructure:"port"`
	Secret          string `json:"secret" mapstructure:"secret"`
	RateLimit       int    `json:"rate_limit" mapstructure:"rate_limit"`
	RateWindow      int    `json:"rate_window" mapstructure:"rate_window"`
	DedupTTL        int    `json:"dedup_ttl" mapstructure:"dedup_ttl"`
	MaxBodyBytes    int64  `json:"max_body_bytes" mapstructure:"max_body_bytes"`
	ShutdownTimeout int    `json:"shutdown_timeout" mapstructure:"shutdown_timeout"`
	WebSocket       bool   `json:"websocket" mapstructure:"websocket"`
}

// SpoolConfig holds the spool watcher configuration
type SpoolConfig struct {
	Enabled     bool   `json:"enabled" mapstructure:"enabled"`
	Dir         string `json:"dir" mapstructure:"dir"`
	StabilityMs int    `json:"stability_ms" mapstructure:"stability_ms"`
}

// TracingConfig holds OpenTelemetry configuration
type TracingConfig struct {
	Enabled     bool    `json:"enabled" mapstructure:"enabled"`
	ServiceName string  `json:"service_name" mapstructure:"service_name"`
	SampleRatio float64 `json:"sample_ratio" mapstructure:"sample_ratio"`
}

// DefaultConfig returns a config with default values
func DefaultConfig() *Config {
	return &Config{
		Tracker: TrackerConfig{
			Version: "go-trackq-0.1.0",
		},
		Logging: LoggingConfig{
			Level:     "info",
			MaxSize:   100,
			MaxAge:    7,
			Compress:  true,
			Redaction: true,
			Console:   true,
		},
		Ingress: IngressConfig{
			Enabled:         false,
			Host:            "127.0.0.1",
			Port:            8787,
			RateLimit:       120,
			RateWindow:      60,
			DedupTTL:        300,
			MaxBodyBytes:    1 << 20,
			ShutdownTimeout: 10,
			WebSocket:       true,
		},
		Spool: SpoolConfig{
			Enabled:     false,
			StabilityMs: 100,
		},
		Schedules: []cron.JobSpec{},
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "trackq",
			SampleRatio: 1.0,
		},
	}
}

// String returns a JSON representation of the config
func (c *Config) String() string {
	data, _ := json.MarshalIndent(c.Redacted(), "", "  ")
	return string(data)
}

// Redacted returns a copy with secrets masked.
func (c *Config) Redacted() *Config {
	cp := *c
	if cp.Ingress.Secret != "" {
		cp.Ingress.Secret = "[REDACTED]"
	}
	return &cp
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	return errors.Join(NewValidator().ValidateConfig(c)...)
}
