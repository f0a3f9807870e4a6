package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes environment overrides, e.g. TRACKQ_INGRESS_PORT.
const EnvPrefix = "TRACKQ"

// Loader handles configuration loading
type Loader struct {
	configPath string
}

// NewLoader creates a new config loader
func NewLoader(configPath string) *Loader {
	return &Loader{
		configPath: configPath,
	}
}

// Load loads the configuration from file
func (l *Loader) Load() (*Config, error) {
	configPath := l.GetConfigPath()
	if configPath == "" {
		return nil, fmt.Errorf("failed to determine config path")
	}

	cfg := DefaultConfig()

	if _, err := os.Stat(configPath); err == nil {
		v := newViper(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := v.Unmarshal(cfg); err != nil {
			return nil, fmt.Errorf("failed to unmarshal config: %w", err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}

	if err := applyDefaultPaths(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Save saves the configuration to file
func (l *Loader) Save(cfg *Config) error {
	configPath := l.GetConfigPath()
	if configPath == "" {
		return fmt.Errorf("failed to determine config path")
	}

	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("json")

	v.Set("tracker", cfg.Tracker)
	v.Set("logging", cfg.Logging)
	v.Set("ingress", cfg.Ingress)
	v.Set("spool", cfg.Spool)
	v.Set("schedules", cfg.Schedules)
	v.Set("tracing", cfg.Tracing)
	v.Set("pending_buffer", cfg.PendingBuffer)
	v.Set("data_dir", cfg.DataDir)

	if err := v.WriteConfig(); err != nil {
		if os.IsNotExist(err) {
			if err := v.SafeWriteConfig(); err != nil {
				return fmt.Errorf("failed to write config file: %w", err)
			}
		} else {
			return fmt.Errorf("failed to write config file: %w", err)
		}
	}

	return nil
}

// GetConfigPath returns the config file path
func (l *Loader) GetConfigPath() string {
	if l.configPath != "" {
		return l.configPath
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".trackq", "trackq.json")
}

// Load is a convenience function that creates a loader and loads the config
func Load(configPath string) (*Config, error) {
	return NewLoader(configPath).Load()
}

func newViper(configPath string) *viper.Viper {
	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("json")

	// Nested keys map to underscores: ingress.port -> TRACKQ_INGRESS_PORT
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	return v
}

func applyDefaultPaths(cfg *Config) error {
	if cfg.DataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("failed to get home directory: %w", err)
		}
		cfg.DataDir = filepath.Join(home, ".trackq")
	}

	if cfg.Logging.File == "" {
		cfg.Logging.File = filepath.Join(cfg.DataDir, "trackq.log")
	}

	if cfg.Tracker.EventsFile == "" {
		cfg.Tracker.EventsFile = filepath.Join(cfg.DataDir, "events.jsonl")
	}

	if cfg.Spool.Dir == "" {
		cfg.Spool.Dir = filepath.Join(cfg.DataDir, "spool")
	}

	return nil
}
