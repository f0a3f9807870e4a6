package config

import (
	"fmt"
	"strings"

	"github.com/harun/trackq/pkg/commandqueue"
)

// minSecretLength is the shortest accepted ingress signing secret.
const minSecretLength = 16

// Validator validates configuration values
type Validator struct{}

// NewValidator creates a new validator
func NewValidator() *Validator {
	return &Validator{}
}

// ValidateLogLevel validates log level
func (v *Validator) ValidateLogLevel(level string) error {
	validLevels := []string{"debug", "info", "warn", "error"}
	for _, valid := range validLevels {
		if level == valid {
			return nil
		}
	}
	return fmt.Errorf("invalid log level: %s (must be one of: %s)", level, strings.Join(validLevels, ", "))
}

// ValidatePort validates a TCP port
func (v *Validator) ValidatePort(port int) error {
	if port < 1 || port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", port)
	}
	return nil
}

// ValidateSecret validates an ingress signing secret. Empty disables signing.
func (v *Validator) ValidateSecret(secret string) error {
	if secret == "" {
		return nil
	}
	if len(secret) < minSecretLength {
		return fmt.Errorf("ingress secret must be at least %d characters", minSecretLength)
	}
	return nil
}

// ValidateSampleRatio validates a trace sampling ratio
func (v *Validator) ValidateSampleRatio(ratio float64) error {
	if ratio < 0 || ratio > 1 {
		return fmt.Errorf("sample ratio must be between 0 and 1, got %f", ratio)
	}
	return nil
}

// ValidateConfig performs comprehensive validation
func (v *Validator) ValidateConfig(cfg *Config) []error {
	var errs []error

	if strings.TrimSpace(cfg.Tracker.Version) == "" {
		errs = append(errs, fmt.Errorf("tracker.version is required"))
	}

	if err := v.ValidateLogLevel(cfg.Logging.Level); err != nil {
		errs = append(errs, err)
	}
	if cfg.Logging.MaxSize < 0 {
		errs = append(errs, fmt.Errorf("logging.max_size must be >= 0"))
	}

	if cfg.Ingress.Enabled {
		if err := v.ValidatePort(cfg.Ingress.Port); err != nil {
			errs = append(errs, fmt.Errorf("ingress: %w", err))
		}
	}
	if err := v.ValidateSecret(cfg.Ingress.Secret); err != nil {
		errs = append(errs, err)
	}
	if cfg.Ingress.RateLimit < 0 {
		errs = append(errs, fmt.Errorf("ingress.rate_limit must be >= 0"))
	}
	if cfg.Ingress.RateLimit > 0 && cfg.Ingress.RateWindow <= 0 {
		errs = append(errs, fmt.Errorf("ingress.rate_window must be > 0 when rate limiting is enabled"))
	}
	if cfg.Ingress.DedupTTL < 0 {
		errs = append(errs, fmt.Errorf("ingress.dedup_ttl must be >= 0"))
	}
	if cfg.Ingress.MaxBodyBytes < 0 {
		errs = append(errs, fmt.Errorf("ingress.max_body_bytes must be >= 0"))
	}

	if cfg.Spool.Enabled && strings.TrimSpace(cfg.Spool.Dir) == "" {
		errs = append(errs, fmt.Errorf("spool.dir is required when the spool is enabled"))
	}
	if cfg.Spool.StabilityMs < 0 {
		errs = append(errs, fmt.Errorf("spool.stability_ms must be >= 0"))
	}

	names := make(map[string]bool, len(cfg.Schedules))
	for i, job := range cfg.Schedules {
		if strings.TrimSpace(job.Name) == "" {
			errs = append(errs, fmt.Errorf("schedule %d: name is required", i))
		} else if names[job.Name] {
			errs = append(errs, fmt.Errorf("schedule %d: duplicate name %q", i, job.Name))
		}
		names[job.Name] = true

		if err := job.Schedule.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("schedule %d (%s): %w", i, job.Name, err))
		}
		if _, err := commandqueue.ParseCall(job.Call); err != nil {
			errs = append(errs, fmt.Errorf("schedule %d (%s): %w", i, job.Name, err))
		}
	}

	if err := v.ValidateSampleRatio(cfg.Tracing.SampleRatio); err != nil {
		errs = append(errs, fmt.Errorf("tracing: %w", err))
	}

	return errs
}
