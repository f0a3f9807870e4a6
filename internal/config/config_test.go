package config

import (
	"testing"

	"github.com/harun/trackq/pkg/commandqueue"
	"github.com/harun/trackq/pkg/cron"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.NotNil(t, cfg)
	assert.Equal(t, "go-trackq-0.1.0", cfg.Tracker.Version)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.True(t, cfg.Logging.Redaction)
	assert.False(t, cfg.Ingress.Enabled)
	assert.Equal(t, 8787, cfg.Ingress.Port)
	assert.Equal(t, 120, cfg.Ingress.RateLimit)
	assert.Equal(t, 300, cfg.Ingress.DedupTTL)
	assert.True(t, cfg.Ingress.WebSocket)
	assert.False(t, cfg.Spool.Enabled)
	assert.Empty(t, cfg.Schedules)
	assert.Equal(t, 1.0, cfg.Tracing.SampleRatio)

	assert.NoError(t, cfg.Validate())
}

func TestConfigValidate(t *testing.T) {
	t.Run("missing tracker version", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Tracker.Version = " "

		err := cfg.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "tracker.version")
	})

	t.Run("errors are joined", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Logging.Level = "verbose"
		cfg.Ingress.Enabled = true
		cfg.Ingress.Port = 0

		err := cfg.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid log level")
		assert.Contains(t, err.Error(), "port must be between")
	})

	t.Run("valid schedules", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Schedules = []cron.JobSpec{{
			Name:     "heartbeat",
			Schedule: cron.Schedule{Kind: cron.ScheduleKindEvery, EveryMs: 60000},
			Call:     commandqueue.Call{"trackStructEvent", "system", "heartbeat"},
		}}

		assert.NoError(t, cfg.Validate())
	})
}

func TestConfigString(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Ingress.Secret = "super-secret-signing-key"

	out := cfg.String()
	assert.NotContains(t, out, "super-secret-signing-key")
	assert.Contains(t, out, "[REDACTED]")
	assert.Equal(t, "super-secret-signing-key", cfg.Ingress.Secret, "original is untouched")
}
