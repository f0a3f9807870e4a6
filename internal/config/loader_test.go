package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/harun/trackq/pkg/commandqueue"
	"github.com/harun/trackq/pkg/cron"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLoader(t *testing.T) {
	loader := NewLoader("/path/to/config.json")
	assert.NotNil(t, loader)
	assert.Equal(t, "/path/to/config.json", loader.GetConfigPath())
}

func TestLoaderLoad(t *testing.T) {
	t.Run("defaults when file doesn't exist", func(t *testing.T) {
		tmpDir := t.TempDir()

		cfg, err := NewLoader(filepath.Join(tmpDir, "nonexistent.json")).Load()

		require.NoError(t, err)
		assert.Equal(t, "go-trackq-0.1.0", cfg.Tracker.Version)
		assert.NotEmpty(t, cfg.DataDir)
		assert.Equal(t, filepath.Join(cfg.DataDir, "trackq.log"), cfg.Logging.File)
		assert.Equal(t, filepath.Join(cfg.DataDir, "spool"), cfg.Spool.Dir)
		assert.Equal(t, filepath.Join(cfg.DataDir, "events.jsonl"), cfg.Tracker.EventsFile)
	})

	t.Run("load config from file", func(t *testing.T) {
		tmpDir := t.TempDir()
		configPath := filepath.Join(tmpDir, "config.json")

		testConfig := `{
			"tracker": {"version": "js-2.0.0"},
			"data_dir": "` + filepath.ToSlash(tmpDir) + `",
			"ingress": {"enabled": true, "port": 9090, "secret": "0123456789abcdef"},
			"schedules": [
				{
					"name": "heartbeat",
					"schedule": {"kind": "every", "everyMs": 60000},
					"call": ["trackStructEvent:main", "system", "heartbeat"]
				}
			]
		}`
		require.NoError(t, os.WriteFile(configPath, []byte(testConfig), 0644))

		cfg, err := NewLoader(configPath).Load()

		require.NoError(t, err)
		assert.Equal(t, "js-2.0.0", cfg.Tracker.Version)
		assert.True(t, cfg.Ingress.Enabled)
		assert.Equal(t, 9090, cfg.Ingress.Port)
		assert.Equal(t, "127.0.0.1", cfg.Ingress.Host, "unset keys keep defaults")
		assert.Equal(t, filepath.ToSlash(tmpDir), cfg.DataDir)

		require.Len(t, cfg.Schedules, 1)
		job := cfg.Schedules[0]
		assert.Equal(t, "heartbeat", job.Name)
		assert.Equal(t, cron.ScheduleKindEvery, job.Schedule.Kind)
		assert.Equal(t, int64(60000), job.Schedule.EveryMs)
		assert.Equal(t, commandqueue.Call{"trackStructEvent:main", "system", "heartbeat"}, job.Call)

		assert.NoError(t, cfg.Validate())
	})

	t.Run("environment overrides file", func(t *testing.T) {
		tmpDir := t.TempDir()
		configPath := filepath.Join(tmpDir, "config.json")
		require.NoError(t, os.WriteFile(configPath, []byte(`{"ingress": {"port": 9090}, "logging": {"level": "info"}}`), 0644))

		t.Setenv("TRACKQ_INGRESS_PORT", "9191")
		t.Setenv("TRACKQ_LOGGING_LEVEL", "debug")

		cfg, err := NewLoader(configPath).Load()

		require.NoError(t, err)
		assert.Equal(t, 9191, cfg.Ingress.Port)
		assert.Equal(t, "debug", cfg.Logging.Level)
	})

	t.Run("invalid JSON", func(t *testing.T) {
		tmpDir := t.TempDir()
		configPath := filepath.Join(tmpDir, "invalid.json")
		require.NoError(t, os.WriteFile(configPath, []byte("invalid json"), 0644))

		_, err := NewLoader(configPath).Load()
		assert.Error(t, err)
	})
}

func TestLoaderSave(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "nested", "trackq.json")

	cfg := DefaultConfig()
	cfg.Tracker.Version = "js-2.1.0"
	cfg.Ingress.Enabled = true
	cfg.DataDir = tmpDir

	loader := NewLoader(configPath)
	require.NoError(t, loader.Save(cfg))
	assert.FileExists(t, configPath)

	loaded, err := loader.Load()
	require.NoError(t, err)
	assert.Equal(t, "js-2.1.0", loaded.Tracker.Version)
	assert.True(t, loaded.Ingress.Enabled)
	assert.Equal(t, tmpDir, loaded.DataDir)
}

func TestLoadConvenience(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.json"))
	require.NoError(t, err)
	assert.NotNil(t, cfg)
}
