package logger

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	t.Run("console output", func(t *testing.T) {
		var buf bytes.Buffer
		logger, err := New(Config{Level: "info", Output: &buf})
		require.NoError(t, err)
		defer logger.Close()

		zlog := logger.GetZerolog()
		zlog.Info().Str("namespace", "main").Msg("Tracker created")
		zlog = logger.GetZerolog()
		zlog.Debug().Msg("filtered")

		var entry map[string]interface{}
		require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
		assert.Equal(t, "Tracker created", entry["message"])
		assert.Equal(t, "main", entry["namespace"])
		assert.Contains(t, entry, "time")
	})

	t.Run("file output", func(t *testing.T) {
		logFile := filepath.Join(t.TempDir(), "logs", "trackq.log")

		logger, err := New(Config{Level: "debug", File: logFile})
		require.NoError(t, err)

		zlog := logger.GetZerolog()
		zlog.Info().Msg("test message")
		require.NoError(t, logger.Close())

		content, err := os.ReadFile(logFile)
		require.NoError(t, err)
		assert.Contains(t, string(content), "test message")
	})

	t.Run("rotating file when size limit set", func(t *testing.T) {
		logFile := filepath.Join(t.TempDir(), "trackq.log")

		logger, err := New(Config{Level: "info", File: logFile, MaxSize: 1})
		require.NoError(t, err)
		defer logger.Close()

		assert.IsType(t, &RotatingWriter{}, logger.file)
	})

	t.Run("redaction", func(t *testing.T) {
		var buf bytes.Buffer
		logger, err := New(Config{Level: "info", Output: &buf, Redaction: true})
		require.NoError(t, err)
		defer logger.Close()

		zlog := logger.GetZerolog()
		zlog.Info().Str("user_id", "carol@example.com").Msg("setUserId")

		assert.NotNil(t, logger.Redactor())
		assert.NotContains(t, buf.String(), "carol@example.com")
		assert.Contains(t, buf.String(), "[REDACTED]")
	})

	t.Run("invalid level falls back to info", func(t *testing.T) {
		logger, err := New(Config{Level: "loud", Output: &bytes.Buffer{}})
		require.NoError(t, err)
		defer logger.Close()

		assert.Equal(t, zerolog.InfoLevel, logger.GetZerolog().GetLevel())
	})

	t.Run("installs global logger", func(t *testing.T) {
		var buf bytes.Buffer
		logger, err := New(Config{Level: "warn", Output: &buf})
		require.NoError(t, err)
		defer logger.Close()

		log.Warn().Msg("via global")
		assert.Contains(t, buf.String(), "via global")
	})
}

func TestComponent(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(Config{Level: "info", Output: &buf})
	require.NoError(t, err)
	defer logger.Close()

	zlog := logger.Component("ingress")
	zlog.Info().Msg("listening")

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "ingress", entry["component"])
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "info", cfg.Level)
	assert.True(t, cfg.Console)
	assert.True(t, cfg.Pretty)
	assert.True(t, cfg.Redaction)
	assert.Equal(t, 100, cfg.MaxSize)
	assert.Equal(t, 7, cfg.MaxAge)
	assert.True(t, cfg.Compress)
}
