package cli

import (
	"bytes"
	"strings"
	"testing"

	"github.com/harun/trackq/internal/config"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// execute runs the root command with fresh flag state.
func execute(t *testing.T, stdin string, args ...string) (string, string, error) {
	t.Helper()

	cfgFile, logLevel = "", ""
	replayBuffer, replayStdin = "", false
	replayVersion = config.DefaultConfig().Tracker.Version
	initForce = false

	cmd := GetRootCmd()
	resetBoolFlags(cmd, "help", "version")
	for _, sub := range cmd.Commands() {
		resetBoolFlags(sub, "help")
	}

	stdout, stderr := &bytes.Buffer{}, &bytes.Buffer{}
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)

	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func resetBoolFlags(cmd *cobra.Command, names ...string) {
	for _, name := range names {
		if f := cmd.Flags().Lookup(name); f != nil {
			_ = f.Value.Set("false")
			f.Changed = false
		}
	}
}

func TestRootCommand(t *testing.T) {
	t.Run("version flag", func(t *testing.T) {
		out, _, err := execute(t, "", "--version")
		require.NoError(t, err)

		assert.Contains(t, out, "trackq version")
		assert.Contains(t, out, GetVersion())
	})

	t.Run("help flag", func(t *testing.T) {
		out, _, err := execute(t, "", "--help")
		require.NoError(t, err)

		assert.Contains(t, out, "trackq")
		assert.Contains(t, out, "replay")
		assert.Contains(t, out, "serve")
		assert.Contains(t, out, "validate")
	})

	t.Run("global flags", func(t *testing.T) {
		cmd := GetRootCmd()

		configFlag := cmd.PersistentFlags().Lookup("config")
		require.NotNil(t, configFlag)
		assert.Equal(t, "", configFlag.DefValue)

		logLevelFlag := cmd.PersistentFlags().Lookup("log-level")
		require.NotNil(t, logLevelFlag)
		assert.Equal(t, "", logLevelFlag.DefValue)
	})

	t.Run("subcommands", func(t *testing.T) {
		names := make(map[string]bool)
		for _, c := range GetRootCmd().Commands() {
			names[c.Name()] = true
		}
		for _, want := range []string{"replay", "serve", "validate", "init", "status"} {
			assert.True(t, names[want], "%s command should exist", want)
		}
	})
}

func TestGetVersion(t *testing.T) {
	version := GetVersion()
	assert.NotEmpty(t, version)
	assert.True(t, strings.HasPrefix(version, "0."))
}

func TestLoadConfigLogLevelOverride(t *testing.T) {
	cfgFile = t.TempDir() + "/missing.json"
	logLevel = "debug"
	defer func() { cfgFile, logLevel = "", "" }()

	cfg, err := loadConfig()
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Logging.Level)

	lc := loggerConfig(cfg)
	assert.Equal(t, "debug", lc.Level)
	assert.Equal(t, cfg.Logging.File, lc.File)
}
