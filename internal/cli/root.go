package cli

import (
	"fmt"

	"github.com/harun/trackq/internal/config"
	"github.com/harun/trackq/internal/logger"
	"github.com/spf13/cobra"
)

const version = "0.1.0"

var (
	cfgFile  string
	logLevel string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "trackq",
	Short: "trackq - command queue proxy for analytics trackers",
	Long: `trackq buffers tracker calls made before a tracker is ready, replays them
in order once it is, and fans later calls out to every named tracker.
Calls arrive from buffer files, a spool directory, schedules, or HTTP and
WebSocket ingress.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: false,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.trackq/trackq.json)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error); overrides the config file")

	rootCmd.SetVersionTemplate(`{{with .Name}}{{printf "%s " .}}{{end}}{{printf "version %s" .Version}}
`)
}

// GetRootCmd returns the root command for testing
func GetRootCmd() *cobra.Command {
	return rootCmd
}

// GetVersion returns the current version
func GetVersion() string {
	return version
}

// loadConfig loads the config named by --config and applies --log-level.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	return cfg, nil
}

func loggerConfig(cfg *config.Config) logger.Config {
	return logger.Config{
		Level:     cfg.Logging.Level,
		File:      cfg.Logging.File,
		Console:   cfg.Logging.Console,
		Pretty:    true,
		Redaction: cfg.Logging.Redaction,
		MaxSize:   cfg.Logging.MaxSize,
		MaxAge:    cfg.Logging.MaxAge,
		Compress:  cfg.Logging.Compress,
	}
}
