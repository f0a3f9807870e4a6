package cli

import (
	"fmt"

	"github.com/harun/trackq/internal/daemon"
	"github.com/harun/trackq/internal/logger"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the proxy with every configured source",
	Long: `Run the proxy in the foreground. The pending buffer is replayed first, then
the spool watcher, schedules and ingress server start as configured.
SIGINT or SIGTERM stops everything gracefully.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	log, err := logger.New(loggerConfig(cfg))
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer log.Close()

	d, err := daemon.New(cfg, log)
	if err != nil {
		return err
	}

	if err := d.Start(); err != nil {
		_ = d.Stop()
		return err
	}

	d.Wait()
	return nil
}
