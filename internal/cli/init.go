package cli

import (
	"fmt"
	"os"

	"github.com/harun/trackq/internal/config"
	"github.com/spf13/cobra"
)

var initForce bool

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default configuration file",
	Long: `Write a configuration file with default values to the --config path.
Edit it to enable the ingress server, the spool directory or schedules.`,
	Args: cobra.NoArgs,
	RunE: runInit,
}

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "overwrite an existing config file")
	rootCmd.AddCommand(initCmd)
}

func runInit(cmd *cobra.Command, args []string) error {
	loader := config.NewLoader(cfgFile)
	configPath := loader.GetConfigPath()

	if _, err := os.Stat(configPath); err == nil && !initForce {
		return fmt.Errorf("config already exists at %s (use --force to overwrite)", configPath)
	}

	cfg := config.DefaultConfig()
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if err := loader.Save(cfg); err != nil {
		return fmt.Errorf("failed to save configuration: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Configuration saved to: %s\n", configPath)
	fmt.Fprintln(cmd.OutOrStdout(), "Start trackq with: trackq serve")

	return nil
}
