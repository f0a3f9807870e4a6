package cli

import (
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/harun/trackq/internal/daemon"
	"github.com/harun/trackq/pkg/ingress"
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show daemon status",
	Long:  `Show whether a trackq daemon is running and, when ingress is enabled, its health.`,
	Args:  cobra.NoArgs,
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	pidFile := daemon.PIDFilePath(cfg.DataDir)

	if !daemon.IsRunning(pidFile) {
		fmt.Fprintln(out, "Status: stopped")
		return nil
	}

	pid, err := daemon.ReadPID(pidFile)
	if err != nil {
		return fmt.Errorf("failed to read PID file: %w", err)
	}

	fmt.Fprintln(out, "Status: running")
	fmt.Fprintf(out, "PID: %d\n", pid)
	if info, err := os.Stat(pidFile); err == nil {
		fmt.Fprintf(out, "Uptime: %s\n", formatDuration(time.Since(info.ModTime())))
	}

	if cfg.Ingress.Enabled {
		url := "http://" + net.JoinHostPort(cfg.Ingress.Host, strconv.Itoa(cfg.Ingress.Port)) + "/health"
		health, err := fetchHealth(url)
		if err != nil {
			fmt.Fprintf(out, "Ingress: unreachable (%v)\n", err)
		} else {
			fmt.Fprintf(out, "Ingress: %s, %d connections\n", health.Status, health.Connections)
		}
	}

	return nil
}

func fetchHealth(url string) (*ingress.HealthResponse, error) {
	client := &http.Client{Timeout: 2 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	var health ingress.HealthResponse
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		return nil, fmt.Errorf("failed to decode health: %w", err)
	}
	return &health, nil
}

func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second

	if h > 0 {
		return fmt.Sprintf("%dh%dm%ds", h, m, s)
	}
	if m > 0 {
		return fmt.Sprintf("%dm%ds", m, s)
	}
	return fmt.Sprintf("%ds", s)
}
