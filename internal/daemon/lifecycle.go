package daemon

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"
)

// PIDFileName is the name of the PID file inside the data directory.
const PIDFileName = "trackq.pid"

// LifecycleManager owns the PID file of a running daemon.
type LifecycleManager struct {
	daemon  *Daemon
	pidFile string
}

// NewLifecycleManager creates a new lifecycle manager
func NewLifecycleManager(d *Daemon) *LifecycleManager {
	return &LifecycleManager{
		daemon:  d,
		pidFile: PIDFilePath(d.config.DataDir),
	}
}

// Start writes the PID file. It fails if another live daemon owns it.
func (l *LifecycleManager) Start() error {
	if err := os.MkdirAll(l.daemon.config.DataDir, 0755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	if pid, err := ReadPID(l.pidFile); err == nil && pid != os.Getpid() && processAlive(pid) {
		return fmt.Errorf("daemon already running with PID %d", pid)
	}

	if err := os.WriteFile(l.pidFile, []byte(strconv.Itoa(os.Getpid())), 0644); err != nil {
		return fmt.Errorf("failed to write PID file: %w", err)
	}

	zlog := l.daemon.logger.GetZerolog()
	zlog.Info().
		Str("pid_file", l.pidFile).
		Int("pid", os.Getpid()).
		Msg("Lifecycle manager started")

	return nil
}

// Stop removes the PID file
func (l *LifecycleManager) Stop() error {
	if err := os.Remove(l.pidFile); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove PID file: %w", err)
	}
	return nil
}

// GetUptime returns the daemon uptime
func (l *LifecycleManager) GetUptime() time.Duration {
	return l.daemon.Status().Uptime
}

// GetPID returns the PID recorded in the PID file
func (l *LifecycleManager) GetPID() (int, error) {
	return ReadPID(l.pidFile)
}

// IsRunning reports whether the recorded process is alive.
func (l *LifecycleManager) IsRunning() bool {
	return IsRunning(l.pidFile)
}

// PIDFilePath returns the PID file location for dataDir.
func PIDFilePath(dataDir string) string {
	return filepath.Join(dataDir, PIDFileName)
}

// ReadPID reads the PID stored in pidFile.
func ReadPID(pidFile string) (int, error) {
	data, err := os.ReadFile(pidFile)
	if err != nil {
		return 0, err
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("invalid PID file: %w", err)
	}

	return pid, nil
}

// IsRunning reports whether pidFile names a live process.
func IsRunning(pidFile string) bool {
	pid, err := ReadPID(pidFile)
	if err != nil {
		return false
	}
	return processAlive(pid)
}

func processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}

	// FindProcess always succeeds on Unix; signal 0 checks for existence.
	return process.Signal(syscall.Signal(0)) == nil
}
