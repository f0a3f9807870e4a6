package daemon

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLifecycleManager(t *testing.T) {
	d := createTestDaemon(t, nil)
	defer d.release()

	lm := NewLifecycleManager(d)
	assert.Equal(t, d, lm.daemon)
	assert.Equal(t, filepath.Join(d.GetConfig().DataDir, "trackq.pid"), lm.pidFile)
}

func TestLifecycleManagerStartStop(t *testing.T) {
	d := createTestDaemon(t, nil)
	defer d.release()

	lm := NewLifecycleManager(d)

	require.NoError(t, lm.Start())
	assert.FileExists(t, lm.pidFile)

	pid, err := lm.GetPID()
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), pid)
	assert.True(t, lm.IsRunning())

	require.NoError(t, lm.Stop())
	assert.NoFileExists(t, lm.pidFile)
	assert.False(t, lm.IsRunning())

	assert.NoError(t, lm.Stop(), "removing a missing PID file is fine")
}

func TestLifecycleManagerRefusesLiveOwner(t *testing.T) {
	d := createTestDaemon(t, nil)
	defer d.release()

	lm := NewLifecycleManager(d)
	require.NoError(t, os.WriteFile(lm.pidFile, []byte(strconv.Itoa(os.Getppid())), 0644))

	err := lm.Start()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already running")
}

func TestLifecycleManagerReplacesStalePID(t *testing.T) {
	d := createTestDaemon(t, nil)
	defer d.release()

	lm := NewLifecycleManager(d)
	require.NoError(t, os.WriteFile(lm.pidFile, []byte("not-a-pid"), 0644))

	require.NoError(t, lm.Start())
	pid, err := ReadPID(lm.pidFile)
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), pid)
}

func TestReadPID(t *testing.T) {
	dir := t.TempDir()

	_, err := ReadPID(filepath.Join(dir, "missing.pid"))
	assert.Error(t, err)

	path := filepath.Join(dir, "trackq.pid")
	require.NoError(t, os.WriteFile(path, []byte("1234\n"), 0644))
	pid, err := ReadPID(path)
	require.NoError(t, err)
	assert.Equal(t, 1234, pid)

	require.NoError(t, os.WriteFile(path, []byte("invalid"), 0644))
	_, err = ReadPID(path)
	assert.Error(t, err)
	assert.False(t, IsRunning(path))
}
