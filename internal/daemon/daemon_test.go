package daemon

import (
	"bytes"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/harun/trackq/internal/config"
	"github.com/harun/trackq/internal/logger"
	"github.com/harun/trackq/pkg/commandqueue"
	"github.com/harun/trackq/pkg/cron"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()

	cfg := config.DefaultConfig()
	cfg.DataDir = t.TempDir()
	cfg.Tracker.EventsFile = filepath.Join(cfg.DataDir, "events.jsonl")
	cfg.Spool.Dir = filepath.Join(cfg.DataDir, "spool")
	return cfg
}

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()

	log, err := logger.New(logger.Config{Level: "debug", Output: io.Discard})
	require.NoError(t, err)
	t.Cleanup(func() { log.Close() })
	return log
}

func createTestDaemon(t *testing.T, mutate func(*config.Config)) *Daemon {
	t.Helper()

	cfg := testConfig(t)
	if mutate != nil {
		mutate(cfg)
	}

	d, err := New(cfg, testLogger(t))
	require.NoError(t, err)
	return d
}

func TestNew(t *testing.T) {
	d := createTestDaemon(t, nil)
	defer d.release()

	assert.NotNil(t, d.GetProxy())
	assert.NotNil(t, d.GetMetrics())
	assert.NotNil(t, d.eventLoop)
	assert.NotNil(t, d.lifecycle)
	assert.Nil(t, d.GetIngressServer(), "ingress is off by default")
	assert.Nil(t, d.GetCronService(), "no schedules configured")
	assert.Nil(t, d.watcher)
	assert.Equal(t, "go-trackq-0.1.0", d.GetProxy().Version())
}

func TestNewRequiresConfigAndLogger(t *testing.T) {
	_, err := New(nil, testLogger(t))
	assert.Error(t, err)

	_, err = New(testConfig(t), nil)
	assert.Error(t, err)
}

func TestNewReplaysPendingBuffer(t *testing.T) {
	cfg := testConfig(t)
	cfg.PendingBuffer = filepath.Join(cfg.DataDir, "pending.json")
	require.NoError(t, os.WriteFile(cfg.PendingBuffer, []byte(`[
		["newTracker","main"],
		["trackPageView:main","Home"]
	]`), 0644))

	d, err := New(cfg, testLogger(t))
	require.NoError(t, err)

	assert.Equal(t, []string{"main"}, d.GetProxy().Namespaces())

	d.release()

	events, err := os.ReadFile(cfg.Tracker.EventsFile)
	require.NoError(t, err)
	assert.Contains(t, string(events), `"kind":"page_view"`)

	audit, err := os.ReadFile(filepath.Join(cfg.DataDir, "audit.log"))
	require.NoError(t, err)
	assert.Contains(t, string(audit), `"action":"tracker_created"`)
}

func TestNewInvalidPendingBuffer(t *testing.T) {
	cfg := testConfig(t)
	cfg.PendingBuffer = filepath.Join(cfg.DataDir, "pending.json")
	require.NoError(t, os.WriteFile(cfg.PendingBuffer, []byte(`{"not":"calls"}`), 0644))

	_, err := New(cfg, testLogger(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pending.json")
}

func TestDaemonStartStop(t *testing.T) {
	d := createTestDaemon(t, nil)

	require.NoError(t, d.Start())
	assert.True(t, d.Status().Running)
	assert.FileExists(t, PIDFilePath(d.GetConfig().DataDir))

	assert.Error(t, d.Start(), "second start fails")

	require.NoError(t, d.Stop())
	assert.False(t, d.Status().Running)
	assert.NoFileExists(t, PIDFilePath(d.GetConfig().DataDir))

	assert.Error(t, d.Stop(), "second stop fails")
}

func TestDaemonStatus(t *testing.T) {
	d := createTestDaemon(t, nil)
	defer d.release()

	status := d.Status()
	assert.False(t, status.Running)
	assert.Equal(t, time.Duration(0), status.Uptime)

	require.NoError(t, d.Start())
	defer d.Stop()

	time.Sleep(20 * time.Millisecond)
	status = d.Status()
	assert.True(t, status.Running)
	assert.Greater(t, status.Uptime, time.Duration(0))
}

func TestDaemonIngress(t *testing.T) {
	d := createTestDaemon(t, func(cfg *config.Config) {
		cfg.Ingress.Enabled = true
		cfg.Ingress.Port = 0
	})

	require.NoError(t, d.Start())
	defer d.Stop()

	addr := d.GetIngressServer().Addr()
	require.NotEmpty(t, addr)

	resp, err := http.Post("http://"+addr+"/push", "application/json",
		bytes.NewBufferString(`[["newTracker","web"],["trackPageView:web","Home"]]`))
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, []string{"web"}, d.GetProxy().Namespaces())
	assert.Equal(t, 1.0, testutil.ToFloat64(d.GetMetrics().IngressRequestsTotal.WithLabelValues("http", "accepted")))
}

func TestDaemonSpool(t *testing.T) {
	d := createTestDaemon(t, func(cfg *config.Config) {
		cfg.Spool.Enabled = true
		cfg.Spool.StabilityMs = 20
	})

	require.NoError(t, d.Start())
	defer d.Stop()

	spoolFile := filepath.Join(d.GetConfig().Spool.Dir, "batch.json")
	require.NoError(t, os.WriteFile(spoolFile, []byte(`[["newTracker","spooled"]]`), 0644))

	assert.Eventually(t, func() bool {
		_, ok := d.GetProxy().Tracker("spooled")
		return ok
	}, 2*time.Second, 20*time.Millisecond)
}

func TestDaemonSchedules(t *testing.T) {
	d := createTestDaemon(t, func(cfg *config.Config) {
		cfg.Schedules = []cron.JobSpec{{
			Name:     "heartbeat",
			Schedule: cron.Schedule{Kind: cron.ScheduleKindEvery, EveryMs: 20},
			Call:     commandqueue.Call{"trackStructEvent", "system", "heartbeat"},
		}}
	})

	require.NoError(t, d.Start())
	defer d.Stop()

	assert.Equal(t, 1, d.Status().Jobs)
	assert.Eventually(t, func() bool {
		return testutil.ToFloat64(d.GetMetrics().ScheduledPushesTotal.WithLabelValues("heartbeat")) >= 2
	}, 2*time.Second, 10*time.Millisecond)
}
