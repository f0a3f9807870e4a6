package daemon

import (
	"context"
	"time"
)

// EventLoop runs periodic maintenance while the daemon is up.
type EventLoop struct {
	daemon   *Daemon
	interval time.Duration
}

// NewEventLoop creates a new event loop
func NewEventLoop(d *Daemon) *EventLoop {
	return &EventLoop{
		daemon:   d,
		interval: 30 * time.Second,
	}
}

// Run ticks until ctx is cancelled.
func (e *EventLoop) Run(ctx context.Context) {
	logger := e.daemon.logger.GetZerolog()
	logger.Info().Msg("Event loop started")

	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("Event loop stopping")
			return

		case <-ticker.C:
			e.processTasks(ctx)
		}
	}
}

// processTasks logs proxy and scheduler state for monitoring.
func (e *EventLoop) processTasks(_ context.Context) {
	logger := e.daemon.logger.GetZerolog()
	proxy := e.daemon.proxy

	logger.Debug().
		Strs("trackers", proxy.Namespaces()).
		Int("pending", proxy.Pending()).
		Msg("Proxy stats")

	if e.daemon.cronService == nil {
		return
	}

	for _, job := range e.daemon.cronService.ListJobs() {
		entry := logger.Debug().
			Str("job", job.Spec.Name).
			Int("runs", job.State.Runs)
		if job.State.NextRunAtMs != nil {
			entry = entry.Time("next_run", time.UnixMilli(*job.State.NextRunAtMs))
		}
		entry.Msg("Job stats")
	}
}

// HandleShutdown waits briefly for in-flight dispatch to drain.
func (e *EventLoop) HandleShutdown() {
	deadline := time.Now().Add(5 * time.Second)
	for e.daemon.proxy.Pending() > 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}

	if pending := e.daemon.proxy.Pending(); pending > 0 {
		zlog := e.daemon.logger.GetZerolog()
		zlog.Warn().Int("pending", pending).Msg("Calls still queued at shutdown")
	}
}
