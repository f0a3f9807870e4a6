package daemon

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/harun/trackq/internal/config"
	"github.com/harun/trackq/internal/logger"
	"github.com/harun/trackq/internal/metrics"
	"github.com/harun/trackq/internal/observability"
	"github.com/harun/trackq/internal/tracing"
	"github.com/harun/trackq/pkg/buffer"
	"github.com/harun/trackq/pkg/commandqueue"
	"github.com/harun/trackq/pkg/cron"
	"github.com/harun/trackq/pkg/ingress"
	"github.com/harun/trackq/pkg/logtracker"
)

// Daemon runs one proxy and every source that feeds it: the pending buffer,
// the spool directory, scheduled jobs and the network ingress.
type Daemon struct {
	config *config.Config
	logger *logger.Logger

	metrics  *metrics.Metrics
	audit    *observability.AuditLogger
	events   io.WriteCloser
	recorder logtracker.Recorder
	proxy    *commandqueue.Proxy

	watcher       *buffer.Watcher
	cronService   *cron.Service
	ingressServer *ingress.Server

	eventLoop *EventLoop
	lifecycle *LifecycleManager

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	startTime time.Time
	running   bool
	mu        sync.RWMutex

	tracingEnabled bool
}

// Status describes whether the daemon is running and for how long.
type Status struct {
	Running   bool
	Uptime    time.Duration
	StartTime time.Time
	Trackers  []string
	Jobs      int
}

// New builds the daemon. The pending buffer, if configured, is replayed into
// the proxy here, before any other source is started.
func New(cfg *config.Config, log *logger.Logger) (*Daemon, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if log == nil {
		return nil, fmt.Errorf("logger is required")
	}

	ctx, cancel := context.WithCancel(context.Background())

	d := &Daemon{
		config:  cfg,
		logger:  log,
		metrics: metrics.NewMetrics(),
		ctx:     ctx,
		cancel:  cancel,
	}

	if cfg.Tracing.Enabled {
		if err := tracing.InitOpenTelemetry(tracing.Config{
			ServiceName:    cfg.Tracing.ServiceName,
			ServiceVersion: cfg.Tracker.Version,
			SampleRatio:    cfg.Tracing.SampleRatio,
		}); err != nil {
			zlog := log.GetZerolog()
			zlog.Warn().Err(err).Msg("Failed to initialize tracing, continuing without distributed tracing")
		} else {
			d.tracingEnabled = true
		}
	}

	if err := d.initializeCore(); err != nil {
		d.release()
		return nil, fmt.Errorf("failed to initialize core modules: %w", err)
	}

	if err := d.initializeSources(); err != nil {
		d.release()
		return nil, fmt.Errorf("failed to initialize sources: %w", err)
	}

	d.eventLoop = NewEventLoop(d)
	d.lifecycle = NewLifecycleManager(d)

	return d, nil
}

// initializeCore opens the audit and event files and creates the proxy.
func (d *Daemon) initializeCore() error {
	zl := d.logger.GetZerolog()

	if err := os.MkdirAll(d.config.DataDir, 0755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	auditPath := filepath.Join(d.config.DataDir, "audit.log")
	audit, err := observability.NewAuditLogger(auditPath)
	if err != nil {
		zl.Warn().Err(err).Msg("Failed to initialize audit logger, audit disabled")
	} else {
		d.audit = audit
		zl.Info().Str("path", auditPath).Msg("Audit logger initialized")
	}

	eventsFile := d.config.Tracker.EventsFile
	if eventsFile == "" {
		eventsFile = filepath.Join(d.config.DataDir, "events.jsonl")
	}
	maxSize := d.config.Logging.MaxSize
	if maxSize <= 0 {
		maxSize = 100
	}
	events, err := logger.NewRotatingWriter(eventsFile, maxSize, d.config.Logging.MaxAge, d.config.Logging.Compress)
	if err != nil {
		return fmt.Errorf("failed to open events file: %w", err)
	}
	d.events = events
	d.recorder = logtracker.NewWriterRecorder(events, d.logger.Component("recorder"))

	var pending []commandqueue.Call
	if d.config.PendingBuffer != "" {
		pending, err = buffer.LoadFile(d.config.PendingBuffer)
		if err != nil {
			return err
		}
		zl.Info().
			Str("path", d.config.PendingBuffer).
			Int("calls", len(pending)).
			Msg("Replaying pending buffer")
	}

	proxy, err := commandqueue.New(commandqueue.Options{
		Version: d.config.Tracker.Version,
		State:   logtracker.NewState(),
		Factory: logtracker.Factory{
			Logger:   d.logger.Component("logtracker"),
			Recorder: d.recorder,
		},
		Logger:  zl,
		Metrics: d.metrics,
		OnEvent: d.audit.RecordProxyEvent,
	}, pending...)
	if err != nil {
		return fmt.Errorf("failed to create proxy: %w", err)
	}
	d.proxy = proxy

	zl.Info().
		Str("version", d.config.Tracker.Version).
		Strs("trackers", proxy.Namespaces()).
		Msg("Command queue proxy initialized")

	return nil
}

// initializeSources creates the spool watcher, the scheduler and the
// ingress server for whichever of them the config enables.
func (d *Daemon) initializeSources() error {
	zl := d.logger.GetZerolog()

	if d.config.Spool.Enabled {
		if err := os.MkdirAll(d.config.Spool.Dir, 0755); err != nil {
			return fmt.Errorf("failed to create spool directory: %w", err)
		}

		watcher, err := buffer.NewWatcher(buffer.WatcherConfig{
			Dir:                d.config.Spool.Dir,
			StabilityThreshold: time.Duration(d.config.Spool.StabilityMs) * time.Millisecond,
			OnCalls:            d.pushSpool,
			Logger:             zl,
		})
		if err != nil {
			return fmt.Errorf("failed to create spool watcher: %w", err)
		}
		d.watcher = watcher
	}

	if len(d.config.Schedules) > 0 {
		service, err := cron.NewService(cron.ServiceOptions{
			Pusher:  d.proxy,
			Logger:  zl,
			Metrics: d.metrics,
			OnEvent: d.audit.RecordScheduleEvent,
		})
		if err != nil {
			return fmt.Errorf("failed to create cron service: %w", err)
		}
		d.cronService = service
	}

	if d.config.Ingress.Enabled {
		ic := d.config.Ingress
		server, err := ingress.NewServer(ingress.ServerOptions{
			Host:            ic.Host,
			Port:            ic.Port,
			Secret:          ic.Secret,
			RateLimit:       ic.RateLimit,
			RateWindow:      time.Duration(ic.RateWindow) * time.Second,
			DedupTTL:        time.Duration(ic.DedupTTL) * time.Second,
			MaxBodyBytes:    ic.MaxBodyBytes,
			ShutdownTimeout: time.Duration(ic.ShutdownTimeout) * time.Second,
			WebSocket:       ic.WebSocket,
			Pusher:          d.proxy,
			Logger:          zl,
			Metrics:         d.metrics,
		})
		if err != nil {
			return fmt.Errorf("failed to create ingress server: %w", err)
		}
		d.ingressServer = server
	}

	return nil
}

func (d *Daemon) pushSpool(path string, calls []commandqueue.Call) {
	ctx := tracing.WithRequestID(tracing.NewPushContext(d.ctx, "spool"), filepath.Base(path))
	d.proxy.PushContext(ctx, calls...)
}

// Start starts every configured source.
func (d *Daemon) Start() error {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return fmt.Errorf("daemon is already running")
	}
	d.running = true
	d.startTime = time.Now()
	d.mu.Unlock()

	logger := d.logger.GetZerolog().With().Str("trace_id", tracing.NewTraceID()).Logger()
	logger.Info().Msg("Starting trackq daemon")

	if err := d.lifecycle.Start(); err != nil {
		return fmt.Errorf("failed to start lifecycle manager: %w", err)
	}

	if d.watcher != nil {
		if err := d.watcher.Start(); err != nil {
			return fmt.Errorf("failed to start spool watcher: %w", err)
		}
		logger.Info().Str("dir", d.config.Spool.Dir).Msg("Spool watcher started")
	}

	if d.cronService != nil {
		for _, spec := range d.config.Schedules {
			job, err := d.cronService.AddJob(spec)
			if err != nil {
				return fmt.Errorf("failed to schedule %q: %w", spec.Name, err)
			}
			logger.Info().Str("job", job.Spec.Name).Str("id", job.ID).Msg("Job scheduled")
		}
	}

	if d.ingressServer != nil {
		if err := d.ingressServer.Start(); err != nil {
			return fmt.Errorf("failed to start ingress server: %w", err)
		}
		logger.Info().Str("addr", d.ingressServer.Addr()).Msg("Ingress server started")
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.eventLoop.Run(d.ctx)
	}()

	logger.Info().Msg("Daemon started")

	return nil
}

// Stop stops the sources, then releases files and tracing.
func (d *Daemon) Stop() error {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return fmt.Errorf("daemon is not running")
	}
	d.running = false
	d.mu.Unlock()

	logger := d.logger.GetZerolog().With().Str("trace_id", tracing.NewTraceID()).Logger()
	logger.Info().Msg("Stopping trackq daemon")

	if d.ingressServer != nil {
		if err := d.ingressServer.Stop(); err != nil {
			logger.Error().Err(err).Msg("Failed to stop ingress server")
		}
	}

	if d.watcher != nil {
		if err := d.watcher.Stop(); err != nil {
			logger.Error().Err(err).Msg("Failed to stop spool watcher")
		}
	}

	if d.cronService != nil {
		d.cronService.Stop()
	}

	d.cancel()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		logger.Warn().Msg("Timeout waiting for goroutines to stop")
	}

	d.eventLoop.HandleShutdown()

	if err := d.lifecycle.Stop(); err != nil {
		logger.Error().Err(err).Msg("Failed to stop lifecycle manager")
	}

	d.release()

	logger.Info().Msg("Daemon stopped")

	return nil
}

// release closes files and flushes tracing. Safe to call more than once.
func (d *Daemon) release() {
	d.cancel()

	if d.tracingEnabled {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := tracing.ShutdownOpenTelemetry(ctx); err != nil {
			zlog := d.logger.GetZerolog()
			zlog.Error().Err(err).Msg("Failed to shutdown tracing")
		}
		cancel()
		d.tracingEnabled = false
	}

	if d.events != nil {
		if err := d.events.Close(); err != nil {
			zlog := d.logger.GetZerolog()
			zlog.Error().Err(err).Msg("Failed to close events file")
		}
		d.events = nil
	}

	if err := d.audit.Close(); err != nil {
		zlog := d.logger.GetZerolog()
		zlog.Error().Err(err).Msg("Failed to close audit logger")
	}
}

// Status returns the daemon status
func (d *Daemon) Status() Status {
	d.mu.RLock()
	defer d.mu.RUnlock()

	status := Status{
		Running:  d.running,
		Trackers: d.proxy.Namespaces(),
	}

	if d.cronService != nil {
		status.Jobs = len(d.cronService.ListJobs())
	}

	if d.running {
		status.Uptime = time.Since(d.startTime)
		status.StartTime = d.startTime
	}

	return status
}

// Wait blocks until SIGINT or SIGTERM, then stops the daemon.
func (d *Daemon) Wait() {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	sig := <-sigChan
	zlog := d.logger.GetZerolog()
	zlog.Info().Str("signal", sig.String()).Msg("Received signal")

	if err := d.Stop(); err != nil {
		zlog := d.logger.GetZerolog()
		zlog.Error().Err(err).Msg("Failed to stop daemon")
	}
}

// GetConfig returns the daemon configuration
func (d *Daemon) GetConfig() *config.Config {
	return d.config
}

// GetLogger returns the daemon logger
func (d *Daemon) GetLogger() *logger.Logger {
	return d.logger
}

// GetProxy returns the command queue proxy
func (d *Daemon) GetProxy() *commandqueue.Proxy {
	return d.proxy
}

// GetMetrics returns the daemon's metrics
func (d *Daemon) GetMetrics() *metrics.Metrics {
	return d.metrics
}

// GetIngressServer returns the ingress server, or nil when disabled
func (d *Daemon) GetIngressServer() *ingress.Server {
	return d.ingressServer
}

// GetCronService returns the scheduler, or nil when no jobs are configured
func (d *Daemon) GetCronService() *cron.Service {
	return d.cronService
}
