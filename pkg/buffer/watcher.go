package buffer

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/harun/trackq/pkg/commandqueue"
	"github.com/rs/zerolog"
)

// CallsCallback receives the calls parsed from one spool file.
type CallsCallback func(path string, calls []commandqueue.Call)

// WatcherConfig holds configuration for the spool watcher
type WatcherConfig struct {
	Dir string
	// StabilityThreshold is how long a file must stay unchanged before it
	// is read. Defaults to 100ms.
	StabilityThreshold time.Duration
	OnCalls            CallsCallback
	Logger             zerolog.Logger
}

const (
	// DoneSuffix is appended to spool files once their calls are handed off.
	DoneSuffix = ".done"
	// FailedSuffix is appended to spool files that could not be parsed.
	FailedSuffix = ".failed"
)

// Watcher loads call buffers dropped into a spool directory. Each file is
// consumed once: it is renamed with DoneSuffix or FailedSuffix after loading,
// so later writes to it are never replayed.
type Watcher struct {
	watcher            *fsnotify.Watcher
	dir                string
	stabilityThreshold time.Duration
	onCalls            CallsCallback
	logger             zerolog.Logger
	done               chan struct{}
	debounceTimers     map[string]*time.Timer
	debounceMu         sync.Mutex
	stopOnce           sync.Once
}

// NewWatcher creates a spool watcher. Call Start to begin watching.
func NewWatcher(config WatcherConfig) (*Watcher, error) {
	if config.Dir == "" {
		return nil, fmt.Errorf("spool directory is required")
	}
	if config.OnCalls == nil {
		return nil, fmt.Errorf("calls callback is required")
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}

	if config.StabilityThreshold == 0 {
		config.StabilityThreshold = 100 * time.Millisecond
	}

	return &Watcher{
		watcher:            watcher,
		dir:                config.Dir,
		stabilityThreshold: config.StabilityThreshold,
		onCalls:            config.OnCalls,
		logger:             config.Logger.With().Str("component", "spool-watcher").Logger(),
		done:               make(chan struct{}),
		debounceTimers:     make(map[string]*time.Timer),
	}, nil
}

// Start watches the spool directory. Files already present are not replayed.
func (w *Watcher) Start() error {
	if err := w.watcher.Add(w.dir); err != nil {
		return fmt.Errorf("failed to watch spool directory: %w", err)
	}

	go w.eventLoop()

	w.logger.Info().Str("path", w.dir).Msg("Spool watcher started")
	return nil
}

// Stop stops the watcher and cancels pending reads.
func (w *Watcher) Stop() error {
	w.stopOnce.Do(func() {
		close(w.done)
	})

	w.debounceMu.Lock()
	for _, timer := range w.debounceTimers {
		timer.Stop()
	}
	clear(w.debounceTimers)
	w.debounceMu.Unlock()

	if err := w.watcher.Close(); err != nil {
		return fmt.Errorf("failed to close watcher: %w", err)
	}

	w.logger.Info().Msg("Spool watcher stopped")
	return nil
}

func (w *Watcher) eventLoop() {
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !isSpoolFile(event.Name) {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			w.debounce(event.Name)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error().Err(err).Msg("Watcher error")

		case <-w.done:
			return
		}
	}
}

// debounce delays loading path until writes to it have settled.
func (w *Watcher) debounce(path string) {
	w.debounceMu.Lock()
	defer w.debounceMu.Unlock()

	if timer, exists := w.debounceTimers[path]; exists {
		timer.Stop()
	}

	w.debounceTimers[path] = time.AfterFunc(w.stabilityThreshold, func() {
		w.debounceMu.Lock()
		delete(w.debounceTimers, path)
		w.debounceMu.Unlock()

		select {
		case <-w.done:
			return
		default:
			w.load(path)
		}
	})
}

func (w *Watcher) load(path string) {
	if _, err := os.Stat(path); err != nil {
		// already consumed, or removed before it settled
		return
	}

	calls, err := LoadFile(path)
	if err != nil {
		w.logger.Error().Err(err).Str("path", path).Msg("Skipping spool file")
		w.consume(path, FailedSuffix)
		return
	}

	w.logger.Debug().
		Str("path", path).
		Int("calls", len(calls)).
		Msg("Loaded spool file")

	w.onCalls(path, calls)
	w.consume(path, DoneSuffix)
}

func (w *Watcher) consume(path, suffix string) {
	if err := os.Rename(path, path+suffix); err != nil {
		w.logger.Error().Err(err).Str("path", path).Msg("Failed to mark spool file")
	}
}

// isSpoolFile accepts visible *.json, *.yaml and *.yml files.
func isSpoolFile(path string) bool {
	base := filepath.Base(path)
	if strings.HasPrefix(base, ".") {
		return false
	}
	return strings.EqualFold(filepath.Ext(base), ".json") || IsYAML(base)
}
