package cli

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/harun/trackq/internal/config"
	"github.com/harun/trackq/internal/logger"
	"github.com/harun/trackq/pkg/buffer"
	"github.com/harun/trackq/pkg/commandqueue"
	"github.com/harun/trackq/pkg/logtracker"
	"github.com/spf13/cobra"
)

var (
	replayBuffer  string
	replayStdin   bool
	replayVersion string
)

var replayCmd = &cobra.Command{
	Use:   "replay",
	Short: "Replay a call buffer through a fresh proxy",
	Long: `Replay a JSON call buffer through a fresh proxy, as a page would when the
tracker finishes loading. Tracked records are written to stdout as JSON
lines; logs and a summary go to stderr.`,
	Args: cobra.NoArgs,
	RunE: runReplay,
}

func init() {
	replayCmd.Flags().StringVarP(&replayBuffer, "buffer", "b", "", "call buffer file")
	replayCmd.Flags().BoolVar(&replayStdin, "stdin", false, "read the call buffer from stdin")
	replayCmd.Flags().StringVar(&replayVersion, "tracker-version", config.DefaultConfig().Tracker.Version, "version handed to every tracker")
	rootCmd.AddCommand(replayCmd)
}

// replayStats counts proxy events by type.
type replayStats struct {
	mu     sync.Mutex
	counts map[string]int
}

func (s *replayStats) observe(event commandqueue.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counts[event.Type]++
}

func (s *replayStats) get(eventType string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counts[eventType]
}

func runReplay(cmd *cobra.Command, args []string) error {
	calls, err := readReplayCalls(cmd)
	if err != nil {
		return err
	}

	level := logLevel
	if level == "" {
		level = "warn"
	}
	log, err := logger.New(logger.Config{
		Level:     level,
		Pretty:    true,
		Redaction: true,
		Output:    cmd.ErrOrStderr(),
	})
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer log.Close()

	stats := &replayStats{counts: make(map[string]int)}
	recorder := logtracker.NewWriterRecorder(cmd.OutOrStdout(), log.Component("recorder"))

	proxy, err := commandqueue.New(commandqueue.Options{
		Version: replayVersion,
		State:   logtracker.NewState(),
		Factory: logtracker.Factory{
			Logger:   log.Component("logtracker"),
			Recorder: recorder,
		},
		Logger:  log.GetZerolog(),
		OnEvent: stats.observe,
	}, calls...)
	if err != nil {
		return fmt.Errorf("failed to create proxy: %w", err)
	}

	trackers := proxy.Namespaces()
	fmt.Fprintf(cmd.ErrOrStderr(), "Replayed %d calls: %d dispatched, %d failed, %d dropped, %d deprecated\n",
		len(calls),
		stats.get(commandqueue.EventDispatched),
		stats.get(commandqueue.EventFailed),
		stats.get(commandqueue.EventDropped),
		stats.get(commandqueue.EventDeprecated),
	)
	fmt.Fprintf(cmd.ErrOrStderr(), "Trackers: %s\n", strings.Join(trackers, ", "))

	return nil
}

func readReplayCalls(cmd *cobra.Command) ([]commandqueue.Call, error) {
	switch {
	case replayStdin && replayBuffer != "":
		return nil, fmt.Errorf("--buffer and --stdin are mutually exclusive")
	case replayStdin:
		data, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return nil, fmt.Errorf("failed to read stdin: %w", err)
		}
		return buffer.Parse(data)
	case replayBuffer != "":
		return buffer.LoadFile(replayBuffer)
	default:
		return nil, fmt.Errorf("either --buffer or --stdin is required")
	}
}
