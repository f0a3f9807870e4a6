package logger

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Logger owns the process logger and the file behind it, if any.
type Logger struct {
	logger   zerolog.Logger
	file     io.Closer
	redactor *Redactor
}

// Config holds logger configuration
type Config struct {
	Level     string // debug, info, warn, error; anything else means info
	File      string // log file path, empty for none
	Console   bool   // write to stdout
	Pretty    bool   // human readable console output
	Redaction bool   // scrub secrets, credentials and emails
	MaxSize   int    // MB before the file rotates, 0 never rotates
	MaxAge    int    // days to keep rotated files
	Compress  bool   // gzip rotated files

	// Output replaces stdout as the console destination. Setting it implies
	// console output.
	Output io.Writer
}

// New creates a logger and installs it as the global zerolog logger.
func New(cfg Config) (*Logger, error) {
	l := &Logger{}

	var sinks []io.Writer
	if console := consoleSink(cfg); console != nil {
		sinks = append(sinks, console)
	}

	if cfg.File != "" {
		file, err := openLogFile(cfg)
		if err != nil {
			return nil, err
		}
		l.file = file
		sinks = append(sinks, file)
	}

	out := combine(sinks)
	if cfg.Redaction {
		l.redactor = NewRedactor()
		out = l.redactor.Wrap(out)
	}

	l.logger = zerolog.New(out).
		Level(parseLevel(cfg.Level)).
		With().
		Timestamp().
		Logger()
	log.Logger = l.logger

	return l, nil
}

func parseLevel(s string) zerolog.Level {
	switch level, err := zerolog.ParseLevel(s); {
	case err != nil, s == "", level == zerolog.NoLevel:
		return zerolog.InfoLevel
	default:
		return level
	}
}

func consoleSink(cfg Config) io.Writer {
	if !cfg.Console && cfg.Output == nil {
		return nil
	}

	var out io.Writer = os.Stdout
	if cfg.Output != nil {
		out = cfg.Output
	}
	if cfg.Pretty {
		return zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}
	return out
}

// combine falls back to stdout so a misconfigured logger is never silent.
func combine(sinks []io.Writer) io.Writer {
	switch len(sinks) {
	case 0:
		return os.Stdout
	case 1:
		return sinks[0]
	default:
		return io.MultiWriter(sinks...)
	}
}

func openLogFile(cfg Config) (io.WriteCloser, error) {
	if cfg.MaxSize > 0 {
		return NewRotatingWriter(cfg.File, cfg.MaxSize, cfg.MaxAge, cfg.Compress)
	}
	return openAppend(cfg.File)
}

// Close closes the log file, if any.
func (l *Logger) Close() error {
	if l.file == nil {
		return nil
	}
	return l.file.Close()
}

// Component returns a child logger tagged with the component name.
func (l *Logger) Component(name string) zerolog.Logger {
	return l.logger.With().Str("component", name).Logger()
}

// Redactor returns the active redactor, or nil when redaction is off.
func (l *Logger) Redactor() *Redactor {
	return l.redactor
}

// GetZerolog returns the underlying zerolog.Logger
func (l *Logger) GetZerolog() zerolog.Logger {
	return l.logger
}

// DefaultConfig returns default logger configuration
func DefaultConfig() Config {
	return Config{
		Level:     "info",
		Console:   true,
		Pretty:    true,
		Redaction: true,
		MaxSize:   100,
		MaxAge:    7,
		Compress:  true,
	}
}
