// Package logging wraps log/slog with the output conventions used across
// simdeck: pretty console output on a TTY, JSON everywhere else.
package logging

import (
	"io"
	"log/slog"
	"os"

	"golang.org/x/term"
)

// Logger wraps slog.Logger with domain-scoped helpers.
type Logger struct {
	*slog.Logger
}

// Config configures the logger.
type Config struct {
	Level     string
	Format    string // auto, text, json
	Output    io.Writer
	AddSource bool
}

// DefaultConfig returns the default logger configuration.
func DefaultConfig() Config {
	return Config{Level: "info", Format: "auto", Output: os.Stdout}
}

// New creates a logger for the given configuration.
func New(cfg Config) *Logger {
	if cfg.Output == nil {
		cfg.Output = os.Stdout
	}
	return &Logger{Logger: slog.New(buildHandler(cfg))}
}

// NewNop creates a no-op logger for tests.
func NewNop() *Logger {
	return &Logger{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
}

func buildHandler(cfg Config) slog.Handler {
	level := parseLevel(cfg.Level)
	opts := &slog.HandlerOptions{Level: level, AddSource: cfg.AddSource}

	format := cfg.Format
	if format == "auto" || format == "" {
		if isTerminal(cfg.Output) {
			return NewPrettyHandler(cfg.Output, level)
		}
		format = "json"
	}

	if format == "text" {
		return slog.NewTextHandler(cfg.Output, opts)
	}
	return slog.NewJSONHandler(cfg.Output, opts)
}

func parseLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// WithRun returns a logger with run context.
func (l *Logger) WithRun(runID string) *Logger {
	return &Logger{Logger: l.Logger.With("run_id", runID)}
}

// WithBatch returns a logger with batch context.
func (l *Logger) WithBatch(batchID string) *Logger {
	return &Logger{Logger: l.Logger.With("batch_id", batchID)}
}

// WithWorkspace returns a logger with workspace context.
func (l *Logger) WithWorkspace(workspace string) *Logger {
	return &Logger{Logger: l.Logger.With("workspace", workspace)}
}

// With returns a logger with custom fields.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{Logger: l.Logger.With(args...)}
}
