// Package logging builds the agent's slog logger and the in-memory sink that
// mirrors log records to live subscribers.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// Category attribute values, one per agent concern.
const (
	CategoryKey = "category"

	System = "SYSTEM"
	Goal   = "GOAL"
	Task   = "TASK"
	Trend  = "TREND"
	Action = "ACTION"
	Error  = "ERROR"
)

type Config struct {
	Level  string // debug, info, warn, error
	Format string // json, text
	Output io.Writer
	Sink   *Sink
}

func ParseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// New creates a structured logger. When a sink is configured every record is
// teed into it as well.
func New(cfg Config) *slog.Logger {
	output := cfg.Output
	if output == nil {
		output = os.Stderr
	}
	opts := &slog.HandlerOptions{Level: ParseLevel(cfg.Level)}
	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(output, opts)
	} else {
		handler = slog.NewTextHandler(output, opts)
	}
	if cfg.Sink != nil {
		handler = cfg.Sink.Handler(handler)
	}
	return slog.New(handler)
}

// Discard returns a logger that drops everything.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// For tags a logger with a category.
func For(l *slog.Logger, category string) *slog.Logger {
	if l == nil {
		l = Discard()
	}
	return l.With(CategoryKey, category)
}
