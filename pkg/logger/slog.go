package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

// SlogConfig holds configuration for structured logging
type SlogConfig struct {
	Level     slog.Level
	Format    string // "json" or "text"
	AddSource bool
	Output    io.Writer
}

// DefaultSlogConfig logs at info level to stderr. Stdout is left alone because the
// stdio transport owns it.
func DefaultSlogConfig() SlogConfig {
	return SlogConfig{
		Level:  slog.LevelInfo,
		Format: "text",
		Output: os.Stderr,
	}
}

// NewSlogLogger creates a new structured logger
func NewSlogLogger(config SlogConfig) *slog.Logger {
	out := config.Output
	if out == nil {
		out = os.Stderr
	}
	opts := &slog.HandlerOptions{
		Level:     config.Level,
		AddSource: config.AddSource,
	}

	var handler slog.Handler
	switch config.Format {
	case "json":
		handler = slog.NewJSONHandler(out, opts)
	default:
		handler = slog.NewTextHandler(out, opts)
	}
	return slog.New(handler)
}

// ParseLevel maps debug, info, warn and error (any case) to slog levels.
func ParseLevel(level string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("unknown log level %q", level)
}

// New is NewSlogLogger for a level name and format, installed as the slog default.
func New(level, format string, out io.Writer) (*slog.Logger, error) {
	lvl, err := ParseLevel(level)
	if err != nil {
		return nil, err
	}
	cfg := DefaultSlogConfig()
	cfg.Level = lvl
	cfg.Format = format
	cfg.AddSource = lvl == slog.LevelDebug
	if out != nil {
		cfg.Output = out
	}
	l := NewSlogLogger(cfg)
	slog.SetDefault(l)
	return l, nil
}
