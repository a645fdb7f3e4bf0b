package logger

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// NewConsoleLogger returns the human-readable logger used by the CLI for
// process-level messages.
func NewConsoleLogger(out io.Writer, level string) zerolog.Logger {
	if out == nil {
		out = os.Stderr
	}
	writer := zerolog.ConsoleWriter{
		Out:        out,
		TimeFormat: time.RFC3339,
	}
	return zerolog.New(writer).Level(ZerologLevel(level)).With().Timestamp().Logger()
}

// ZerologLevel maps a level name to zerolog, defaulting to info.
func ZerologLevel(level string) zerolog.Level {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || lvl == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return lvl
}
