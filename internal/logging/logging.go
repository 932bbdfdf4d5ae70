// Package logging builds the zerolog logger shared by every command.
//
// Logs always go to stderr: the stdout of `oploader env` is evaluated by the
// calling shell and must only ever contain export statements.
package logging

import (
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
)

// DefaultLevel keeps interactive shells quiet unless something degrades.
const DefaultLevel = zerolog.WarnLevel

type Logger = zerolog.Logger

// New returns a logger writing to stderr. Unknown levels fall back to
// DefaultLevel.
func New(level string, pretty bool) Logger {
	return NewWithWriter(os.Stderr, level, pretty)
}

// NewWithWriter is New with an explicit destination.
func NewWithWriter(w io.Writer, level string, pretty bool) Logger {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnixMs

	out := w
	if pretty {
		out = zerolog.ConsoleWriter{Out: w, TimeFormat: "15:04:05"}
	}

	return zerolog.New(out).Level(ParseLevel(level)).With().Timestamp().Logger()
}

// ParseLevel maps a user supplied level name to a zerolog level.
func ParseLevel(level string) zerolog.Level {
	level = strings.TrimSpace(strings.ToLower(level))
	if level == "" {
		return DefaultLevel
	}
	parsed, err := zerolog.ParseLevel(level)
	if err != nil || parsed == zerolog.NoLevel {
		return DefaultLevel
	}
	return parsed
}

// Nop discards everything.
func Nop() Logger {
	return zerolog.Nop()
}
