// Package logger wraps zerolog with the settings the tracker services share.
package logger

import (
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Config controls output format and verbosity.
type Config struct {
	Env   string // development gives console output, anything else JSON
	Level string // trace, debug, info, warn, error
	// Out defaults to stdout.
	Out io.Writer
}

// Logger is a zerolog logger that can be passed around by pointer.
type Logger struct {
	zl zerolog.Logger
}

// New builds a structured logger and installs it as the zerolog global.
func New(cfg Config) *Logger {
	out := cfg.Out
	if out == nil {
		out = os.Stdout
	}
	var w io.Writer = out
	if strings.EqualFold(cfg.Env, "development") {
		w = zerolog.ConsoleWriter{Out: out, TimeFormat: "15:04:05.000"}
	}

	zl := zerolog.New(w).Level(ParseLevel(cfg.Level)).With().Timestamp().Logger()
	log.Logger = zl

	return &Logger{zl: zl}
}

// Nop discards everything.
func Nop() *Logger {
	return &Logger{zl: zerolog.Nop()}
}

// ParseLevel maps a level name to zerolog, falling back to info.
func ParseLevel(s string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

func (l *Logger) Trace() *zerolog.Event { return l.zl.Trace() }
func (l *Logger) Debug() *zerolog.Event { return l.zl.Debug() }
func (l *Logger) Info() *zerolog.Event  { return l.zl.Info() }
func (l *Logger) Warn() *zerolog.Event  { return l.zl.Warn() }
func (l *Logger) Error() *zerolog.Event { return l.zl.Error() }
func (l *Logger) Fatal() *zerolog.Event { return l.zl.Fatal() }

// With starts a sub-logger context with fixed fields.
func (l *Logger) With() zerolog.Context {
	return l.zl.With()
}

// Component returns a sub-logger tagged with the component name.
func (l *Logger) Component(name string) *zerolog.Logger {
	zl := l.zl.With().Str("component", name).Logger()
	return &zl
}

// Zerolog exposes the underlying logger.
func (l *Logger) Zerolog() zerolog.Logger {
	return l.zl
}
