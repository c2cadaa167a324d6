// Package logger provides structured logging using zerolog
package logger

import (
	"io"
	"os"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"

	"github.com/davidzhou73/convnetlog/internal/event"
)

type Config struct {
	Level  string `yaml:"level"`
	Debug  bool   `yaml:"debug"`
	Output string `yaml:"output"`
	// JSON forces JSON lines even on a terminal
	JSON bool `yaml:"json"`
}

var globalLogger = zerolog.New(os.Stderr).With().Timestamp().Logger()

// Init builds the global logger from cfg and returns it
func Init(cfg Config) (zerolog.Logger, error) {
	out := os.Stderr
	if cfg.Output == "stdout" {
		out = os.Stdout
	}

	level := zerolog.InfoLevel
	if cfg.Debug {
		level = zerolog.DebugLevel
	} else if cfg.Level != "" {
		var err error
		level, err = zerolog.ParseLevel(cfg.Level)
		if err != nil {
			return globalLogger, err
		}
	}

	var w io.Writer = out
	if !cfg.JSON && isatty.IsTerminal(out.Fd()) {
		w = zerolog.ConsoleWriter{Out: out, TimeFormat: time.DateTime}
	}

	globalLogger = New(w, level)
	return globalLogger, nil
}

// New builds a logger writing to w at level
func New(w io.Writer, level zerolog.Level) zerolog.Logger {
	return zerolog.New(w).Level(level).With().Timestamp().Logger()
}

// NewTestLogger returns a logger that discards all output
func NewTestLogger() zerolog.Logger {
	return zerolog.New(io.Discard).Level(zerolog.Disabled)
}

// WithComponent returns a child of the global logger tagged with component
func WithComponent(component string) zerolog.Logger {
	return globalLogger.With().Str("component", component).Logger()
}

// Emit forwards a core event to log at the matching level
func Emit(log zerolog.Logger, e event.Event) {
	var ev *zerolog.Event
	switch e.Level {
	case event.LevelError:
		ev = log.Error()
	case event.LevelWarn:
		ev = log.Warn()
	default:
		ev = log.Info()
	}

	ev = ev.Str("kind", string(e.Kind))
	if e.Path != "" {
		ev = ev.Str("path", e.Path)
	}
	if e.Device != "" {
		ev = ev.Str("device", e.Device)
	}
	if e.Err != nil {
		ev = ev.Err(e.Err)
	}
	ev.Msg(e.Message)
}

// Handler returns an event.Handler that logs through log
func Handler(log zerolog.Logger) event.Handler {
	return func(e event.Event) { Emit(log, e) }
}
