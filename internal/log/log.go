// Package log provides the dispatcher's structured logger: a global
// zerolog.Logger plus component/node/task/request scoped child loggers,
// the same shape every component in this tree uses to tag its output.
package log

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Logger is the global logger instance, configured by Init.
var Logger zerolog.Logger

// Level is a logging verbosity level, as named on the CLI and in the
// optional config file.
type Level string

const (
	DebugLevel Level = "debug"
	InfoLevel  Level = "info"
	WarnLevel  Level = "warn"
	ErrorLevel Level = "error"
)

// levelValues maps the config/CLI spelling of a level to its zerolog
// equivalent; an unrecognized spelling falls back to info rather than
// rejecting the whole config.
var levelValues = map[Level]zerolog.Level{
	DebugLevel: zerolog.DebugLevel,
	InfoLevel:  zerolog.InfoLevel,
	WarnLevel:  zerolog.WarnLevel,
	ErrorLevel: zerolog.ErrorLevel,
}

// ParseLevel resolves a Level to its zerolog.Level, so cmd/* and
// internal/manager don't each need their own copy of this switch.
func ParseLevel(l Level) zerolog.Level {
	if zl, ok := levelValues[l]; ok {
		return zl
	}
	return zerolog.InfoLevel
}

// Config controls Init.
type Config struct {
	Level      Level
	JSONOutput bool
	Output     io.Writer
}

// Init configures the global logger. Call once at process start; safe
// to call again in tests that need a different level or writer.
func Init(cfg Config) {
	zerolog.SetGlobalLevel(ParseLevel(cfg.Level))
	Logger = zerolog.New(writerFor(cfg)).With().Timestamp().Logger()
}

// writerFor picks the console or JSON writer cfg asks for, defaulting
// the underlying sink to stdout when the caller doesn't supply one
// (e.g. a Worker Node agent running without a log file).
func writerFor(cfg Config) io.Writer {
	out := cfg.Output
	if out == nil {
		out = os.Stdout
	}
	if cfg.JSONOutput {
		return out
	}
	return zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
}

// WithComponent returns a child logger tagged with the owning component
// (e.g. "scheduler", "health-monitor", "transport").
func WithComponent(component string) zerolog.Logger {
	return Logger.With().Str("component", component).Logger()
}

// WithNodeID returns a child logger tagged with a node ID.
func WithNodeID(nodeID string) zerolog.Logger {
	return Logger.With().Str("node_id", nodeID).Logger()
}

// WithTaskID returns a child logger tagged with a task ID.
func WithTaskID(taskID string) zerolog.Logger {
	return Logger.With().Str("task_id", taskID).Logger()
}

// WithRequestID tags an existing logger with a request-scoped ID,
// composing onto a component/node logger rather than starting fresh
// from the global Logger — the Status Publisher uses this to correlate
// a snapshot with the Dashboard poll that produced it.
func WithRequestID(logger zerolog.Logger, requestID string) zerolog.Logger {
	return logger.With().Str("request_id", requestID).Logger()
}

func Info(msg string)  { Logger.Info().Msg(msg) }
func Debug(msg string) { Logger.Debug().Msg(msg) }
func Warn(msg string)  { Logger.Warn().Msg(msg) }
func Error(msg string) { Logger.Error().Msg(msg) }

func Errorf(msg string, err error) { Logger.Error().Err(err).Msg(msg) }
func Fatal(msg string)             { Logger.Fatal().Msg(msg) }

func init() {
	// Sensible default so packages that log before cmd/*'s Init runs
	// (e.g. in tests) don't panic on a zero-value Logger.
	Init(Config{Level: InfoLevel})
}
