// Package logging provides a tiny abstraction over slog so downstream code can
// depend on a minimal interface (Logger) while allowing users to plug any
// structured logger. It also offers a richer SquadLogger with per-component
// tagging and domain specific logging helpers
// for turns, dispatch rounds and reflection iterations.
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"time"
)

// LogLevel represents different logging levels.
// LogLevel is a thin enum for user friendly level configuration decoupled from slog.
type LogLevel int

const (
	// LogLevelDebug is the debug logging level.
	LogLevelDebug LogLevel = iota
	// LogLevelInfo is the informational logging level.
	LogLevelInfo
	// LogLevelWarn is the warning logging level.
	LogLevelWarn
	// LogLevelError is the error logging level.
	LogLevelError
)

// String returns the string representation of the log level.
func (l LogLevel) String() string {
	switch l {
	case LogLevelDebug:
		return "DEBUG"
	case LogLevelInfo:
		return "INFO"
	case LogLevelWarn:
		return "WARN"
	case LogLevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// Logger defines the minimal logging interface for agentsquad.
// This allows users to provide their own logger implementation or use the built-in adapters.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// SquadLogger wraps slog.Logger adding contextual cloning helpers and
// domain convenience methods. It should be cheap to copy via With* methods.
type SquadLogger struct {
	logger    *slog.Logger
	level     LogLevel
	context   map[string]interface{}
	component string
}

// LoggerConfig configures construction of a SquadLogger.
type LoggerConfig struct {
	Level       LogLevel
	Format      string // json or text
	Output      io.Writer
	AddSource   bool
	Component   string
	CustomAttrs map[string]interface{}
}

// DefaultLoggerConfig returns a baseline JSON info level configuration.
func DefaultLoggerConfig() *LoggerConfig {
	return &LoggerConfig{Level: LogLevelInfo, Format: "json", Output: os.Stdout, AddSource: true, CustomAttrs: map[string]interface{}{}}
}

// NewLogger builds a SquadLogger from a config (or defaults if nil).
func NewLogger(cfg *LoggerConfig) *SquadLogger {
	if cfg == nil {
		cfg = DefaultLoggerConfig()
	}
	opts := &slog.HandlerOptions{Level: slogLevel(cfg.Level), AddSource: cfg.AddSource}
	var handler slog.Handler
	if cfg.Format == "text" {
		handler = slog.NewTextHandler(cfg.Output, opts)
	} else {
		handler = slog.NewJSONHandler(cfg.Output, opts)
	}
	ctx := make(map[string]interface{}, len(cfg.CustomAttrs))
	for k, v := range cfg.CustomAttrs {
		ctx[k] = v
	}
	return &SquadLogger{logger: slog.New(handler), level: cfg.Level, context: ctx, component: cfg.Component}
}

func slogLevel(l LogLevel) slog.Level {
	switch l {
	case LogLevelDebug:
		return slog.LevelDebug
	case LogLevelInfo:
		return slog.LevelInfo
	case LogLevelWarn:
		return slog.LevelWarn
	case LogLevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func (l *SquadLogger) clone() *SquadLogger {
	nl := *l
	nl.context = map[string]interface{}{}
	for k, v := range l.context {
		nl.context[k] = v
	}
	return &nl
}

// WithComponent sets the logical component (session, dispatch, store, ...).
func (l *SquadLogger) WithComponent(c string) *SquadLogger {
	nl := l.clone()
	nl.component = c
	return nl
}

// ForComponent tags l with component c if it is a SquadLogger and returns
// any other Logger unchanged.
func ForComponent(l Logger, c string) Logger {
	if sl, ok := l.(*SquadLogger); ok {
		return sl.WithComponent(c)
	}
	return l
}

func (l *SquadLogger) buildAttrs() []slog.Attr {
	attrs := make([]slog.Attr, 0, len(l.context)+2)
	if l.component != "" {
		attrs = append(attrs, slog.String("component", l.component))
	}
	attrs = append(attrs, slog.Time("timestamp", time.Now()))
	for k, v := range l.context {
		attrs = append(attrs, slog.Any(k, v))
	}
	return attrs
}

func (l *SquadLogger) log(level slog.Level, allowed bool, msg string, args ...interface{}) {
	if !allowed {
		return
	}
	// args follow the slog key/value convention so SquadLogger satisfies Logger.
	attrs := l.buildAttrs()
	all := make([]any, 0, len(attrs)+len(args))
	for _, a := range attrs {
		all = append(all, a)
	}
	all = append(all, args...)
	l.logger.Log(context.Background(), level, msg, all...)
}

// Debug logs at debug level.
func (l *SquadLogger) Debug(msg string, args ...interface{}) {
	l.log(slog.LevelDebug, l.level <= LogLevelDebug, msg, args...)
}

// Info logs at info level.
func (l *SquadLogger) Info(msg string, args ...interface{}) {
	l.log(slog.LevelInfo, l.level <= LogLevelInfo, msg, args...)
}

// Warn logs at warn level.
func (l *SquadLogger) Warn(msg string, args ...interface{}) {
	l.log(slog.LevelWarn, l.level <= LogLevelWarn, msg, args...)
}

// Error logs at error level.
func (l *SquadLogger) Error(msg string, args ...interface{}) {
	l.log(slog.LevelError, l.level <= LogLevelError, msg, args...)
}

// LogTurn records the outcome of a session turn.
func (l *SquadLogger) LogTurn(session string, generation uint64, dur time.Duration, usedTools bool, err error) {
	attrs := l.buildAttrs()
	attrs = append(attrs, slog.String("session", session), slog.Uint64("generation", generation), slog.Duration("duration", dur), slog.Bool("used_tools", usedTools), slog.Bool("success", err == nil))
	if err != nil {
		attrs = append(attrs, slog.String("error", err.Error()))
	}
	level := slog.LevelInfo
	msg := "Turn completed"
	if err != nil {
		level = slog.LevelError
		msg = "Turn failed"
	}
	l.logger.LogAttrs(context.Background(), level, msg, attrs...)
}

// LogDispatch records aggregate metrics of a dispatch round.
func (l *SquadLogger) LogDispatch(group, mode string, recipients int, dur time.Duration, err error) {
	attrs := l.buildAttrs()

	attrs = append(attrs, slog.String("group", group), slog.String("mode", mode), slog.Int("recipients", recipients), slog.Duration("duration", dur), slog.Bool("success", err == nil))

	if err != nil {
		attrs = append(attrs, slog.String("error", err.Error()))
	}

	level := slog.LevelInfo

	msg := "Dispatch completed"

	if err != nil {
		level = slog.LevelError
		msg = "Dispatch failed"
	}

	l.logger.LogAttrs(context.Background(), level, msg, attrs...)
}

// LogReflection records one reflection iteration.
func (l *SquadLogger) LogReflection(group string, iteration int, score, similarity float64, adjustments int) {
	attrs := l.buildAttrs()
	attrs = append(attrs, slog.String("group", group), slog.Int("iteration", iteration), slog.Float64("score", score), slog.Float64("similarity", similarity), slog.Int("adjustments", adjustments))
	l.logger.LogAttrs(context.Background(), slog.LevelInfo, "Reflection iteration evaluated", attrs...)
}

// NoOpLogger discards all log messages. Useful for testing or when logging is disabled.
type NoOpLogger struct{}

// Debug logs a debug message.
func (NoOpLogger) Debug(string, ...any) {}

// Info logs an informational message.
func (NoOpLogger) Info(string, ...any) {}

// Warn logs a warning message.
func (NoOpLogger) Warn(string, ...any) {}

// Error logs an error message.
func (NoOpLogger) Error(string, ...any) {}

// NewSlogLogger creates a new SquadLogger with the specified configuration.
func NewSlogLogger(level LogLevel, format string, addSource bool) *SquadLogger {
	cfg := DefaultLoggerConfig()
	cfg.Level = level
	if format != "" {
		cfg.Format = format
	}
	cfg.AddSource = addSource
	return NewLogger(cfg)
}

// TurnLogger is implemented by loggers that emit structured turn records.
type TurnLogger interface {
	LogTurn(session string, generation uint64, dur time.Duration, usedTools bool, err error)
}

// DispatchLogger is implemented by loggers that emit structured dispatch records.
type DispatchLogger interface {
	LogDispatch(group, mode string, recipients int, dur time.Duration, err error)
}

// ReflectionLogger is implemented by loggers that emit reflection iteration records.
type ReflectionLogger interface {
	LogReflection(group string, iteration int, score, similarity float64, adjustments int)
}

var (
	_ TurnLogger       = (*SquadLogger)(nil)
	_ DispatchLogger   = (*SquadLogger)(nil)
	_ ReflectionLogger = (*SquadLogger)(nil)
)
