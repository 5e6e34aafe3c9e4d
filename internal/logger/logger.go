// Package logger provides the logging interface shared by every sessionbridge
// component together with a logrus-backed implementation and a no-op logger.
package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
)

// Logger is the unified interface for all logging operations in the bridge.
// Components that only need a subset declare narrower interfaces and accept
// any Logger.
type Logger interface {
	Debug(msg string)
	Debugf(format string, args ...interface{})
	Info(msg string)
	Infof(format string, args ...interface{})
	Error(msg string)
	Errorf(format string, args ...interface{})

	Printf(format string, args ...interface{})
	Println(args ...interface{})
	Fatalf(format string, args ...interface{})

	WithField(key string, value interface{}) Logger
	WithFields(fields map[string]interface{}) Logger
}

// LogLevel represents the logging level
type LogLevel int

const (
	// LogLevelDebug enables all log messages
	LogLevelDebug LogLevel = iota
	// LogLevelInfo enables info and error messages
	LogLevelInfo
	// LogLevelError enables only error messages
	LogLevelError
	// LogLevelNone disables all logging
	LogLevelNone
)

// ParseLogLevel converts a string log level to LogLevel. Unknown values map to info.
func ParseLogLevel(level string) LogLevel {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return LogLevelDebug
	case "info":
		return LogLevelInfo
	case "error":
		return LogLevelError
	case "none":
		return LogLevelNone
	default:
		return LogLevelInfo
	}
}

func (l LogLevel) logrusLevel() logrus.Level {
	switch l {
	case LogLevelDebug:
		return logrus.DebugLevel
	case LogLevelError:
		return logrus.ErrorLevel
	case LogLevelNone:
		return logrus.PanicLevel
	default:
		return logrus.InfoLevel
	}
}

// Options configures a logrus-backed logger.
type Options struct {
	Level  string
	Format string // "text" or "json"
	Output io.Writer
}

// LogrusLogger implements Logger on top of a logrus entry so that fields
// attached through WithField travel with every subsequent message.
type LogrusLogger struct {
	entry *logrus.Entry
	level LogLevel
}

// New creates a logger writing to opts.Output (stderr when nil).
func New(opts Options) *LogrusLogger {
	out := opts.Output
	if out == nil {
		out = os.Stderr
	}

	level := ParseLogLevel(opts.Level)

	base := logrus.New()
	base.SetOutput(out)
	base.SetLevel(level.logrusLevel())
	if strings.EqualFold(opts.Format, "json") {
		base.SetFormatter(&logrus.JSONFormatter{})
	} else {
		base.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, DisableColors: true})
	}

	return &LogrusLogger{entry: logrus.NewEntry(base), level: level}
}

// Level returns the configured level.
func (l *LogrusLogger) Level() LogLevel {
	return l.level
}

func (l *LogrusLogger) enabled(level LogLevel) bool {
	return l.level != LogLevelNone && l.level <= level
}

// Debug logs a debug message
func (l *LogrusLogger) Debug(msg string) {
	if l.enabled(LogLevelDebug) {
		l.entry.Debug(msg)
	}
}

// Debugf logs a formatted debug message
func (l *LogrusLogger) Debugf(format string, args ...interface{}) {
	if l.enabled(LogLevelDebug) {
		l.entry.Debugf(format, args...)
	}
}

// Info logs an info message
func (l *LogrusLogger) Info(msg string) {
	if l.enabled(LogLevelInfo) {
		l.entry.Info(msg)
	}
}

// Infof logs a formatted info message
func (l *LogrusLogger) Infof(format string, args ...interface{}) {
	if l.enabled(LogLevelInfo) {
		l.entry.Infof(format, args...)
	}
}

// Error logs an error message
func (l *LogrusLogger) Error(msg string) {
	if l.enabled(LogLevelError) {
		l.entry.Error(msg)
	}
}

// Errorf logs a formatted error message
func (l *LogrusLogger) Errorf(format string, args ...interface{}) {
	if l.enabled(LogLevelError) {
		l.entry.Errorf(format, args...)
	}
}

// Printf logs a formatted message at info level
func (l *LogrusLogger) Printf(format string, args ...interface{}) {
	l.Infof(format, args...)
}

// Println logs a message at info level
func (l *LogrusLogger) Println(args ...interface{}) {
	l.Info(fmt.Sprint(args...))
}

// Fatalf logs a formatted error message and panics. The process is never
// terminated from inside a library.
func (l *LogrusLogger) Fatalf(format string, args ...interface{}) {
	l.Errorf(format, args...)
	panic(fmt.Sprintf(format, args...))
}

// WithField returns a new logger with an additional field
func (l *LogrusLogger) WithField(key string, value interface{}) Logger {
	return &LogrusLogger{entry: l.entry.WithField(key, value), level: l.level}
}

// WithFields returns a new logger with additional fields
func (l *LogrusLogger) WithFields(fields map[string]interface{}) Logger {
	return &LogrusLogger{entry: l.entry.WithFields(logrus.Fields(fields)), level: l.level}
}

// NoOpLogger is a logger that discards all output.
type NoOpLogger struct{}

func (n *NoOpLogger) Debug(msg string)                          {}
func (n *NoOpLogger) Debugf(format string, args ...interface{}) {}
func (n *NoOpLogger) Info(msg string)                           {}
func (n *NoOpLogger) Infof(format string, args ...interface{})  {}
func (n *NoOpLogger) Error(msg string)                          {}
func (n *NoOpLogger) Errorf(format string, args ...interface{}) {}
func (n *NoOpLogger) Printf(format string, args ...interface{}) {}
func (n *NoOpLogger) Println(args ...interface{})               {}
func (n *NoOpLogger) Fatalf(format string, args ...interface{}) {}

// WithField returns the same NoOpLogger
func (n *NoOpLogger) WithField(key string, value interface{}) Logger {
	return n
}

// WithFields returns the same NoOpLogger
func (n *NoOpLogger) WithFields(fields map[string]interface{}) Logger {
	return n
}

var (
	singletonNoOpLogger *NoOpLogger
	noOpLoggerOnce      sync.Once
)

// NoOp returns the shared no-op logger instance.
func NoOp() Logger {
	noOpLoggerOnce.Do(func() {
		singletonNoOpLogger = &NoOpLogger{}
	})
	return singletonNoOpLogger
}

// Component returns a child logger tagged with the component name.
func Component(base Logger, name string) Logger {
	if base == nil {
		return NoOp()
	}
	return base.WithField("component", name)
}
