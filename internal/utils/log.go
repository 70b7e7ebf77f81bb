package utils

import (
	"log"
	"os"
	"strings"
	"time"
)

// LogLevel controls how much the dispatcher logs.
type LogLevel uint8

const (
	logEnv = "QDISPATCH_LOG_LEVEL"

	// LogLevelNothing disables
	LogLevelNothing LogLevel = 0
	// LogLevelError enables err logs
	LogLevelError LogLevel = 1
	// LogLevelInfo enables info logs (e.g. packets)
	LogLevelInfo LogLevel = 2
	// LogLevelDebug enables debug logs (e.g. packet contents)
	LogLevelDebug LogLevel = 3
)

// LogLevelFromString parses a level name (case-insensitive: "debug",
// "info", "error", "nothing") into a LogLevel, defaulting to
// LogLevelNothing for anything it doesn't recognize.
func LogLevelFromString(s string) LogLevel {
	switch strings.ToLower(s) {
	case "debug":
		return LogLevelDebug
	case "info":
		return LogLevelInfo
	case "error":
		return LogLevelError
	default:
		return LogLevelNothing
	}
}

// Logger is what components that don't want to depend on the package-level
// default logger take as a constructor argument instead - send_conn.go and
// time_wait_list.go both log through one of these rather than calling
// DefaultLogger directly, so a test can inject a silent logger.
type Logger interface {
	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Errorf(format string, args ...interface{})
	Debug() bool
	WithPrefix(prefix string) Logger
}

type defaultLogger struct {
	prefix string
}

// DefaultLogger routes through the package-level log level and time format
// and is what every production code path gets unless a test, or an
// embedder of the dispatcher, substitutes its own Logger. Its type is kept
// concrete (not the Logger interface) so callers can reach SetLogLevel/
// SetLogTimeFormat, which aren't part of the interface every component
// depends on.
var DefaultLogger = &defaultLogger{}

var _ Logger = DefaultLogger

var (
	logLevel   = LogLevelNothing
	timeFormat = ""
)

// SetLogLevel sets the log level for every Logger derived from
// DefaultLogger, including those already handed out via WithPrefix.
func (l *defaultLogger) SetLogLevel(level LogLevel) {
	logLevel = level
}

// SetLogTimeFormat sets the format of the timestamp; an empty string
// disables the logging of timestamps.
func (l *defaultLogger) SetLogTimeFormat(format string) {
	log.SetFlags(0) // disable timestamp logging done by the log package
	timeFormat = format
}

func (l *defaultLogger) Debugf(format string, args ...interface{}) {
	if logLevel == LogLevelDebug {
		l.logMessage(format, args...)
	}
}

func (l *defaultLogger) Infof(format string, args ...interface{}) {
	if logLevel >= LogLevelInfo {
		l.logMessage(format, args...)
	}
}

func (l *defaultLogger) Errorf(format string, args ...interface{}) {
	if logLevel >= LogLevelError {
		l.logMessage(format, args...)
	}
}

func (l *defaultLogger) logMessage(format string, args ...interface{}) {
	if l.prefix != "" {
		format = l.prefix + " " + format
	}
	if len(timeFormat) > 0 {
		log.Printf(time.Now().Format(timeFormat)+" "+format, args...)
	} else {
		log.Printf(format, args...)
	}
}

// Debug returns true if the log level is LogLevelDebug.
func (l *defaultLogger) Debug() bool {
	return logLevel == LogLevelDebug
}

// WithPrefix returns a Logger that prepends prefix to every message,
// chainable so repeated calls nest ("outer inner").
func (l *defaultLogger) WithPrefix(prefix string) Logger {
	if l.prefix != "" {
		prefix = l.prefix + " " + prefix
	}
	return &defaultLogger{prefix: prefix}
}

// NopLogger discards everything; tests use it to keep output quiet.
type NopLogger struct{}

var _ Logger = NopLogger{}

func (NopLogger) Debugf(string, ...interface{}) {}
func (NopLogger) Infof(string, ...interface{})  {}
func (NopLogger) Errorf(string, ...interface{}) {}
func (NopLogger) Debug() bool                   { return false }
func (NopLogger) WithPrefix(string) Logger      { return NopLogger{} }

func init() {
	logLevel = readLoggingEnv()
}

func readLoggingEnv() LogLevel {
	env := os.Getenv(logEnv)
	if env == "" {
		return LogLevelNothing
	}
	return LogLevelFromString(env)
}
