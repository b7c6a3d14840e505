// Package logger provides the logging facade used by every go-wearlink package,
// allowing applications to plug in their preferred logging implementation.
//
// The Logger interface defines methods for logging messages at various severity levels (Debug, Info, Warn, Error, Fatal)
// and supports structured logging with key-value pairs.
//
// Log Levels:
//
//   - DebugLevel:  Frame dumps and queue tracing, typically disabled in production.
//   - InfoLevel:  Link lifecycle messages.
//   - WarnLevel:  Dropped frames, stalled transfers and other recoverable issues.
//   - ErrorLevel:  Transport failures that require attention.
//   - FatalLevel:  Critical errors that cause program termination.
package logger

// LogLevel indicates the logging severity level.
type LogLevel = int8

// Level is an alias of LogLevel.
type Level = LogLevel

const (
	// DebugLevel logs are typically voluminous, and are usually disabled in production.
	DebugLevel LogLevel = iota - 1
	// InfoLevel is the default logging priority.
	InfoLevel
	// WarnLevel logs are more important than Info, but don't need individual
	// human review.
	WarnLevel
	// ErrorLevel logs are high-priority. If a link is running smoothly,
	// it shouldn't generate any error-level logs.
	ErrorLevel
	// FatalLevel logs a message, then calls os.Exit(1).
	FatalLevel
)

// ParseLevel converts a level name such as "debug" or "WARN" into a LogLevel.
// Unknown names map to InfoLevel and ok is false.
func ParseLevel(name string) (level LogLevel, ok bool) {
	switch name {
	case "debug", "DEBUG":
		return DebugLevel, true
	case "info", "INFO":
		return InfoLevel, true
	case "warn", "WARN", "warning", "WARNING":
		return WarnLevel, true
	case "error", "ERROR":
		return ErrorLevel, true
	case "fatal", "FATAL":
		return FatalLevel, true
	default:
		return InfoLevel, false
	}
}

// Logger is the structured logging interface accepted by every go-wearlink
// package. keysAndValues are alternating keys and values, appended to the
// fields accumulated with With.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
	// Fatal logs at FatalLevel and then calls os.Exit(1).
	Fatal(msg string, keysAndValues ...any)

	// With returns a child logger carrying keyValues. The parent is not affected.
	With(keyValues ...any) Logger

	// Level returns the minimum enabled level.
	Level() LogLevel
	// SetLevel changes the minimum enabled level.
	SetLevel(level LogLevel)
}
