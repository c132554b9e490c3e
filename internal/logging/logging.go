// Package logging provides the leveled logger used across the node's
// components. Components accept the Logger interface via functional
// options so tests can inject their own.
package logging

import "log"

// Logger is a minimal leveled logger.
type Logger interface {
	Debug(msg string, fields ...interface{})
	Info(msg string, fields ...interface{})
	Warn(msg string, fields ...interface{})
	Error(msg string, fields ...interface{})
}

// DefaultLogger writes to the standard log package.
type DefaultLogger struct {
	logger *log.Logger
	name   string
}

// NewDefaultLogger returns a logger backed by log.Default().
func NewDefaultLogger() *DefaultLogger {
	return &DefaultLogger{logger: log.Default()}
}

// Named returns a logger that prefixes every message with the component name.
func Named(name string) *DefaultLogger {
	return &DefaultLogger{logger: log.Default(), name: name}
}

func (l *DefaultLogger) prefix(level, msg string) string {
	if l.name != "" {
		return "[" + level + "] " + l.name + ": " + msg
	}
	return "[" + level + "] " + msg
}

func (l *DefaultLogger) Debug(msg string, fields ...interface{}) {
	l.logger.Printf(l.prefix("DEBUG", msg), fields...)
}

func (l *DefaultLogger) Info(msg string, fields ...interface{}) {
	l.logger.Printf(l.prefix("INFO", msg), fields...)
}

func (l *DefaultLogger) Warn(msg string, fields ...interface{}) {
	l.logger.Printf(l.prefix("WARN", msg), fields...)
}

func (l *DefaultLogger) Error(msg string, fields ...interface{}) {
	l.logger.Printf(l.prefix("ERROR", msg), fields...)
}

type noDebug struct{ Logger }

func (noDebug) Debug(msg string, fields ...interface{}) {}

// NoDebug returns l with Debug output suppressed.
func NoDebug(l Logger) Logger { return noDebug{l} }

// NopLogger discards everything. Useful in tests.
type NopLogger struct{}

func (NopLogger) Debug(msg string, fields ...interface{}) {}
func (NopLogger) Info(msg string, fields ...interface{})  {}
func (NopLogger) Warn(msg string, fields ...interface{})  {}
func (NopLogger) Error(msg string, fields ...interface{}) {}
