// Package observability defines shared logging and metrics primitives.
package observability

import "log"

// Logger captures structured logging behaviours shared across layers.
type Logger interface {
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Error(msg string, fields ...Field)
}

// Field represents a key/value pair for structured logging.
type Field struct {
	Key   string
	Value any
}

var defaultLogger Logger = noopLogger{}

// SetLogger overrides the global logger used by the pipeline.
func SetLogger(logger Logger) {
	if logger == nil {
		defaultLogger = noopLogger{}
		return
	}
	defaultLogger = logger
}

// Log returns the current global logger instance.
func Log() Logger {
	return defaultLogger
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...Field) {}
func (noopLogger) Info(string, ...Field)  {}
func (noopLogger) Error(string, ...Field) {}

// StdLogger adapts a standard library logger to the Logger interface.
// Commands use it so library logs share the process log stream.
type StdLogger struct {
	Target *log.Logger
}

// Debug writes a debug-level line.
func (l StdLogger) Debug(msg string, fields ...Field) { l.write("DEBUG", msg, fields) }

// Info writes an info-level line.
func (l StdLogger) Info(msg string, fields ...Field) { l.write("INFO", msg, fields) }

// Error writes an error-level line.
func (l StdLogger) Error(msg string, fields ...Field) { l.write("ERROR", msg, fields) }

func (l StdLogger) write(level, msg string, fields []Field) {
	if l.Target == nil {
		return
	}
	args := make([]any, 0, 2+2*len(fields))
	args = append(args, level, msg)
	for _, f := range fields {
		args = append(args, f.Key+"=", f.Value)
	}
	l.Target.Println(args...)
}
