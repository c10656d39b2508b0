// Package logging provides structured logging for the pipecheck harness.
// It supports text and JSON output, log levels, and attaches run IDs and
// harness error context to entries.
package logging

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	pcerrors "github.com/ajitpratap0/pipecheck/pkg/errors"
)

// Level represents the severity of a log message
type Level int

const (
	// DebugLevel is for detailed information useful for debugging
	DebugLevel Level = iota - 1
	// InfoLevel is for general informational messages
	InfoLevel
	// WarnLevel is for warning messages
	WarnLevel
	// ErrorLevel is for error messages
	ErrorLevel
)

// String returns the string representation of a log level
func (l Level) String() string {
	switch l {
	case DebugLevel:
		return "DEBUG"
	case InfoLevel:
		return "INFO"
	case WarnLevel:
		return "WARN"
	case ErrorLevel:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel parses a level name such as "debug" or "WARN"
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return DebugLevel, nil
	case "", "info":
		return InfoLevel, nil
	case "warn", "warning":
		return WarnLevel, nil
	case "error":
		return ErrorLevel, nil
	default:
		return InfoLevel, fmt.Errorf("unknown log level %q", s)
	}
}

// Field represents a key-value pair for structured logging
type Field struct {
	Key   string
	Value interface{}
}

// String creates a string field
func String(key, value string) Field {
	return Field{Key: key, Value: value}
}

// Int creates an integer field
func Int(key string, value int) Field {
	return Field{Key: key, Value: value}
}

// Bool creates a boolean field
func Bool(key string, value bool) Field {
	return Field{Key: key, Value: value}
}

// ErrorField creates an error field
func ErrorField(err error) Field {
	return Field{Key: "error", Value: err}
}

// Duration creates a duration field
func Duration(key string, value time.Duration) Field {
	return Field{Key: key, Value: value}
}

// Any creates a field with any value
func Any(key string, value interface{}) Field {
	return Field{Key: key, Value: value}
}

// Component names the harness component emitting the entry
func Component(name string) Field {
	return Field{Key: "component", Value: name}
}

// Logger is the interface for structured logging
type Logger interface {
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
	Error(msg string, fields ...Field)

	// WithFields returns a new logger with additional fields
	WithFields(fields ...Field) Logger
	// WithContext returns a new logger carrying the run ID found in ctx
	WithContext(ctx context.Context) Logger
	// WithError returns a new logger with error context
	WithError(err error) Logger

	SetLevel(level Level)
	GetLevel() Level
}

// Entry represents a log entry
type Entry struct {
	Level     Level
	Message   string
	Fields    map[string]interface{}
	Timestamp time.Time
	RunID     string
	Component string
	Phase     string
}

// Formatter formats log entries
type Formatter interface {
	Format(entry *Entry) ([]byte, error)
}

type baseLogger struct {
	mu        *sync.Mutex
	level     *levelBox
	output    io.Writer
	formatter Formatter
	fields    map[string]interface{}
}

// levelBox is shared between a logger and the loggers derived from it so
// SetLevel on the root affects every child.
type levelBox struct {
	mu    sync.RWMutex
	level Level
}

// New creates a new structured logger
func New(output io.Writer, formatter Formatter) Logger {
	if output == nil {
		output = os.Stderr
	}
	if formatter == nil {
		formatter = NewTextFormatter()
	}

	return &baseLogger{
		mu:        &sync.Mutex{},
		level:     &levelBox{level: InfoLevel},
		output:    output,
		formatter: formatter,
		fields:    make(map[string]interface{}),
	}
}

// NewNop returns a logger that discards everything
func NewNop() Logger {
	l := New(io.Discard, NewTextFormatter())
	l.SetLevel(ErrorLevel + 1)
	return l
}

func (l *baseLogger) Debug(msg string, fields ...Field) { l.log(DebugLevel, msg, fields...) }
func (l *baseLogger) Info(msg string, fields ...Field)  { l.log(InfoLevel, msg, fields...) }
func (l *baseLogger) Warn(msg string, fields ...Field)  { l.log(WarnLevel, msg, fields...) }
func (l *baseLogger) Error(msg string, fields ...Field) { l.log(ErrorLevel, msg, fields...) }

// WithFields returns a new logger with additional fields
func (l *baseLogger) WithFields(fields ...Field) Logger {
	newFields := make(map[string]interface{}, len(l.fields)+len(fields))
	for k, v := range l.fields {
		newFields[k] = v
	}
	for _, field := range fields {
		newFields[field.Key] = field.Value
	}

	return &baseLogger{
		mu:        l.mu,
		level:     l.level,
		output:    l.output,
		formatter: l.formatter,
		fields:    newFields,
	}
}

// WithContext returns a new logger with context fields
func (l *baseLogger) WithContext(ctx context.Context) Logger {
	if runID := RunIDFromContext(ctx); runID != "" {
		return l.WithFields(String("run_id", runID))
	}
	return l
}

// WithError returns a new logger with error context
func (l *baseLogger) WithError(err error) Logger {
	fields := []Field{ErrorField(err)}

	if he, ok := pcerrors.AsHarnessError(err); ok {
		fields = append(fields,
			String("error_code", pcerrors.CodeName(he.Code())),
			String("error_category", string(he.Category())),
		)
		if ctx := he.Context(); ctx != nil {
			if ctx.Phase != "" {
				fields = append(fields, String("phase", ctx.Phase))
			}
			if ctx.Endpoint != "" {
				fields = append(fields, String("endpoint", ctx.Endpoint))
			}
		}
	}

	return l.WithFields(fields...)
}

// SetLevel sets the minimum log level
func (l *baseLogger) SetLevel(level Level) {
	l.level.mu.Lock()
	defer l.level.mu.Unlock()
	l.level.level = level
}

// GetLevel returns the current log level
func (l *baseLogger) GetLevel() Level {
	l.level.mu.RLock()
	defer l.level.mu.RUnlock()
	return l.level.level
}

func (l *baseLogger) log(level Level, msg string, fields ...Field) {
	if level < l.GetLevel() {
		return
	}

	entry := &Entry{
		Level:     level,
		Message:   msg,
		Fields:    make(map[string]interface{}, len(l.fields)+len(fields)),
		Timestamp: time.Now(),
	}
	for k, v := range l.fields {
		entry.Fields[k] = v
	}
	for _, field := range fields {
		entry.Fields[field.Key] = field.Value
	}

	if runID, ok := entry.Fields["run_id"].(string); ok {
		entry.RunID = runID
	}
	if component, ok := entry.Fields["component"].(string); ok {
		entry.Component = component
	}
	if phase, ok := entry.Fields["phase"].(string); ok {
		entry.Phase = phase
	}

	data, err := l.formatter.Format(entry)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to format log entry: %v\n", err)
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, err := l.output.Write(data); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to write log entry: %v\n", err)
	}
}
