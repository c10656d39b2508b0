package logging

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// TextFormatter formats log entries as human-readable lines:
//
//	2006-01-02 15:04:05.000 [WARN] [run-id] serve/accept: Incoming connection failed | slot=2
type TextFormatter struct {
	TimestampFormat  string
	DisableColors    bool
	DisableTimestamp bool
}

// NewTextFormatter creates a new text formatter
func NewTextFormatter() *TextFormatter {
	return &TextFormatter{
		TimestampFormat: "2006-01-02 15:04:05.000",
	}
}

// Format formats a log entry as text
func (f *TextFormatter) Format(entry *Entry) ([]byte, error) {
	var buf bytes.Buffer

	if !f.DisableTimestamp {
		buf.WriteString(entry.Timestamp.Format(f.TimestampFormat))
		buf.WriteByte(' ')
	}

	levelText := "[" + entry.Level.String() + "]"
	if !f.DisableColors {
		levelText = colorLevel(entry.Level, levelText)
	}
	buf.WriteString(levelText)
	buf.WriteByte(' ')

	if entry.RunID != "" {
		fmt.Fprintf(&buf, "[%s] ", entry.RunID)
	}

	if entry.Component != "" {
		buf.WriteString(entry.Component)
		if entry.Phase != "" {
			buf.WriteByte('/')
			buf.WriteString(entry.Phase)
		}
		buf.WriteString(": ")
	}

	buf.WriteString(entry.Message)

	if pairs := f.formatFields(entry); pairs != "" {
		buf.WriteString(" | ")
		buf.WriteString(pairs)
	}

	buf.WriteByte('\n')
	return buf.Bytes(), nil
}

func (f *TextFormatter) formatFields(entry *Entry) string {
	skip := map[string]bool{"run_id": true}
	if entry.Component != "" {
		skip["component"] = true
		if entry.Phase != "" {
			skip["phase"] = true
		}
	}

	pairs := make([]string, 0, len(entry.Fields))
	for k, v := range entry.Fields {
		if skip[k] {
			continue
		}

		var valueStr string
		switch val := v.(type) {
		case error:
			valueStr = val.Error()
		case string:
			valueStr = val
		default:
			valueStr = fmt.Sprintf("%v", v)
		}
		if strings.ContainsAny(valueStr, " \n\t") {
			valueStr = fmt.Sprintf("%q", valueStr)
		}

		pairs = append(pairs, k+"="+valueStr)
	}
	sort.Strings(pairs)

	return strings.Join(pairs, " ")
}

func colorLevel(level Level, text string) string {
	const (
		red    = "\033[31m"
		yellow = "\033[33m"
		blue   = "\033[34m"
		gray   = "\033[90m"
		reset  = "\033[0m"
	)

	switch level {
	case DebugLevel:
		return gray + text + reset
	case InfoLevel:
		return blue + text + reset
	case WarnLevel:
		return yellow + text + reset
	case ErrorLevel:
		return red + text + reset
	default:
		return text
	}
}

// JSONFormatter formats log entries as one JSON object per line
type JSONFormatter struct {
	TimestampFormat  string
	DisableTimestamp bool
}

// NewJSONFormatter creates a new JSON formatter
func NewJSONFormatter() *JSONFormatter {
	return &JSONFormatter{
		TimestampFormat: "2006-01-02T15:04:05.000Z07:00",
	}
}

// Format formats a log entry as JSON
func (f *JSONFormatter) Format(entry *Entry) ([]byte, error) {
	data := make(map[string]interface{}, len(entry.Fields)+3)

	for k, v := range entry.Fields {
		if err, ok := v.(error); ok {
			data[k] = err.Error()
		} else {
			data[k] = v
		}
	}
	data["level"] = entry.Level.String()
	data["message"] = entry.Message
	if !f.DisableTimestamp {
		data["timestamp"] = entry.Timestamp.Format(f.TimestampFormat)
	}

	out, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal log entry: %w", err)
	}
	return append(out, '\n'), nil
}

// NewFormatter returns the formatter for a config format name ("text" or "json")
func NewFormatter(format string) (Formatter, error) {
	switch strings.ToLower(format) {
	case "", "text":
		return NewTextFormatter(), nil
	case "json":
		return NewJSONFormatter(), nil
	default:
		return nil, fmt.Errorf("unknown log format %q", format)
	}
}
