// Package logger writes connection and statement diagnostics as colored text
// or JSON lines.
package logger

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"
)

const (
	ansiReset  = "\033[0m"
	ansiRed    = "\033[31m"
	ansiGreen  = "\033[32m"
	ansiYellow = "\033[33m"
	ansiCyan   = "\033[36m"
)

// Level defines the severity threshold.
type Level int

const (
	LevelSilent Level = iota
	LevelError
	LevelWarn
	LevelInfo
	LevelDebug
)

var levelNames = map[string]Level{
	"silent": LevelSilent,
	"error":  LevelError,
	"warn":   LevelWarn,
	"info":   LevelInfo,
	"debug":  LevelDebug,
}

// ParseLevel maps a configuration string to a Level.
func ParseLevel(s string) (Level, error) {
	if l, ok := levelNames[strings.ToLower(strings.TrimSpace(s))]; ok {
		return l, nil
	}
	return LevelSilent, fmt.Errorf("logger: unknown level %q", s)
}

// Format defines the output encoding.
type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
)

// Logger is the sink for connection and statement diagnostics.
type Logger interface {
	SetLevel(level Level)
	SetFormat(format Format)
	SetOutput(w io.Writer)
	WithFields(fields map[string]any) Logger
	Debug(format string, args ...any)
	Info(format string, args ...any)
	Warn(format string, args ...any)
	Error(format string, args ...any)
	// Statement traces one round trip to the backend at debug level. err is
	// nil on success.
	Statement(query string, duration time.Duration, err error, args ...any)
}

// shared holds the settings every derived logger sees.
type shared struct {
	mu     sync.Mutex
	level  Level
	format Format
	writer io.Writer
}

type stdLogger struct {
	*shared
	fields map[string]any
}

// New creates a text logger at info level writing to stdout.
func New() Logger {
	return &stdLogger{
		shared: &shared{level: LevelInfo, format: FormatText, writer: os.Stdout},
		fields: make(map[string]any),
	}
}

// Discard returns a logger that drops everything.
func Discard() Logger {
	l := New()
	l.SetLevel(LevelSilent)
	l.SetOutput(io.Discard)
	return l
}

// SetLevelOutput configures level and destination in one call.
func SetLevelOutput(l Logger, level Level, w io.Writer) Logger {
	l.SetLevel(level)
	if w != nil {
		l.SetOutput(w)
	}
	return l
}

func (l *stdLogger) SetLevel(level Level) {
	l.mu.Lock()
	l.level = level
	l.mu.Unlock()
}

func (l *stdLogger) SetFormat(format Format) {
	l.mu.Lock()
	l.format = format
	l.mu.Unlock()
}

func (l *stdLogger) SetOutput(w io.Writer) {
	l.mu.Lock()
	l.writer = w
	l.mu.Unlock()
}

func (l *stdLogger) WithFields(fields map[string]any) Logger {
	merged := make(map[string]any, len(l.fields)+len(fields))
	for k, v := range l.fields {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}
	return &stdLogger{shared: l.shared, fields: merged}
}

func (l *stdLogger) enabled(level Level) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.level >= level
}

func (l *stdLogger) Debug(format string, args ...any) {
	if l.enabled(LevelDebug) {
		l.log("DEBUG", fmt.Sprintf(format, args...), nil)
	}
}

func (l *stdLogger) Info(format string, args ...any) {
	if l.enabled(LevelInfo) {
		l.log("INFO", fmt.Sprintf(format, args...), nil)
	}
}

func (l *stdLogger) Warn(format string, args ...any) {
	if l.enabled(LevelWarn) {
		l.log("WARN", fmt.Sprintf(format, args...), nil)
	}
}

func (l *stdLogger) Error(format string, args ...any) {
	if l.enabled(LevelError) {
		l.log("ERROR", fmt.Sprintf(format, args...), nil)
	}
}

func (l *stdLogger) Statement(query string, duration time.Duration, err error, args ...any) {
	if !l.enabled(LevelDebug) {
		return
	}
	extra := map[string]any{"sql": query, "duration": duration.String(), "args": args}
	if err != nil {
		extra["error"] = err.Error()
	}
	l.log("SQL", "", extra)
}

func (l *stdLogger) log(level, msg string, extra map[string]any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := time.Now()

	if l.format == FormatJSON {
		data := make(map[string]any, len(l.fields)+len(extra)+3)
		for k, v := range l.fields {
			data[k] = v
		}
		for k, v := range extra {
			data[k] = v
		}
		data["time"] = now.Format(time.RFC3339)
		data["level"] = level
		if msg != "" {
			data["msg"] = msg
		}
		json.NewEncoder(l.writer).Encode(data)
		return
	}

	if extra != nil {
		q, _ := extra["sql"].(string)
		msg = fmt.Sprintf("%s[%v] %s | args: %v%s", sqlColor(q), extra["duration"], q, extra["args"], ansiReset)
		if e, ok := extra["error"]; ok {
			msg += fmt.Sprintf(" | error: %v", e)
		}
	}
	fieldStr := ""
	if len(l.fields) > 0 {
		fieldStr = fmt.Sprintf(" fields: %v", l.fields)
	}
	fmt.Fprintf(l.writer, "[DBO] %s %s: %s%s\n", now.Format("2006-01-02 15:04:05"), level, msg, fieldStr)
}

func sqlColor(q string) string {
	s := strings.TrimSpace(strings.ToUpper(q))
	switch {
	case strings.HasPrefix(s, "SELECT"), strings.HasPrefix(s, "FETCH"):
		return ansiYellow
	case strings.HasPrefix(s, "INSERT"), strings.HasPrefix(s, "UPDATE"):
		return ansiGreen
	case strings.HasPrefix(s, "DELETE"), strings.HasPrefix(s, "DEALLOCATE"):
		return ansiRed
	default:
		return ansiCyan
	}
}
