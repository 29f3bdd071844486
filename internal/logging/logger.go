// Package logging provides the structured JSON logger used across the
// pipeline workers. Order-lifecycle code (handlers, reconciler, order-state
// repository) uses an injected zerolog.Logger instead; everything else logs
// through this package.
package logging

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"
)

// Level represents log severity levels
type Level int

const (
	DEBUG Level = iota
	INFO
	WARN
	ERROR
)

func (l Level) String() string {
	switch l {
	case DEBUG:
		return "DEBUG"
	case INFO:
		return "INFO"
	case WARN:
		return "WARN"
	case ERROR:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel converts a string to a Level, defaulting to INFO.
func ParseLevel(s string) Level {
	switch strings.ToUpper(s) {
	case "DEBUG":
		return DEBUG
	case "INFO":
		return INFO
	case "WARN", "WARNING":
		return WARN
	case "ERROR":
		return ERROR
	default:
		return INFO
	}
}

// Entry is one structured log line.
type Entry struct {
	Timestamp string                 `json:"timestamp"`
	Level     string                 `json:"level"`
	Message   string                 `json:"message"`
	Component string                 `json:"component,omitempty"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
}

// Logger is a leveled structured logger. With* methods return copies; a
// Logger is safe for concurrent use.
type Logger struct {
	mu        sync.Mutex
	output    io.Writer
	level     Level
	component string
	fields    map[string]interface{}
}

// Config holds logger configuration
type Config struct {
	Level     string `json:"level"`
	Output    string `json:"output"` // "stdout", "stderr", or file path
	Component string `json:"component"`
}

var (
	defaultLogger *Logger
	once          sync.Once
)

// New creates a logger from config.
func New(cfg *Config) *Logger {
	var output io.Writer = os.Stdout
	if cfg.Output == "stderr" {
		output = os.Stderr
	} else if cfg.Output != "" && cfg.Output != "stdout" {
		if file, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644); err == nil {
			output = file
		}
	}
	return &Logger{
		output:    output,
		level:     ParseLevel(cfg.Level),
		component: cfg.Component,
		fields:    make(map[string]interface{}),
	}
}

// Default returns the process-wide default logger.
func Default() *Logger {
	once.Do(func() {
		defaultLogger = New(&Config{Level: "INFO", Output: "stdout", Component: "app"})
	})
	return defaultLogger
}

// SetDefault replaces the process-wide default logger.
func SetDefault(l *Logger) { defaultLogger = l }

// WithComponent returns a copy scoped to a component name.
func (l *Logger) WithComponent(component string) *Logger {
	nl := l.clone()
	nl.component = component
	return nl
}

// WithField returns a copy with one additional field.
func (l *Logger) WithField(key string, value interface{}) *Logger {
	nl := l.clone()
	nl.fields[key] = value
	return nl
}

// WithFields returns a copy with additional fields.
func (l *Logger) WithFields(fields map[string]interface{}) *Logger {
	nl := l.clone()
	for k, v := range fields {
		nl.fields[k] = v
	}
	return nl
}

// WithError returns a copy with an error field.
func (l *Logger) WithError(err error) *Logger {
	if err == nil {
		return l
	}
	return l.WithField("error", err.Error())
}

// WithStream returns a copy scoped to a (symbol, timeframe) pair.
func (l *Logger) WithStream(symbol, timeframe string) *Logger {
	nl := l.clone()
	nl.fields["symbol"] = symbol
	nl.fields["timeframe"] = timeframe
	return nl
}

// WithBot returns a copy scoped to a bot id.
func (l *Logger) WithBot(botID string) *Logger {
	return l.WithField("bot_id", botID)
}

func (l *Logger) clone() *Logger {
	fields := make(map[string]interface{}, len(l.fields))
	for k, v := range l.fields {
		fields[k] = v
	}
	return &Logger{
		output:    l.output,
		level:     l.level,
		component: l.component,
		fields:    fields,
	}
}

func (l *Logger) log(level Level, msg string, args ...interface{}) {
	if level < l.level {
		return
	}

	entry := Entry{
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		Level:     level.String(),
		Message:   msg,
		Component: l.component,
	}

	if len(l.fields) > 0 {
		entry.Fields = make(map[string]interface{}, len(l.fields)+len(args)/2)
		for k, v := range l.fields {
			entry.Fields[k] = v
		}
	}

	// args are key-value pairs: ("symbol", "BTCUSDT", "count", 3)
	if len(args) >= 2 {
		if entry.Fields == nil {
			entry.Fields = make(map[string]interface{}, len(args)/2)
		}
		for i := 0; i+1 < len(args); i += 2 {
			key, ok := args[i].(string)
			if !ok {
				continue
			}
			if err, isErr := args[i+1].(error); isErr {
				if err != nil {
					entry.Fields[key] = err.Error()
				}
				continue
			}
			entry.Fields[key] = args[i+1]
		}
	} else if len(args) == 1 {
		entry.Message = fmt.Sprintf("%s %v", msg, args[0])
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	data, _ := json.Marshal(entry)
	fmt.Fprintln(l.output, string(data))
}

// Debug logs a debug message.
func (l *Logger) Debug(msg string, args ...interface{}) { l.log(DEBUG, msg, args...) }

// Info logs an info message.
func (l *Logger) Info(msg string, args ...interface{}) { l.log(INFO, msg, args...) }

// Warn logs a warning message.
func (l *Logger) Warn(msg string, args ...interface{}) { l.log(WARN, msg, args...) }

// Error logs an error message.
func (l *Logger) Error(msg string, args ...interface{}) { l.log(ERROR, msg, args...) }
