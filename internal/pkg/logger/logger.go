// Package logger emits structured JSON log lines with email redaction.
//
// Package-level functions write through the default logger. Run-scoped
// code binds recurring fields (run_id, workspace) once with With and logs
// through the returned *Entry.
package logger

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"
	"sync"
	"time"
)

// Level represents the severity of a log entry.
type Level int

const (
	DEBUG Level = iota
	INFO
	WARN
	ERROR
)

var levelNames = map[Level]string{
	DEBUG: "DEBUG",
	INFO:  "INFO",
	WARN:  "WARN",
	ERROR: "ERROR",
}

// ParseLevel maps a config string ("debug", "warn", ...) to a Level.
// Unknown values fall back to INFO.
func ParseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return DEBUG
	case "warn", "warning":
		return WARN
	case "error":
		return ERROR
	default:
		return INFO
	}
}

// Logger provides structured JSON logging with optional PII redaction.
type Logger struct {
	level     Level
	mu        sync.Mutex
	out       io.Writer
	redactPII bool
}

var defaultLogger = &Logger{level: INFO, out: os.Stderr, redactPII: true}

// SetLevel sets the minimum log level for the default logger.
func SetLevel(l Level) { defaultLogger.level = l }

// SetRedactPII enables or disables PII redaction for the default logger.
func SetRedactPII(r bool) { defaultLogger.redactPII = r }

// SetOutput redirects the default logger. Tests use it to capture lines.
func SetOutput(w io.Writer) {
	defaultLogger.mu.Lock()
	defaultLogger.out = w
	defaultLogger.mu.Unlock()
}

// Debug emits a DEBUG-level structured log entry.
func Debug(msg string, fields ...interface{}) { defaultLogger.log(DEBUG, msg, nil, fields) }

// Info emits an INFO-level structured log entry.
func Info(msg string, fields ...interface{}) { defaultLogger.log(INFO, msg, nil, fields) }

// Warn emits a WARN-level structured log entry.
func Warn(msg string, fields ...interface{}) { defaultLogger.log(WARN, msg, nil, fields) }

// Error emits an ERROR-level structured log entry.
func Error(msg string, fields ...interface{}) { defaultLogger.log(ERROR, msg, nil, fields) }

// Entry is a logger with fields bound to every line it writes.
type Entry struct {
	l     *Logger
	bound []interface{}
}

// With returns an Entry that prefixes every line with the given key-value pairs.
func With(fields ...interface{}) *Entry {
	return &Entry{l: defaultLogger, bound: append([]interface{}(nil), fields...)}
}

// With returns a child Entry carrying both the parent's and the new fields.
func (e *Entry) With(fields ...interface{}) *Entry {
	bound := make([]interface{}, 0, len(e.bound)+len(fields))
	bound = append(bound, e.bound...)
	bound = append(bound, fields...)
	return &Entry{l: e.l, bound: bound}
}

func (e *Entry) Debug(msg string, fields ...interface{}) { e.l.log(DEBUG, msg, e.bound, fields) }
func (e *Entry) Info(msg string, fields ...interface{})  { e.l.log(INFO, msg, e.bound, fields) }
func (e *Entry) Warn(msg string, fields ...interface{})  { e.l.log(WARN, msg, e.bound, fields) }
func (e *Entry) Error(msg string, fields ...interface{}) { e.l.log(ERROR, msg, e.bound, fields) }

func (l *Logger) log(level Level, msg string, bound, fields []interface{}) {
	if level < l.level {
		return
	}

	entry := map[string]interface{}{
		"time":  time.Now().UTC().Format(time.RFC3339),
		"level": levelNames[level],
		"msg":   msg,
	}
	l.addFields(entry, bound)
	l.addFields(entry, fields)

	data, _ := json.Marshal(entry)
	l.mu.Lock()
	fmt.Fprintln(l.out, string(data))
	l.mu.Unlock()
}

// addFields parses key-value pairs; a trailing key without a value is dropped.
func (l *Logger) addFields(entry map[string]interface{}, fields []interface{}) {
	for i := 0; i < len(fields)-1; i += 2 {
		key := fmt.Sprintf("%v", fields[i])
		var val string
		if err, ok := fields[i+1].(error); ok && err != nil {
			val = err.Error()
		} else {
			val = fmt.Sprintf("%v", fields[i+1])
		}
		if l.redactPII {
			val = redactPIIValue(key, val)
		}
		entry[key] = val
	}
}

var emailRegex = regexp.MustCompile(`[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`)

func redactPIIValue(key, val string) string {
	// Email fields are masked wholesale; account ids on some platforms are
	// addresses too, so every other field is scanned for embedded ones.
	if strings.Contains(strings.ToLower(key), "email") && val != "" && !strings.ContainsAny(val, " ,") {
		return RedactEmail(val)
	}
	return emailRegex.ReplaceAllStringFunc(val, RedactEmail)
}

// RedactEmail masks an address for safe logging: "john.doe@example.com"
// becomes "jo***@example.com"; local parts of two characters or fewer are
// masked entirely.
func RedactEmail(email string) string {
	local, domain, ok := strings.Cut(email, "@")
	if !ok || strings.Contains(domain, "@") {
		return "***@***"
	}
	if len(local) > 2 {
		return local[:2] + "***@" + domain
	}
	return "***@" + domain
}
