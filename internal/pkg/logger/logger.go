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

// ParseLevel maps a level name to a Level. Unknown names default to INFO.
func ParseLevel(name string) Level {
	switch strings.ToUpper(strings.TrimSpace(name)) {
	case "DEBUG":
		return DEBUG
	case "WARN", "WARNING":
		return WARN
	case "ERROR":
		return ERROR
	default:
		return INFO
	}
}

// Logger provides leveled logging with mandatory sanitization. Every value
// passes through the sanitizer before it reaches any sink, console and
// structured alike.
type Logger struct {
	mu         sync.Mutex
	level      Level
	structured bool
	console    bool
	out        io.Writer
}

var defaultLogger = &Logger{level: INFO, console: true, out: os.Stderr}

// Configure sets level and output modes for the default logger.
func Configure(level Level, structured, console bool) {
	defaultLogger.mu.Lock()
	defer defaultLogger.mu.Unlock()
	defaultLogger.level = level
	defaultLogger.structured = structured
	defaultLogger.console = console
}

// SetOutput redirects the default logger. Used by tests.
func SetOutput(w io.Writer) {
	defaultLogger.mu.Lock()
	defer defaultLogger.mu.Unlock()
	defaultLogger.out = w
}

// Debug emits a DEBUG-level log entry.
func Debug(msg string, fields ...interface{}) { defaultLogger.log(DEBUG, msg, fields...) }

// Info emits an INFO-level log entry.
func Info(msg string, fields ...interface{}) { defaultLogger.log(INFO, msg, fields...) }

// Warn emits a WARN-level log entry.
func Warn(msg string, fields ...interface{}) { defaultLogger.log(WARN, msg, fields...) }

// Error emits an ERROR-level log entry.
func Error(msg string, fields ...interface{}) { defaultLogger.log(ERROR, msg, fields...) }

func (l *Logger) log(level Level, msg string, fields ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if level < l.level {
		return
	}

	msg = Sanitize(msg)

	entry := map[string]interface{}{
		"time":  time.Now().UTC().Format(time.RFC3339),
		"level": levelNames[level],
		"msg":   msg,
	}

	var flat strings.Builder
	for i := 0; i < len(fields)-1; i += 2 {
		key := fmt.Sprintf("%v", fields[i])
		val := fmt.Sprintf("%v", fields[i+1])
		if IsSensitiveKey(key) {
			val = "[REDACTED]"
		} else {
			val = Sanitize(val)
		}
		entry[key] = val
		fmt.Fprintf(&flat, " %s=%s", key, val)
	}

	if l.structured {
		data, _ := json.Marshal(entry)
		fmt.Fprintln(l.out, string(data))
	}
	if l.console {
		fmt.Fprintf(l.out, "%s %s %s%s\n", entry["time"], levelNames[level], msg, flat.String())
	}
}
