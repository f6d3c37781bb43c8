package events

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
)

// LogLevel represents logging severity.
type LogLevel int

const (
	DebugLevel LogLevel = iota
	InfoLevel
	WarnLevel
	ErrorLevel
)

func (l LogLevel) String() string {
	switch l {
	case DebugLevel:
		return "debug"
	case InfoLevel:
		return "info"
	case WarnLevel:
		return "warn"
	default:
		return "error"
	}
}

// ParseLevel maps a config string to a level, defaulting to info.
func ParseLevel(s string) LogLevel {
	switch strings.ToLower(s) {
	case "debug":
		return DebugLevel
	case "warn", "warning":
		return WarnLevel
	case "error":
		return ErrorLevel
	default:
		return InfoLevel
	}
}

var levelColors = map[LogLevel]*color.Color{
	DebugLevel: color.New(color.FgHiBlack),
	InfoLevel:  color.New(color.FgCyan),
	WarnLevel:  color.New(color.FgYellow),
	ErrorLevel: color.New(color.FgRed),
}

// Logger provides leveled, field-structured logging in text or json
// format.
type Logger struct {
	mu     *sync.Mutex
	level  LogLevel
	format string
	colors bool
	output io.Writer
	fields map[string]interface{}
}

// NewLogger creates a logger writing to output. Format is "text" or
// "json".
func NewLogger(level LogLevel, format string, output io.Writer) *Logger {
	if output == nil {
		output = os.Stderr
	}
	return &Logger{
		mu:     &sync.Mutex{},
		level:  level,
		format: format,
		colors: output == os.Stderr || output == os.Stdout,
		output: output,
		fields: map[string]interface{}{},
	}
}

// NewTestLogger creates a discard logger for tests.
func NewTestLogger() *Logger {
	return NewLogger(ErrorLevel, "text", io.Discard)
}

// WithField returns a logger carrying an additional field.
func (l *Logger) WithField(key string, value interface{}) *Logger {
	return l.WithFields(map[string]interface{}{key: value})
}

// WithFields returns a logger carrying additional fields.
func (l *Logger) WithFields(fields map[string]interface{}) *Logger {
	merged := make(map[string]interface{}, len(l.fields)+len(fields))
	for k, v := range l.fields {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}
	clone := *l
	clone.fields = merged
	return &clone
}

// WithError adds an error field.
func (l *Logger) WithError(err error) *Logger {
	return l.WithField("error", err.Error())
}

func (l *Logger) Debug(msg string) { l.log(DebugLevel, msg) }
func (l *Logger) Info(msg string)  { l.log(InfoLevel, msg) }
func (l *Logger) Warn(msg string)  { l.log(WarnLevel, msg) }
func (l *Logger) Error(msg string) { l.log(ErrorLevel, msg) }

func (l *Logger) log(level LogLevel, msg string) {
	if level < l.level {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now().UTC()

	if l.format == "json" {
		entry := map[string]interface{}{
			"time":  now.Format(time.RFC3339Nano),
			"level": level.String(),
			"msg":   msg,
		}
		for k, v := range l.fields {
			entry[k] = v
		}
		b, err := json.Marshal(entry)
		if err != nil {
			fmt.Fprintf(l.output, "{\"level\":\"error\",\"msg\":\"marshal log entry: %v\"}\n", err)
			return
		}
		fmt.Fprintln(l.output, string(b))
		return
	}

	lvl := strings.ToUpper(level.String())
	if l.colors {
		lvl = levelColors[level].Sprint(lvl)
	}
	fmt.Fprintf(l.output, "%s %-5s %s%s\n",
		now.Format("2006-01-02T15:04:05.000"), lvl, msg, l.fieldString())
}

func (l *Logger) fieldString() string {
	if len(l.fields) == 0 {
		return ""
	}
	keys := make([]string, 0, len(l.fields))
	for k := range l.fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&sb, " %s=%v", k, l.fields[k])
	}
	return sb.String()
}
