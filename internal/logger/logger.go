// Package logger provides the structured, subscribable logger used by
// both the bridge and the agent processes. It follows the teacher's
// pkg/logger design: leveled entries fanned out to subscriber
// channels, with terminal color detection for console output. Log
// rotation and file output formatting are external concerns (spec.md
// §1) and are not implemented here.
package logger

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"time"
)

// Level is a log severity.
type Level string

const (
	Debug Level = "DEBUG"
	Info  Level = "INFO"
	Warn  Level = "WARN"
	Error Level = "ERROR"
	Fatal Level = "FATAL"
)

var levelRank = map[Level]int{Debug: 0, Info: 1, Warn: 2, Error: 3, Fatal: 4}

// Entry is a single log record.
type Entry struct {
	Time    time.Time
	Level   Level
	Message string
	Fields  map[string]string
}

// Logger is a per-process leveled logger with subscriber fan-out.
type Logger struct {
	serviceName string
	minLevel    Level

	mu          sync.RWMutex
	subscribers []chan Entry
	colorOn     bool
	quiet       bool
}

// New creates a logger for serviceName, writing entries at or above
// minLevel to stdout (unless silenced with SetQuiet). minLevel is
// matched case-insensitively, so the config's "info" means Info.
func New(serviceName string, minLevel Level) *Logger {
	return &Logger{
		serviceName: serviceName,
		minLevel:    Level(strings.ToUpper(string(minLevel))),
		subscribers: make([]chan Entry, 0),
		colorOn:     isTerminal(),
	}
}

func isTerminal() bool {
	if os.Getenv("TERM") == "dumb" {
		return false
	}
	info, err := os.Stdout.Stat()
	if err != nil {
		return false
	}
	return (info.Mode() & os.ModeCharDevice) != 0
}

// SetQuiet suppresses console output while still fanning entries out
// to subscribers — used when an agent's logs are tailed elsewhere.
func (l *Logger) SetQuiet(quiet bool) {
	l.mu.Lock()
	l.quiet = quiet
	l.mu.Unlock()
}

// Subscribe returns a channel receiving every future log entry.
func (l *Logger) Subscribe() <-chan Entry {
	ch := make(chan Entry, 100)
	l.mu.Lock()
	l.subscribers = append(l.subscribers, ch)
	l.mu.Unlock()
	return ch
}

func (l *Logger) log(level Level, msg string, fields map[string]string) {
	if levelRank[level] < levelRank[l.minLevel] {
		return
	}

	entry := Entry{Time: time.Now(), Level: level, Message: msg, Fields: fields}

	l.mu.RLock()
	quiet := l.quiet
	color := l.colorOn
	subs := l.subscribers
	l.mu.RUnlock()

	if !quiet {
		fmt.Fprintln(os.Stdout, format(l.serviceName, entry, color))
	}
	for _, ch := range subs {
		select {
		case ch <- entry:
		default:
		}
	}
}

func format(service string, e Entry, color bool) string {
	prefix := colorFor(e.Level, color)
	reset := ""
	if color {
		reset = colorReset
	}
	return fmt.Sprintf("%s%s [%-5s] %-16s %s%s", prefix, e.Time.Format(time.RFC3339), e.Level, service, e.Message, reset)
}

const colorReset = "\033[0m"

func colorFor(level Level, enabled bool) string {
	if !enabled {
		return ""
	}
	switch level {
	case Debug:
		return "\033[90m"
	case Info:
		return "\033[32m"
	case Warn:
		return "\033[93m"
	case Error, Fatal:
		return "\033[91m"
	default:
		return ""
	}
}

func (l *Logger) Debugf(format string, args ...any) { l.log(Debug, fmt.Sprintf(format, args...), nil) }
func (l *Logger) Infof(format string, args ...any)  { l.log(Info, fmt.Sprintf(format, args...), nil) }
func (l *Logger) Warnf(format string, args ...any)  { l.log(Warn, fmt.Sprintf(format, args...), nil) }
func (l *Logger) Errorf(format string, args ...any) { l.log(Error, fmt.Sprintf(format, args...), nil) }

// With attaches structured fields to the next logged message.
func (l *Logger) With(fields map[string]string) *Fielded {
	return &Fielded{l: l, fields: fields}
}

// Fielded is a logger view carrying a fixed field set.
type Fielded struct {
	l      *Logger
	fields map[string]string
}

func (f *Fielded) Infof(format string, args ...any) {
	f.l.log(Info, fmt.Sprintf(format, args...), f.fields)
}

func (f *Fielded) Errorf(format string, args ...any) {
	f.l.log(Error, fmt.Sprintf(format, args...), f.fields)
}
