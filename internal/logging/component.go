package logging

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"time"
)

// Level represents the severity of a log message.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

var (
	defaultLogger *componentLogger
	defaultOnce   sync.Once
)

// componentLogger writes timestamped, level-filtered lines to mira-debug.log
// and mirrors them to stdout.
type componentLogger struct {
	file      *os.File
	out       *log.Logger
	level     Level
	mu        sync.Mutex
	component string
}

// NewComponentLogger returns the shared application logger scoped to a component.
func NewComponentLogger(component string) Logger {
	defaultOnce.Do(func() {
		defaultLogger = newComponentLogger(levelFromEnv())
	})
	return &componentLogger{
		file:      defaultLogger.file,
		out:       defaultLogger.out,
		level:     defaultLogger.level,
		component: component,
	}
}

func newComponentLogger(level Level) *componentLogger {
	l := &componentLogger{level: level}

	home, err := os.UserHomeDir()
	if err != nil {
		return l
	}
	logPath := filepath.Join(home, "mira-debug.log")
	file, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return l
	}

	l.file = file
	l.out = log.New(file, "", 0)
	return l
}

func levelFromEnv() Level {
	switch os.Getenv("MIRA_LOG_LEVEL") {
	case "debug":
		return LevelDebug
	case "warn":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

func (l *componentLogger) log(level Level, format string, args ...any) {
	if level < l.level {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	component := l.component
	if component == "" {
		component = "mira"
	}

	line := fmt.Sprintf("%s [%s] [%s] %s\n",
		time.Now().Format("2006-01-02 15:04:05"),
		levelString(level),
		component,
		fmt.Sprintf(format, args...),
	)
	line = redactSecrets(line)

	if l.out != nil {
		l.out.Print(line)
	}
	fmt.Print(line)
}

func (l *componentLogger) Debug(format string, args ...any) { l.log(LevelDebug, format, args...) }
func (l *componentLogger) Info(format string, args ...any)  { l.log(LevelInfo, format, args...) }
func (l *componentLogger) Warn(format string, args ...any)  { l.log(LevelWarn, format, args...) }
func (l *componentLogger) Error(format string, args ...any) { l.log(LevelError, format, args...) }

func levelString(level Level) string {
	switch level {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

const redactedPlaceholder = "[REDACTED]"

var (
	bearerTokenPattern = regexp.MustCompile(`(?i)(bearer\s+)([A-Za-z0-9\-\._~+/]+=*)`)
	apiKeyPattern      = regexp.MustCompile(`(?i)((?:api[_-]?key|token|secret|password)["']?\s*[:=]\s*)["']?([^"'\s,;]+)`)
)

// redactSecrets scrubs credential-looking substrings before a line is written.
func redactSecrets(line string) string {
	line = bearerTokenPattern.ReplaceAllString(line, "${1}"+redactedPlaceholder)
	line = apiKeyPattern.ReplaceAllString(line, "${1}"+redactedPlaceholder)
	return line
}
