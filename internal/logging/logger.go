// Package logging provides the levelled, prefixed logger shared by every
// locutusfs component.
package logging

import (
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"sync"
)

// LogLevel represents different logging levels
type LogLevel int

const (
	// LevelError only logs errors
	LevelError LogLevel = iota
	// LevelWarn logs warnings and errors
	LevelWarn
	// LevelInfo logs general information, warnings and errors
	LevelInfo
	// LevelDebug logs detailed debug information and all above
	LevelDebug
	// LevelTrace logs table and walk level detail and all above
	LevelTrace
)

var levelNames = map[LogLevel]string{
	LevelError: "ERROR",
	LevelWarn:  "WARN",
	LevelInfo:  "INFO",
	LevelDebug: "DEBUG",
	LevelTrace: "TRACE",
}

// String returns the upper-case level name.
func (l LogLevel) String() string {
	if name, ok := levelNames[l]; ok {
		return name
	}
	return fmt.Sprintf("LEVEL(%d)", int(l))
}

// ParseLevel converts a level name such as "debug" or "TRACE" to a LogLevel.
func ParseLevel(name string) (LogLevel, error) {
	upper := strings.ToUpper(strings.TrimSpace(name))
	for level, levelName := range levelNames {
		if levelName == upper {
			return level, nil
		}
	}
	return LevelInfo, fmt.Errorf("unknown log level %q", name)
}

// Logger writes levelled messages. Loggers derived with WithPrefix share the
// level of the logger they were derived from.
type Logger struct {
	level  *levelHolder
	prefix string
	logger *log.Logger
}

type levelHolder struct {
	mu    sync.RWMutex
	value LogLevel
}

var (
	defaultLogger *Logger
	once          sync.Once
)

// GetLogger returns the process-wide root logger.
func GetLogger() *Logger {
	once.Do(func() {
		defaultLogger = NewLogger("LFS", os.Stdout)

		if name := os.Getenv("LFS_LOG_LEVEL"); name != "" {
			if level, err := ParseLevel(name); err == nil {
				defaultLogger.SetLevel(level)
			}
		}
	})
	return defaultLogger
}

// NewLogger creates a new logger with the given prefix writing to out
func NewLogger(prefix string, out io.Writer) *Logger {
	flags := log.Ldate | log.Ltime | log.Lmicroseconds | log.LUTC
	if os.Getenv("LOG_LONGFILE") != "" {
		flags |= log.Llongfile
	} else {
		flags |= log.Lshortfile
	}

	return &Logger{
		level:  &levelHolder{value: LevelInfo},
		prefix: prefix,
		logger: log.New(out, "", flags),
	}
}

// SetLevel sets the logging level for this logger and every logger sharing it
func (l *Logger) SetLevel(level LogLevel) {
	l.level.mu.Lock()
	defer l.level.mu.Unlock()
	l.level.value = level
}

// SetOutput redirects this logger and every logger sharing it
func (l *Logger) SetOutput(w io.Writer) {
	l.logger.SetOutput(w)
}

// Level returns the current logging level
func (l *Logger) Level() LogLevel {
	l.level.mu.RLock()
	defer l.level.mu.RUnlock()
	return l.level.value
}

func (l *Logger) shouldLog(level LogLevel) bool {
	return level <= l.Level()
}

func (l *Logger) log(level LogLevel, format string, args ...interface{}) {
	if !l.shouldLog(level) {
		return
	}

	msg := fmt.Sprintf(format, args...)
	line := fmt.Sprintf("%s: [%s] %s", l.prefix, levelNames[level], msg)
	if err := l.logger.Output(3, line); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to write log message: %v\n", err)
	}
}

// Error logs an error message
func (l *Logger) Error(format string, args ...interface{}) {
	l.log(LevelError, format, args...)
}

// Warn logs a warning message
func (l *Logger) Warn(format string, args ...interface{}) {
	l.log(LevelWarn, format, args...)
}

// Info logs an informational message
func (l *Logger) Info(format string, args ...interface{}) {
	l.log(LevelInfo, format, args...)
}

// Debug logs a debug message
func (l *Logger) Debug(format string, args ...interface{}) {
	l.log(LevelDebug, format, args...)
}

// Trace logs a trace message
func (l *Logger) Trace(format string, args ...interface{}) {
	l.log(LevelTrace, format, args...)
}

// WithPrefix derives a component logger, e.g. "LFS/table".
func (l *Logger) WithPrefix(prefix string) *Logger {
	return &Logger{
		level:  l.level,
		prefix: l.prefix + "/" + prefix,
		logger: l.logger,
	}
}
