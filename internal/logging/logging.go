package logging

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"time"
)

// Level represents a log level
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

// String returns the string representation of the level
func (l Level) String() string {
	switch l {
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

// ParseLevel parses a level string
func ParseLevel(s string) Level {
	switch s {
	case "debug":
		return LevelDebug
	case "info":
		return LevelInfo
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

// Logger is a leveled logger. Loggers derived with Named share the
// output and the owning file handle of their parent.
type Logger struct {
	level     Level
	component string
	file      *os.File
	logger    *log.Logger
	now       func() time.Time
}

// Config contains logger configuration
type Config struct {
	Level   string
	File    string
	Console bool
}

// New creates a new logger
func New(cfg Config) (*Logger, error) {
	var writers []io.Writer
	var file *os.File

	if cfg.File != "" {
		dir := filepath.Dir(cfg.File)
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}

		f, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}
		file = f
		writers = append(writers, f)
	}

	if cfg.Console {
		writers = append(writers, os.Stderr)
	}

	if len(writers) == 0 {
		writers = append(writers, os.Stderr)
	}

	l := NewWriter(io.MultiWriter(writers...), cfg.Level)
	l.file = file
	return l, nil
}

// NewWriter creates a logger writing to w at the given level.
func NewWriter(w io.Writer, level string) *Logger {
	return &Logger{
		level:  ParseLevel(level),
		logger: log.New(w, "", 0),
		now:    time.Now,
	}
}

// Nop returns a logger that discards everything.
func Nop() *Logger {
	return NewWriter(io.Discard, "error")
}

// Named returns a child logger that prefixes messages with component.
func (l *Logger) Named(component string) *Logger {
	if l == nil {
		l = Nop()
	}
	child := *l
	if child.component != "" {
		child.component = child.component + "." + component
	} else {
		child.component = component
	}
	// the parent owns the file
	child.file = nil
	return &child
}

// Close closes the logger
func (l *Logger) Close() error {
	if l.file != nil {
		return l.file.Close()
	}
	return nil
}

func (l *Logger) log(level Level, format string, args ...interface{}) {
	if l == nil || level < l.level {
		return
	}

	timestamp := l.now().Format("2006-01-02 15:04:05")
	message := fmt.Sprintf(format, args...)
	if l.component != "" {
		l.logger.Printf("%s [%s] %s: %s", timestamp, level.String(), l.component, message)
		return
	}
	l.logger.Printf("%s [%s] %s", timestamp, level.String(), message)
}

// Debug logs a debug message
func (l *Logger) Debug(format string, args ...interface{}) {
	l.log(LevelDebug, format, args...)
}

// Info logs an info message
func (l *Logger) Info(format string, args ...interface{}) {
	l.log(LevelInfo, format, args...)
}

// Warn logs a warning message
func (l *Logger) Warn(format string, args ...interface{}) {
	l.log(LevelWarn, format, args...)
}

// Error logs an error message
func (l *Logger) Error(format string, args ...interface{}) {
	l.log(LevelError, format, args...)
}

// SetLevel sets the log level
func (l *Logger) SetLevel(level Level) {
	l.level = level
}

// GetLevel returns the current log level
func (l *Logger) GetLevel() Level {
	return l.level
}

var defaultLogger *Logger

// Init initializes the default logger
func Init(cfg Config) error {
	l, err := New(cfg)
	if err != nil {
		return err
	}
	defaultLogger = l
	return nil
}

// Default returns the default logger, or a discarding logger before Init.
func Default() *Logger {
	if defaultLogger == nil {
		return Nop()
	}
	return defaultLogger
}

// Debug logs a debug message to the default logger
func Debug(format string, args ...interface{}) {
	defaultLogger.Debug(format, args...)
}

// Info logs an info message to the default logger
func Info(format string, args ...interface{}) {
	defaultLogger.Info(format, args...)
}

// Warn logs a warning message to the default logger
func Warn(format string, args ...interface{}) {
	defaultLogger.Warn(format, args...)
}

// Error logs an error message to the default logger
func Error(format string, args ...interface{}) {
	defaultLogger.Error(format, args...)
}
