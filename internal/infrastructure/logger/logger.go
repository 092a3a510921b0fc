package logger

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/tapwire/tapwire/internal/domain/port"
)

// Level defines the logging level
type Level int

const (
	// LevelDebug is the level for debug messages
	LevelDebug Level = iota
	// LevelInfo is the level for informational messages
	LevelInfo
	// LevelWarn is the level for warning messages
	LevelWarn
	// LevelError is the level for error messages
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

// ParseLevel converts a string to Level
func ParseLevel(level string) Level {
	switch strings.ToLower(level) {
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

// Logger is an implementation of port.Logger
type Logger struct {
	mutex  sync.RWMutex
	logger *log.Logger
	level  Level
	writer io.Writer
	file   io.Closer
}

// NewLogger creates a new Logger instance
func NewLogger(writer io.Writer, level string) *Logger {
	return &Logger{
		logger: log.New(writer, "", 0),
		level:  ParseLevel(level),
		writer: writer,
	}
}

// NewDiscardLogger creates a logger that drops everything
func NewDiscardLogger() *Logger {
	return NewLogger(io.Discard, "error")
}

// SetLevel changes the logging level
func (l *Logger) SetLevel(level string) {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	l.level = ParseLevel(level)
}

// AddFile makes the logger write to filePath as well as its current writer
func (l *Logger) AddFile(filePath string) error {
	if err := os.MkdirAll(filepath.Dir(filePath), 0755); err != nil {
		return fmt.Errorf("failed to create log directory: %v", err)
	}

	file, err := os.OpenFile(filePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open log file: %v", err)
	}

	l.mutex.Lock()
	defer l.mutex.Unlock()
	l.writer = io.MultiWriter(l.writer, file)
	l.logger.SetOutput(l.writer)
	l.file = file
	return nil
}

// log records a message with a specific level
func (l *Logger) log(level Level, format string, args ...interface{}) {
	l.mutex.RLock()
	defer l.mutex.RUnlock()
	if level < l.level {
		return
	}

	now := time.Now().Format("2006-01-02 15:04:05.000")

	var message string
	if len(args) > 0 {
		message = fmt.Sprintf(format, args...)
	} else {
		message = format
	}

	l.logger.Printf("[%s] %s %s", now, level.String(), message)
}

// Debug logs a debug message
func (l *Logger) Debug(format string, args ...interface{}) {
	l.log(LevelDebug, format, args...)
}

// Info logs an informational message
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

// Close closes the log file, if any
func (l *Logger) Close() error {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	if l.file != nil {
		err := l.file.Close()
		l.file = nil
		return err
	}
	return nil
}

// Ensure Logger implements port.Logger
var _ port.Logger = (*Logger)(nil)
