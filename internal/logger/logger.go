// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package logger

import (
	"fmt"
	"io"
	"log"
	"os"
	"strings"
)

// Log level names, most to least severe
const (
	LevelError = "error"
	LevelWarn  = "warn"
	LevelInfo  = "info"
	LevelDebug = "debug"
	LevelTrace = "trace"
)

var levels = []string{LevelError, LevelWarn, LevelInfo, LevelDebug, LevelTrace}

// LoggingConfig represents the logging section of the config file
type LoggingConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

// Logger wraps the standard logger with verbosity levels
type Logger struct {
	*log.Logger
	level  int
	closer io.Closer
}

// ValidLevel reports whether level names a known log level
func ValidLevel(level string) bool {
	return levelIndex(level) >= 0
}

func levelIndex(level string) int {
	level = strings.ToLower(level)
	for i, l := range levels {
		if l == level {
			return i
		}
	}
	return -1
}

// New creates a logger from config. Output goes to stderr unless a
// file is given, so stdout stays free for command output.
func New(cfg LoggingConfig) (*Logger, error) {
	if cfg.Level != "" && !ValidLevel(cfg.Level) {
		return nil, fmt.Errorf("unknown log level %q", cfg.Level)
	}

	if cfg.File == "" {
		return NewWithWriter(os.Stderr, cfg.Level), nil
	}

	// #nosec G304 - path comes from the operator's own config or flags
	f, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file %s: %w", cfg.File, err)
	}
	l := NewWithWriter(f, cfg.Level)
	l.closer = f
	return l, nil
}

// NewWithWriter creates a logger writing to w. An empty or unknown
// level falls back to info.
func NewWithWriter(w io.Writer, level string) *Logger {
	idx := levelIndex(level)
	if idx < 0 {
		idx = levelIndex(LevelInfo)
	}
	return &Logger{
		Logger: log.New(w, "", log.LstdFlags|log.Lmicroseconds),
		level:  idx,
	}
}

// Discard returns a logger that drops everything
func Discard() *Logger {
	return NewWithWriter(io.Discard, LevelError)
}

// Enabled reports whether messages at level would be written
func (l *Logger) Enabled(level string) bool {
	idx := levelIndex(level)
	return idx >= 0 && idx <= l.level
}

// Level returns the active level name
func (l *Logger) Level() string {
	return levels[l.level]
}

func (l *Logger) logf(level, tag, format string, args ...interface{}) {
	if l.Enabled(level) {
		l.Printf(tag+" "+format, args...)
	}
}

// Error logs error messages
func (l *Logger) Error(format string, args ...interface{}) {
	l.logf(LevelError, "ERROR", format, args...)
}

// Warn logs warning messages
func (l *Logger) Warn(format string, args ...interface{}) {
	l.logf(LevelWarn, "WARN ", format, args...)
}

// Info logs info messages
func (l *Logger) Info(format string, args ...interface{}) {
	l.logf(LevelInfo, "INFO ", format, args...)
}

// Debug logs debug messages. Register traces from the protocol engine
// arrive here.
func (l *Logger) Debug(format string, args ...interface{}) {
	l.logf(LevelDebug, "DEBUG", format, args...)
}

// Trace logs raw frame traffic
func (l *Logger) Trace(format string, args ...interface{}) {
	l.logf(LevelTrace, "TRACE", format, args...)
}

// Close closes the log file, if any
func (l *Logger) Close() error {
	if l.closer == nil {
		return nil
	}
	return l.closer.Close()
}
