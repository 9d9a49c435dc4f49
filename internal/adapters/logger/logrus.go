// Package logger provides the production implementation of ports.Logger
// on top of logrus.
package logger

import (
	"context"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// Logger implements ports.Logger using logrus.
type Logger struct {
	entry *logrus.Entry
}

// New creates a logger writing structured output to stderr. Unknown level
// strings fall back to info.
func New(level string) *Logger {
	l := logrus.New()
	l.SetOutput(os.Stderr)
	l.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05.000",
	})
	l.SetLevel(parseLevel(level))
	return &Logger{entry: logrus.NewEntry(l)}
}

// NewJSON creates a logger emitting JSON lines, for log shippers.
func NewJSON(level string) *Logger {
	l := logrus.New()
	l.SetOutput(os.Stderr)
	l.SetFormatter(&logrus.JSONFormatter{})
	l.SetLevel(parseLevel(level))
	return &Logger{entry: logrus.NewEntry(l)}
}

func parseLevel(level string) logrus.Level {
	switch strings.ToLower(level) {
	case "debug", "trace":
		return logrus.DebugLevel
	case "warn", "warning":
		return logrus.WarnLevel
	case "error":
		return logrus.ErrorLevel
	default:
		return logrus.InfoLevel
	}
}

func (l *Logger) withFields(fields []map[string]interface{}) *logrus.Entry {
	entry := l.entry
	for _, f := range fields {
		if f != nil {
			entry = entry.WithFields(logrus.Fields(f))
		}
	}
	return entry
}

// Debug logs a message at Debug level.
func (l *Logger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {
	l.withFields(fields).Debug(msg)
}

// Info logs a message at Info level.
func (l *Logger) Info(ctx context.Context, msg string, fields ...map[string]interface{}) {
	l.withFields(fields).Info(msg)
}

// Warn logs a message at Warning level.
func (l *Logger) Warn(ctx context.Context, msg string, fields ...map[string]interface{}) {
	l.withFields(fields).Warn(msg)
}

// Error logs an error message at Error level.
func (l *Logger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
	entry := l.withFields(fields)
	if err != nil {
		entry = entry.WithError(err)
	}
	entry.Error(msg)
}
