// Package logger provides the structured logger shared by all services.
// It is a thin wrapper over logrus so call sites can chain contextual
// fields without importing the logging backend directly.
package logger

import (
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// LoggingConfig controls logger construction.
type LoggingConfig struct {
	Level  string
	Format string // "json" or "text"
	Output string // "stdout", "stderr" or a file path
	Name   string
}

// Logger wraps a logrus entry carrying accumulated fields.
type Logger struct {
	entry *logrus.Entry
}

// New builds a logger from configuration.
func New(cfg LoggingConfig) *Logger {
	base := logrus.New()

	level, err := logrus.ParseLevel(strings.ToLower(strings.TrimSpace(cfg.Level)))
	if err != nil {
		level = logrus.InfoLevel
	}
	base.SetLevel(level)

	switch strings.ToLower(cfg.Format) {
	case "json":
		base.SetFormatter(&logrus.JSONFormatter{})
	default:
		base.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	switch cfg.Output {
	case "", "stdout":
		base.SetOutput(os.Stdout)
	case "stderr":
		base.SetOutput(os.Stderr)
	default:
		if f, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644); err == nil {
			base.SetOutput(f)
		} else {
			base.SetOutput(os.Stdout)
		}
	}

	entry := logrus.NewEntry(base)
	if cfg.Name != "" {
		entry = entry.WithField("component", cfg.Name)
	}
	return &Logger{entry: entry}
}

// NewDefault returns an info-level text logger tagged with the component name.
func NewDefault(name string) *Logger {
	return New(LoggingConfig{Level: "info", Name: name})
}

// SetOutput redirects log output; used by tests to silence a logger.
func (l *Logger) SetOutput(w io.Writer) {
	l.entry.Logger.SetOutput(w)
}

// WithField returns a logger with an additional contextual field.
func (l *Logger) WithField(key string, value any) *Logger {
	return &Logger{entry: l.entry.WithField(key, value)}
}

// WithError returns a logger with the error attached.
func (l *Logger) WithError(err error) *Logger {
	return &Logger{entry: l.entry.WithError(err)}
}

func (l *Logger) Debug(args ...any)                 { l.entry.Debug(args...) }
func (l *Logger) Info(args ...any)                  { l.entry.Info(args...) }
func (l *Logger) Warn(args ...any)                  { l.entry.Warn(args...) }
func (l *Logger) Error(args ...any)                 { l.entry.Error(args...) }
func (l *Logger) Debugf(format string, args ...any) { l.entry.Debugf(format, args...) }
func (l *Logger) Infof(format string, args ...any)  { l.entry.Infof(format, args...) }
func (l *Logger) Warnf(format string, args ...any)  { l.entry.Warnf(format, args...) }
func (l *Logger) Errorf(format string, args ...any) { l.entry.Errorf(format, args...) }
