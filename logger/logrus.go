package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
)

// LogrusLogger adapts a logrus entry to the Logger interface.
type LogrusLogger struct {
	entry  *logrus.Entry
	closer io.Closer
}

// NewConsole creates a human-readable logger writing to stderr.
func NewConsole(level Level, color bool) *LogrusLogger {
	base := logrus.New()
	base.SetOutput(os.Stderr)
	base.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
		ForceColors:     color,
		DisableColors:   !color,
	})
	base.SetLevel(toLogrusLevel(level))
	return &LogrusLogger{entry: logrus.NewEntry(base)}
}

// NewStructured creates a logger that appends one JSON object per line to path.
func NewStructured(path string, level Level) (*LogrusLogger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	base := logrus.New()
	base.SetOutput(f)
	base.SetFormatter(&logrus.JSONFormatter{
		TimestampFormat: time.RFC3339Nano,
		FieldMap: logrus.FieldMap{
			logrus.FieldKeyTime: "ts",
			logrus.FieldKeyMsg:  "event",
		},
	})
	base.SetLevel(toLogrusLevel(level))
	return &LogrusLogger{entry: logrus.NewEntry(base), closer: f}, nil
}

// NewWriter creates a JSON logger on an arbitrary writer. Used by tests.
func NewWriter(w io.Writer, level Level) *LogrusLogger {
	base := logrus.New()
	base.SetOutput(w)
	base.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339Nano})
	base.SetLevel(toLogrusLevel(level))
	return &LogrusLogger{entry: logrus.NewEntry(base)}
}

func (l *LogrusLogger) Debug(msg string, fields ...Field) { l.with(fields).Debug(msg) }
func (l *LogrusLogger) Info(msg string, fields ...Field)  { l.with(fields).Info(msg) }
func (l *LogrusLogger) Warn(msg string, fields ...Field)  { l.with(fields).Warn(msg) }
func (l *LogrusLogger) Error(msg string, fields ...Field) { l.with(fields).Error(msg) }

func (l *LogrusLogger) WithFields(fields ...Field) Logger {
	return &LogrusLogger{entry: l.with(fields), closer: l.closer}
}

// Close releases the underlying file, if any. Derived loggers share it.
func (l *LogrusLogger) Close() error {
	if l.closer == nil {
		return nil
	}
	return l.closer.Close()
}

func (l *LogrusLogger) with(fields []Field) *logrus.Entry {
	if len(fields) == 0 {
		return l.entry
	}
	lf := make(logrus.Fields, len(fields))
	for _, f := range fields {
		lf[f.Key] = f.Value
	}
	return l.entry.WithFields(lf)
}

func toLogrusLevel(level Level) logrus.Level {
	switch level {
	case LevelDebug:
		return logrus.DebugLevel
	case LevelWarn:
		return logrus.WarnLevel
	case LevelError:
		return logrus.ErrorLevel
	default:
		return logrus.InfoLevel
	}
}
