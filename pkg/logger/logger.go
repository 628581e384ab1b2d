// Package logger provides the structured logger shared by every component.
package logger

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

type ctxKey string

const (
	// TraceIDKey is the context key holding the request trace id.
	TraceIDKey ctxKey = "trace_id"
	// UserIDKey is the context key holding the authenticated user id.
	UserIDKey ctxKey = "user_id"
	// RoleKey is the context key holding the authenticated user role.
	RoleKey ctxKey = "role"
)

// LoggingConfig controls logger construction.
type LoggingConfig struct {
	Level      string `yaml:"level" env:"LOG_LEVEL"`
	Format     string `yaml:"format" env:"LOG_FORMAT"`
	Output     string `yaml:"output" env:"LOG_OUTPUT"`
	FilePrefix string `yaml:"file_prefix" env:"LOG_FILE_PREFIX"`
}

// Logger wraps a logrus entry so component fields travel with every line.
type Logger struct {
	*logrus.Entry
}

// New builds a logger from configuration. Unknown levels fall back to info.
func New(cfg LoggingConfig) *Logger {
	base := logrus.New()

	level, err := logrus.ParseLevel(strings.TrimSpace(cfg.Level))
	if err != nil {
		level = logrus.InfoLevel
	}
	base.SetLevel(level)

	if strings.EqualFold(cfg.Format, "json") {
		base.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339Nano})
	} else {
		base.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	base.SetOutput(resolveOutput(cfg))
	return &Logger{Entry: logrus.NewEntry(base)}
}

// NewDefault returns an info-level text logger tagged with the component name.
func NewDefault(component string) *Logger {
	l := New(LoggingConfig{Level: "info", Format: "text", Output: "stdout"})
	if component != "" {
		return l.Named(component)
	}
	return l
}

// Named returns a child logger with the component field set.
func (l *Logger) Named(component string) *Logger {
	return &Logger{Entry: l.Entry.WithField("component", component)}
}

// WithContext attaches trace and user identifiers carried by ctx.
func (l *Logger) WithContext(ctx context.Context) *logrus.Entry {
	entry := l.Entry.WithContext(ctx)
	if ctx == nil {
		return entry
	}
	if v, ok := ctx.Value(TraceIDKey).(string); ok && v != "" {
		entry = entry.WithField("trace_id", v)
	}
	if v, ok := ctx.Value(UserIDKey).(string); ok && v != "" {
		entry = entry.WithField("user_id", v)
	}
	return entry
}

// LogRequest emits the access log line for an HTTP request.
func (l *Logger) LogRequest(ctx context.Context, method, path string, status int, duration time.Duration) {
	entry := l.WithContext(ctx).WithFields(logrus.Fields{
		"method":      method,
		"path":        path,
		"status":      status,
		"duration_ms": duration.Milliseconds(),
	})
	switch {
	case status >= 500:
		entry.Error("request failed")
	case status >= 400:
		entry.Warn("request rejected")
	default:
		entry.Info("request handled")
	}
}

// LogSecurityEvent records authentication and throttling events.
func (l *Logger) LogSecurityEvent(ctx context.Context, event string, fields map[string]interface{}) {
	l.WithContext(ctx).WithFields(logrus.Fields(fields)).WithField("security_event", event).Warn("security event")
}

func resolveOutput(cfg LoggingConfig) io.Writer {
	switch strings.ToLower(strings.TrimSpace(cfg.Output)) {
	case "stderr":
		return os.Stderr
	case "file":
		prefix := cfg.FilePrefix
		if prefix == "" {
			prefix = "assistenza"
		}
		if dir := filepath.Dir(prefix); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				fmt.Fprintf(os.Stderr, "logger: create log dir: %v\n", err)
				return os.Stdout
			}
		}
		name := fmt.Sprintf("%s-%s.log", prefix, time.Now().Format("2006-01-02"))
		f, err := os.OpenFile(name, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
		if err != nil {
			fmt.Fprintf(os.Stderr, "logger: open %s: %v\n", name, err)
			return os.Stdout
		}
		return f
	default:
		return os.Stdout
	}
}
