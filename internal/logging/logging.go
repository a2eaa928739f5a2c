// Package logging provides the structured logger used across the service.
package logging

import (
	"os"
	"sort"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Fields carries structured context for a log entry.
type Fields map[string]interface{}

// Logger is a component-scoped structured logger.
type Logger struct {
	z *zap.Logger
}

// NewLogger creates a JSON logger named after the component.
// LOG_LEVEL selects the minimum level (debug, info, warn, error).
func NewLogger(component string) *Logger {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(parseLevel(os.Getenv("LOG_LEVEL")))
	cfg.EncoderConfig.TimeKey = "timestamp"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	z, err := cfg.Build()
	if err != nil {
		z = zap.NewNop()
	}
	return &Logger{z: z.Named(component)}
}

// NewNop returns a logger that discards everything. Used in tests.
func NewNop() *Logger {
	return &Logger{z: zap.NewNop()}
}

// FromZap wraps an existing zap logger.
func FromZap(z *zap.Logger) *Logger {
	return &Logger{z: z}
}

// Named returns a child logger for a sub-component.
func (l *Logger) Named(component string) *Logger {
	return &Logger{z: l.z.Named(component)}
}

func (l *Logger) Debug(msg string, fields ...Fields) { l.z.Debug(msg, toZap(fields)...) }
func (l *Logger) Info(msg string, fields ...Fields)  { l.z.Info(msg, toZap(fields)...) }
func (l *Logger) Warn(msg string, fields ...Fields)  { l.z.Warn(msg, toZap(fields)...) }
func (l *Logger) Error(msg string, fields ...Fields) { l.z.Error(msg, toZap(fields)...) }

// Fatal logs and exits the process.
func (l *Logger) Fatal(msg string, fields ...Fields) { l.z.Fatal(msg, toZap(fields)...) }

// Sync flushes buffered entries.
func (l *Logger) Sync() error { return l.z.Sync() }

func toZap(fields []Fields) []zap.Field {
	if len(fields) == 0 {
		return nil
	}
	out := make([]zap.Field, 0, len(fields[0]))
	for _, f := range fields {
		keys := make([]string, 0, len(f))
		for k := range f {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			out = append(out, zap.Any(k, f[k]))
		}
	}
	return out
}

func parseLevel(s string) zapcore.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return zapcore.DebugLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}
