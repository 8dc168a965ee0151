// Package logging provides structured logging for creditdesk services.
//
// The logger wraps zap behind the field-map call shape used across the
// service packages so call sites never deal with zap types directly.
package logging

import (
	"context"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger is a structured logger scoped to one component.
type Logger struct {
	zl *zap.Logger
}

// Config holds logger configuration.
type Config struct {
	Component string
	Debug     bool
	Console   bool // human-readable output instead of JSON
}

// New creates a logger for the named component.
func New(cfg Config) *Logger {
	level := zapcore.InfoLevel
	if cfg.Debug {
		level = zapcore.DebugLevel
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "ts"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	var enc zapcore.Encoder
	if cfg.Console {
		enc = zapcore.NewConsoleEncoder(encCfg)
	} else {
		enc = zapcore.NewJSONEncoder(encCfg)
	}

	core := zapcore.NewCore(enc, zapcore.Lock(os.Stderr), level)
	zl := zap.New(core)
	if cfg.Component != "" {
		zl = zl.With(zap.String("component", cfg.Component))
	}
	return &Logger{zl: zl}
}

// Nop returns a logger that discards everything. Used in tests.
func Nop() *Logger {
	return &Logger{zl: zap.NewNop()}
}

// With returns a logger with the given fields attached to every entry.
func (l *Logger) With(fields map[string]interface{}) *Logger {
	return &Logger{zl: l.zl.With(toZapFields(fields)...)}
}

// Debug logs at debug level.
func (l *Logger) Debug(ctx context.Context, msg string, fields map[string]interface{}) {
	l.zl.Debug(msg, toZapFields(fields)...)
}

// Info logs at info level.
func (l *Logger) Info(ctx context.Context, msg string, fields map[string]interface{}) {
	l.zl.Info(msg, toZapFields(fields)...)
}

// Warn logs at warn level.
func (l *Logger) Warn(ctx context.Context, msg string, fields map[string]interface{}) {
	l.zl.Warn(msg, toZapFields(fields)...)
}

// Error logs at error level.
func (l *Logger) Error(ctx context.Context, msg string, fields map[string]interface{}) {
	l.zl.Error(msg, toZapFields(fields)...)
}

// Sync flushes buffered entries.
func (l *Logger) Sync() {
	_ = l.zl.Sync()
}

func toZapFields(fields map[string]interface{}) []zap.Field {
	if len(fields) == 0 {
		return nil
	}
	zf := make([]zap.Field, 0, len(fields))
	for k, v := range fields {
		zf = append(zf, zap.Any(k, v))
	}
	return zf
}
