package logger

import (
	"fmt"
	"sync/atomic"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var global atomic.Pointer[zap.Logger]

func init() {
	global.Store(zap.NewNop())
}

// Init 初始化全局 logger；format 取 json 或 console
func Init(level, format string) error {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("parse log level %q: %w", level, err)
	}

	var cfg zap.Config
	if format == "console" {
		cfg = zap.NewDevelopmentConfig()
	} else {
		cfg = zap.NewProductionConfig()
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)

	l, err := cfg.Build(zap.AddCallerSkip(1))
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	Set(l)
	return nil
}

// Set replaces the global logger. Tests use it with zaptest loggers.
func Set(l *zap.Logger) {
	if l == nil {
		l = zap.NewNop()
	}
	global.Store(l)
}

// L returns the global logger without the facade's caller skip.
func L() *zap.Logger { return global.Load().WithOptions(zap.AddCallerSkip(-1)) }

// Named returns a child logger for one component.
func Named(name string) *zap.Logger { return L().Named(name) }

func Debug(msg string, fields ...zap.Field) { global.Load().Debug(msg, fields...) }
func Info(msg string, fields ...zap.Field)  { global.Load().Info(msg, fields...) }
func Warn(msg string, fields ...zap.Field)  { global.Load().Warn(msg, fields...) }
func Error(msg string, fields ...zap.Field) { global.Load().Error(msg, fields...) }

// Sync flushes buffered entries.
func Sync() error { return global.Load().Sync() }
