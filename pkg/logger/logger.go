// Package logger holds the process-wide zap logger and hands out named
// sugared loggers.
package logger

import (
	"fmt"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type Level = zapcore.Level

const (
	DebugLevel = zapcore.DebugLevel
	InfoLevel  = zapcore.InfoLevel
	WarnLevel  = zapcore.WarnLevel
	ErrorLevel = zapcore.ErrorLevel
)

type Config struct {
	Level  string
	Format string // json or console
}

type Logger struct {
	*zap.SugaredLogger
}

var (
	mu   sync.RWMutex
	base = zap.NewNop()
)

func init() {
	if l, err := build(Config{Level: "info", Format: "json"}); err == nil {
		base = l
	}
}

// Configure replaces the root logger. Loggers obtained earlier keep the old core.
func Configure(conf Config) error {
	l, err := build(conf)
	if err != nil {
		return err
	}
	mu.Lock()
	defer mu.Unlock()
	_ = base.Sync()
	base = l
	return nil
}

// ReplaceForTest swaps the root logger and returns a restore func.
func ReplaceForTest(l *zap.Logger) func() {
	mu.Lock()
	prev := base
	base = l
	mu.Unlock()
	return func() {
		mu.Lock()
		base = prev
		mu.Unlock()
	}
}

func Root() *zap.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return base
}

func MustNamed(name string) *Logger {
	return &Logger{SugaredLogger: Root().Named(name).Sugar()}
}

func (l *Logger) Unwrap() *zap.SugaredLogger {
	return l.SugaredLogger
}

func build(conf Config) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(conf.Level)
	if err != nil {
		return nil, fmt.Errorf("parse log level %q: %w", conf.Level, err)
	}

	zc := zap.NewProductionConfig()
	if conf.Format == "console" {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	zc.EncoderConfig.TimeKey = "ts"
	zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	return zc.Build()
}
