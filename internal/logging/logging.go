// Package logging provides structured key-value logging for the whole
// application, backed by zap.
package logging

import (
	"fmt"
	"os"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Level is the minimum severity that will be emitted.
type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// Format selects the log output encoding.
type Format string

const (
	FormatJSON Format = "json"
	FormatText Format = "text"
)

var (
	mu    sync.RWMutex
	sugar = newSugared(LevelInfo, FormatText)
)

// Init reconfigures the global logger. Call once at startup, before any
// goroutines log.
func Init(level Level, format Format) {
	mu.Lock()
	defer mu.Unlock()
	sugar = newSugared(level, format)
}

func newSugared(level Level, format Format) *zap.SugaredLogger {
	var zl zapcore.Level
	switch level {
	case LevelDebug:
		zl = zapcore.DebugLevel
	case LevelInfo:
		zl = zapcore.InfoLevel
	case LevelWarn:
		zl = zapcore.WarnLevel
	case LevelError:
		zl = zapcore.ErrorLevel
	default:
		zl = zapcore.InfoLevel
	}

	encCfg := zapcore.EncoderConfig{
		TimeKey:        "timestamp",
		LevelKey:       "level",
		MessageKey:     "message",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.SecondsDurationEncoder,
	}

	var enc zapcore.Encoder
	if format == FormatJSON {
		enc = zapcore.NewJSONEncoder(encCfg)
	} else {
		enc = zapcore.NewConsoleEncoder(encCfg)
	}

	core := zapcore.NewCore(enc, zapcore.AddSync(os.Stderr), zl)
	return zap.New(core).Sugar()
}

// ParseLevel converts a config string into a Level.
func ParseLevel(s string) (Level, error) {
	switch s {
	case "debug":
		return LevelDebug, nil
	case "", "info":
		return LevelInfo, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "error":
		return LevelError, nil
	default:
		return "", fmt.Errorf("invalid log level: %s", s)
	}
}

// ParseFormat converts a config string into a Format.
func ParseFormat(s string) (Format, error) {
	switch s {
	case "json":
		return FormatJSON, nil
	case "", "text", "console":
		return FormatText, nil
	default:
		return "", fmt.Errorf("invalid log format: %s", s)
	}
}

func current() *zap.SugaredLogger {
	mu.RLock()
	defer mu.RUnlock()
	return sugar
}

func Debug(msg string, kv ...any) {
	current().Debugw(msg, kv...)
}

func Info(msg string, kv ...any) {
	current().Infow(msg, kv...)
}

func Warn(msg string, kv ...any) {
	current().Warnw(msg, kv...)
}

// Error logs msg with err prepended to the key-value list.
func Error(msg string, err error, kv ...any) {
	current().Errorw(msg, append([]any{"err", err}, kv...)...)
}

// Sync flushes buffered entries. Call before process exit.
func Sync() {
	_ = current().Sync()
}
