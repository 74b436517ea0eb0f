// Package log provides the process-wide structured logger.
package log

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var zapLevel = zap.NewAtomicLevelAt(zapcore.InfoLevel)

// Default is the logger used by the package-level helpers.
var Default Logger = zap.New(
	zapcore.NewCore(
		zapcore.NewConsoleEncoder(encoderConfig),
		zapcore.AddSync(os.Stdout),
		zapLevel,
	),
	zap.AddCaller(),
	zap.AddCallerSkip(1),
).Sugar()

var encoderConfig = zapcore.EncoderConfig{
	TimeKey:        "ts",
	LevelKey:       "lvl",
	NameKey:        "name",
	CallerKey:      "caller",
	MessageKey:     "message",
	StacktraceKey:  "stacktrace",
	LineEnding:     zapcore.DefaultLineEnding,
	EncodeLevel:    zapcore.CapitalLevelEncoder,
	EncodeTime:     zapcore.RFC3339TimeEncoder,
	EncodeDuration: zapcore.SecondsDurationEncoder,
	EncodeCaller:   zapcore.ShortCallerEncoder,
}

// Logger is the logging interface used across the runner.
type Logger interface {
	Debugf(format string, args ...any)
	Infof(format string, args ...any)
	Warnf(format string, args ...any)
	Errorf(format string, args ...any)
	Fatalf(format string, args ...any)
}

// SetLevel sets the minimum enabled level. Valid levels are
// "debug", "info", "warn" and "error"; anything else selects info.
func SetLevel(level string) {
	switch level {
	case "debug":
		zapLevel.SetLevel(zapcore.DebugLevel)
	case "warn":
		zapLevel.SetLevel(zapcore.WarnLevel)
	case "error":
		zapLevel.SetLevel(zapcore.ErrorLevel)
	default:
		zapLevel.SetLevel(zapcore.InfoLevel)
	}
}

// Debugf logs at DEBUG level.
func Debugf(format string, args ...any) { Default.Debugf(format, args...) }

// Infof logs at INFO level.
func Infof(format string, args ...any) { Default.Infof(format, args...) }

// Warnf logs at WARN level.
func Warnf(format string, args ...any) { Default.Warnf(format, args...) }

// Errorf logs at ERROR level.
func Errorf(format string, args ...any) { Default.Errorf(format, args...) }

// Fatalf logs at FATAL level and exits.
func Fatalf(format string, args ...any) { Default.Fatalf(format, args...) }
