package logger

import (
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type Logger interface {
	Info(msg string, values ...any)
	Warn(msg string, values ...any)
	Error(msg string, values ...any)
	Debug(msg string, values ...any)
	Panic(message string, values ...any)
	Fatal(error error, values ...any)
	Printf(format string, args ...interface{})
}

// LOG_ENV=production switches to JSON output, LOG_LEVEL overrides the
// level and APP_NAME tags every entry with the service name.
func init() {
	config := zap.NewDevelopmentConfig()
	if os.Getenv("LOG_ENV") == "production" {
		config = zap.NewProductionConfig()
		config.EncoderConfig.TimeKey = "ts"
		config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	if lvl := strings.TrimSpace(os.Getenv("LOG_LEVEL")); lvl != "" {
		var level zapcore.Level
		if err := level.UnmarshalText([]byte(strings.ToLower(lvl))); err == nil {
			config.Level = zap.NewAtomicLevelAt(level)
		}
	}

	var fields []any
	if name := os.Getenv("APP_NAME"); name != "" {
		fields = append(fields, "service", name)
	}
	if _, err := NewLogger(config, fields...); err != nil {
		panic(err)
	}
}

func Info(msg string, values ...any) {
	GetLogger().Info(msg, values...)
}

func Warn(msg string, values ...any) {
	GetLogger().Warn(msg, values...)
}

func Error(msg string, values ...any) {
	GetLogger().Error(msg, values...)
}

func Debug(msg string, values ...any) {
	GetLogger().Debug(msg, values...)
}

func Panic(msg string, values ...any) {
	GetLogger().Panic(msg, values...)
}

func Fatal(error error, values ...any) {
	GetLogger().Fatal(error, values...)
}

// Named returns a child logger that tags every entry with the component name.
func Named(component string) *ZapLogger {
	return GetLogger().With("component", component)
}

// Sync flushes buffered entries. Binaries defer it in main.
func Sync() {
	_ = GetLogger().Sync()
}
