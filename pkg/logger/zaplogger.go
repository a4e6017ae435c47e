package logger

import "go.uber.org/zap"

type ZapLogger struct {
	log *zap.SugaredLogger
	// plain carries the fields but no caller skip; children derive from it
	plain *zap.SugaredLogger
}

var zapLogger *ZapLogger

func NewLogger(config zap.Config, fields ...any) (*ZapLogger, error) {
	logger, err := config.Build()
	if err != nil {
		return nil, err
	}
	zapLogger = newZapLogger(logger, fields...)
	return zapLogger, nil
}

// newZapLogger wraps base for the package-level helpers, which sit two
// frames above zap.
func newZapLogger(base *zap.Logger, fields ...any) *ZapLogger {
	plain := base.Sugar().With(fields...)
	return &ZapLogger{log: plain.WithOptions(zap.AddCallerSkip(2)), plain: plain}
}

func GetLogger() *ZapLogger {
	if zapLogger == nil {
		panic("logger not initialized")
	}
	return zapLogger
}

// With returns a logger carrying the given key/value pairs on every entry.
// The returned logger is called directly, one frame above zap.
func (l *ZapLogger) With(values ...any) *ZapLogger {
	plain := l.plain.With(values...)
	return &ZapLogger{log: plain.WithOptions(zap.AddCallerSkip(1)), plain: plain}
}

func (l *ZapLogger) Panic(message string, values ...any) {
	l.log.Panicw(message, values...)
}

func (l *ZapLogger) Fatal(error error, values ...any) {
	l.log.Fatalw(error.Error(), values...)
}

func (l *ZapLogger) Info(message string, values ...any) {
	l.log.Infow(message, values...)
}

func (l *ZapLogger) Warn(message string, values ...any) {
	l.log.Warnw(message, values...)
}

func (l *ZapLogger) Error(message string, values ...any) {
	l.log.Errorw(message, values...)
}

func (l *ZapLogger) Debug(message string, values ...any) {
	l.log.Debugw(message, values...)
}

// Printf and Fatalf let the logger stand in for goose's.
func (l *ZapLogger) Printf(format string, args ...interface{}) {
	l.log.Infof(format, args...)
}

func (l *ZapLogger) Fatalf(format string, args ...interface{}) {
	l.log.Fatalf(format, args...)
}

func (l *ZapLogger) Sync() error {
	return l.log.Sync()
}
