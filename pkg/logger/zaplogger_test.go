package logger

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func observed() (*ZapLogger, *observer.ObservedLogs) {
	core, logs := observer.New(zapcore.DebugLevel)
	return newZapLogger(zap.New(core, zap.AddCaller()), "service", "test"), logs
}

// viaHelper stands in for the package-level helpers.
func viaHelper(l *ZapLogger, msg string) {
	l.Info(msg)
}

func TestZapLogger_CallerOfChildLoggers(t *testing.T) {
	l, logs := observed()

	l.With("component", "payments").Info("one level")
	l.With("component", "payments").With("donation_id", "don-1").Warn("two levels")

	entries := logs.All()
	require.Len(t, entries, 2)
	for _, e := range entries {
		assert.Equal(t, "zaplogger_test.go", filepath.Base(e.Caller.File), e.Message)
	}

	ctx := entries[1].ContextMap()
	assert.Equal(t, "test", ctx["service"])
	assert.Equal(t, "payments", ctx["component"])
	assert.Equal(t, "don-1", ctx["donation_id"])
}

func TestZapLogger_CallerOfHelpers(t *testing.T) {
	l, logs := observed()

	viaHelper(l, "from helper")

	entries := logs.All()
	require.Len(t, entries, 1)
	assert.Equal(t, "zaplogger_test.go", filepath.Base(entries[0].Caller.File))
	assert.Contains(t, entries[0].Caller.Function, "TestZapLogger_CallerOfHelpers")
}
