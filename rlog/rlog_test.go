package rlog

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNopDoesNotPanicOnAnyLevel(t *testing.T) {
	l := Nop()
	l.Debug("debug", zap.String("k", "v"))
	l.Info("info")
	l.Error("error", zap.Error(nil))
	require.NoError(t, l.Sync())
}

func TestNilLoggerIsSafeForEveryMethodExceptFatal(t *testing.T) {
	var l *Logger
	l.Debug("x")
	l.Info("x")
	l.Error("x")
	require.NoError(t, l.Sync())
}

func TestNewWrapsNilAsNop(t *testing.T) {
	l := New(nil)
	require.NotNil(t, l)
	l.Info("should not panic")
}
