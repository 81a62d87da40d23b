// Package rlog is the logging façade used throughout the reactor: leveled,
// structured logging with a fatal level that aborts the process, mirroring
// the info/error/fatal primitives muduo's Logger supplies to the rest of
// the library.
package rlog

import (
	"os"

	"go.uber.org/zap"
)

// Logger wraps a *zap.Logger with a Fatal that matches muduo's LOG_FATAL:
// log then terminate the process. The zero value is not usable; use
// Nop or New.
type Logger struct {
	z *zap.Logger
}

// New wraps an existing *zap.Logger.
func New(z *zap.Logger) *Logger {
	if z == nil {
		z = zap.NewNop()
	}
	return &Logger{z: z}
}

// NewProduction builds a Logger using zap's production defaults (JSON,
// info level and above).
func NewProduction() *Logger {
	z, err := zap.NewProduction()
	if err != nil {
		z = zap.NewNop()
	}
	return New(z)
}

// Nop discards everything; used as the default when no Logger is supplied.
func Nop() *Logger { return New(zap.NewNop()) }

func (l *Logger) Debug(msg string, fields ...zap.Field) {
	if l == nil {
		return
	}
	l.z.Debug(msg, fields...)
}

func (l *Logger) Info(msg string, fields ...zap.Field) {
	if l == nil {
		return
	}
	l.z.Info(msg, fields...)
}

func (l *Logger) Error(msg string, fields ...zap.Field) {
	if l == nil {
		return
	}
	l.z.Error(msg, fields...)
}

// Fatal logs at error level and aborts the process, matching muduo's
// LOG_FATAL semantics for setup errors (listen socket creation, eventfd
// creation, bind, listen, epoll add/modify, a duplicate EventLoop on a
// thread). It never returns.
func (l *Logger) Fatal(msg string, fields ...zap.Field) {
	if l != nil {
		l.z.Error(msg, fields...)
		_ = l.z.Sync()
	}
	os.Exit(1)
}

// Sync flushes any buffered log entries.
func (l *Logger) Sync() error {
	if l == nil {
		return nil
	}
	return l.z.Sync()
}
