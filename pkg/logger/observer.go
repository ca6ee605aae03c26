package logger

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

// NewObserverLogger returns a logger keeping its entries of at least the given
// level in memory, along with the entries. An unknown level keeps everything.
func NewObserverLogger(level string) (*ZapLogger, *observer.ObservedLogs) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		lvl = zapcore.DebugLevel
	}

	core, logs := observer.New(lvl)
	return &ZapLogger{Logger: zap.New(core)}, logs
}
