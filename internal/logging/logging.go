// Package logging defines the structured Logger contract shared by
// every component in this module (the same Debug/Info/Warn/Error shape
// as coreengine/kernel.Logger), backed by go.uber.org/zap.
package logging

import (
	"go.uber.org/zap"
)

// Logger is the structured logging contract every package depends on
// instead of zap directly, so tests can inject a no-op or recording
// implementation.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
	With(keysAndValues ...any) Logger
}

type zapLogger struct {
	sugar *zap.SugaredLogger
}

// NewProduction builds a Logger backed by zap's JSON production config.
func NewProduction() (Logger, error) {
	z, err := zap.NewProduction()
	if err != nil {
		return nil, err
	}
	return &zapLogger{sugar: z.Sugar()}, nil
}

// NewDevelopment builds a Logger backed by zap's human-readable console
// config, used by `cmd/bridge`'s `simulate` subcommand (`serve` uses
// NewProduction).
func NewDevelopment() (Logger, error) {
	z, err := zap.NewDevelopment()
	if err != nil {
		return nil, err
	}
	return &zapLogger{sugar: z.Sugar()}, nil
}

// NewNop builds a Logger that discards everything, for tests.
func NewNop() Logger {
	return &zapLogger{sugar: zap.NewNop().Sugar()}
}

func (l *zapLogger) Debug(msg string, kv ...any) { l.sugar.Debugw(msg, kv...) }
func (l *zapLogger) Info(msg string, kv ...any)  { l.sugar.Infow(msg, kv...) }
func (l *zapLogger) Warn(msg string, kv ...any)  { l.sugar.Warnw(msg, kv...) }
func (l *zapLogger) Error(msg string, kv ...any) { l.sugar.Errorw(msg, kv...) }

func (l *zapLogger) With(kv ...any) Logger {
	return &zapLogger{sugar: l.sugar.With(kv...)}
}
