package logging

import "testing"

func TestNopLoggerDoesNotPanic(t *testing.T) {
	l := NewNop()
	l.Debug("debug", "k", "v")
	l.Info("info", "k", 1)
	l.Warn("warn")
	l.Error("error", "err", "boom")
	child := l.With("component", "test")
	child.Info("scoped")
}
