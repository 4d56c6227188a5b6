package logging

import (
	"testing"

	"go.uber.org/zap/zapcore"
)

func TestNewBuildsLoggerAtLevel(t *testing.T) {
	logger, err := New("warn", "json")
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}
	if logger.Core().Enabled(zapcore.InfoLevel) {
		t.Fatalf("expected info to be disabled at warn level")
	}
	if !logger.Core().Enabled(zapcore.ErrorLevel) {
		t.Fatalf("expected error to be enabled at warn level")
	}
}

func TestNewConsoleFormat(t *testing.T) {
	if _, err := New("debug", "console"); err != nil {
		t.Fatalf("console logger: %v", err)
	}
}

func TestNewRejectsBadInput(t *testing.T) {
	if _, err := New("loud", "json"); err == nil {
		t.Fatalf("expected invalid level error")
	}
	if _, err := New("info", "xml"); err == nil {
		t.Fatalf("expected invalid format error")
	}
}
