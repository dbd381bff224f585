package logging

import (
	"testing"

	"go.uber.org/zap/zapcore"

	"github.com/satriahrh/arunika/transcriber/internal/config"
)

func TestNew(t *testing.T) {
	logger, err := New(config.LoggingConfig{Level: "warn", Format: "json"})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if logger.Core().Enabled(zapcore.InfoLevel) {
		t.Error("Info should be disabled at warn level")
	}
	if !logger.Core().Enabled(zapcore.ErrorLevel) {
		t.Error("Error should be enabled at warn level")
	}

	if _, err := New(config.LoggingConfig{Level: "debug", Format: "console"}); err != nil {
		t.Errorf("Console logger failed: %v", err)
	}
	if _, err := New(config.LoggingConfig{Level: "loud"}); err == nil {
		t.Error("Expected error for unknown level")
	}
}
