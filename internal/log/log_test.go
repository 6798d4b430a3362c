package log

import (
	"context"
	"log/slog"
	"testing"
)

func TestLoggerFromContextDefault(t *testing.T) {
	if l := LoggerFromContext(context.Background()); l != slog.Default() {
		t.Errorf("expected default logger when none is set")
	}
}

func TestLoggerFromContext(t *testing.T) {
	logger := slog.Default().With(slog.String("unit", "u1"))
	ctx := ContextWithLogger(context.Background(), logger)
	if l := LoggerFromContext(ctx); l != logger {
		t.Errorf("expected logger stored in context to be returned")
	}
}

func TestLevel(t *testing.T) {
	defer func() { Debug = false }()
	Debug = false
	if level() != slog.LevelInfo {
		t.Errorf("expected info level, got %v", level())
	}
	Debug = true
	if level() != slog.LevelDebug {
		t.Errorf("expected debug level, got %v", level())
	}
}
