package logger

import (
	"bytes"
	"context"
	"strings"
	"testing"
)

func TestLoggerInit(t *testing.T) {
	if err := Init(); err != nil {
		t.Fatalf("failed to initialize logger: %v", err)
	}
	defer func() {
		if err := Sync(); err != nil {
			t.Errorf("failed to sync logger: %v", err)
		}
	}()

	if Get() == nil {
		t.Fatal("logger is nil after initialization")
	}
}

func TestLoggerWritesFieldsAndSource(t *testing.T) {
	if err := SetLevelString("info"); err != nil {
		t.Fatalf("set level: %v", err)
	}
	var buf bytes.Buffer
	l := New(&buf)

	l.Info(context.Background(), "registered", String("user_id", "u1"), Int("count", 2), Bool("live", true))

	out := buf.String()
	for _, want := range []string{"registered", "user_id=u1", "count=2", "live=true", "source=", "logger_test.go"} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %q in output %q", want, out)
		}
	}
}

func TestLoggerRespectsLevel(t *testing.T) {
	if err := SetLevelString("warn"); err != nil {
		t.Fatalf("set level: %v", err)
	}
	defer func() { _ = SetLevelString("info") }()

	var buf bytes.Buffer
	l := New(&buf)
	l.Info(context.Background(), "hidden")
	l.Warn(context.Background(), "shown")

	if strings.Contains(buf.String(), "hidden") {
		t.Errorf("info message should be filtered at warn level")
	}
	if !strings.Contains(buf.String(), "shown") {
		t.Errorf("warn message should be written")
	}
}

func TestLoggerNamed(t *testing.T) {
	if err := Init(); err != nil {
		t.Fatalf("failed to initialize logger: %v", err)
	}

	namedLogger := Named("test")
	if namedLogger == nil {
		t.Fatal("named logger is nil")
	}
	namedLogger.Info(context.Background(), "test message")
}

func TestOrGlobal(t *testing.T) {
	nop := NewNop()
	if got := OrGlobal(nop, "x"); got != nop {
		t.Errorf("expected the provided logger to be returned")
	}
	if err := Init(); err != nil {
		t.Fatalf("init: %v", err)
	}
	if OrGlobal(nil, "x") == nil {
		t.Errorf("expected a named global logger")
	}
}

func TestSetLevelStringRejectsUnknown(t *testing.T) {
	if err := SetLevelString("loud"); err == nil {
		t.Error("expected error for unknown level")
	}
	for _, lvl := range []string{"debug", "INFO", "warning", "error", ""} {
		if err := SetLevelString(lvl); err != nil {
			t.Errorf("level %q: unexpected error %v", lvl, err)
		}
	}
	_ = SetLevelString("info")
}
