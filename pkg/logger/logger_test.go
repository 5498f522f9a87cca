package logger

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestNewFileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chat.log")
	l, err := New(Config{Level: "debug", Format: "json", Output: path})
	if err != nil {
		t.Fatal(err)
	}
	l.Info("hello", zap.Int("code", 2001))
	l.Sync()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), `"msg":"hello"`) || !strings.Contains(string(data), `"code":2001`) {
		t.Fatalf("unexpected log line: %s", data)
	}
}

func TestNewInvalidLevel(t *testing.T) {
	if _, err := New(Config{Level: "loud"}); err == nil {
		t.Fatal("expected error for invalid level")
	}
}

func TestReplaceAndNamed(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	restore := Replace(zap.New(core))
	defer restore()

	Named("session").Info("closed")
	Warn("slow", zap.String("uid", "7"))

	entries := logs.All()
	if len(entries) != 2 {
		t.Fatalf("got %d entries, want 2", len(entries))
	}
	if entries[0].LoggerName != "session" {
		t.Fatalf("logger name = %q", entries[0].LoggerName)
	}
	if entries[1].Level != zap.WarnLevel {
		t.Fatalf("level = %v", entries[1].Level)
	}
}
