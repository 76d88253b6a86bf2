package logx

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestZeroLoggerIsNoop(t *testing.T) {
	var l Logger
	if !l.IsZero() {
		t.Fatal("zero logger should report IsZero")
	}
	l.Info("ignored", String("k", "v"))
	l.With(Int("n", 1)).Error("ignored")
}

func TestWriterLoggerFields(t *testing.T) {
	var buf bytes.Buffer
	l := NewWriter(&buf, "debug").With(String("comp", "test"))
	l.Info("hello", Int("n", 3), Err(errors.New("boom")))

	var m map[string]any
	if err := json.Unmarshal(buf.Bytes(), &m); err != nil {
		t.Fatalf("decode %q: %v", buf.String(), err)
	}
	if m["message"] != "hello" || m["comp"] != "test" || m["n"] != float64(3) {
		t.Fatalf("unexpected record: %v", m)
	}
	if m["error"] != "boom" && m["err"] != "boom" {
		t.Fatalf("error field missing: %v", m)
	}
	if c, _ := m["caller"].(string); !strings.HasPrefix(c, "logging_test.go:") {
		t.Fatalf("caller = %v", m["caller"])
	}
}

func TestChannelWritesRoutineFile(t *testing.T) {
	dir := t.TempDir()
	svc, _ := New(Config{
		Level:    "info",
		Console:  false,
		File:     FileConfig{Enabled: true, Path: filepath.Join(dir, "main.log")},
		Routines: ChannelConfig{Enabled: true, Dir: filepath.Join(dir, "routines")},
	}, nil)
	t.Cleanup(func() { _ = svc.Close() })

	ch := svc.Channel("graph_export")
	ch.Info("SUCCESS", Int64("delay_s", 30))
	ch.Debug("below level")

	b, err := os.ReadFile(filepath.Join(dir, "routines", "graph_export.log"))
	if err != nil {
		t.Fatalf("channel file: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(b)), "\n")
	if len(lines) != 1 {
		t.Fatalf("channel lines = %d, want 1: %q", len(lines), b)
	}
	if !strings.Contains(lines[0], `"routine":"graph_export"`) || !strings.Contains(lines[0], `"SUCCESS"`) {
		t.Fatalf("unexpected channel record: %s", lines[0])
	}

	main, err := os.ReadFile(filepath.Join(dir, "main.log"))
	if err != nil {
		t.Fatalf("main file: %v", err)
	}
	if !strings.Contains(string(main), `"routine":"graph_export"`) {
		t.Fatalf("shared sink missing channel record: %s", main)
	}
}

type fakeSender struct {
	mu   sync.Mutex
	msgs []string
}

func (f *fakeSender) SendText(_ context.Context, text string) error {
	f.mu.Lock()
	f.msgs = append(f.msgs, text)
	f.mu.Unlock()
	return nil
}

func (f *fakeSender) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.msgs)
}

func TestTelegramSinkRespectsMinLevel(t *testing.T) {
	sender := &fakeSender{}
	svc, log := New(Config{
		Level:    "debug",
		File:     FileConfig{Enabled: true, Path: filepath.Join(t.TempDir(), "x.log")},
		Telegram: TelegramConfig{Enabled: true, MinLevel: "error", RatePerSec: 10},
	}, sender)
	t.Cleanup(func() { _ = svc.Close() })

	log.Info("routine ok")
	log.Error("routine failed", String("routine", "restart"))

	deadline := time.Now().Add(2 * time.Second)
	for sender.count() < 1 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if sender.count() != 1 {
		t.Fatalf("sent = %d, want 1", sender.count())
	}
	sender.mu.Lock()
	msg := sender.msgs[0]
	sender.mu.Unlock()
	if !strings.HasPrefix(msg, "[ERROR] routine failed") || !strings.Contains(msg, "routine=restart") {
		t.Fatalf("unexpected message: %q", msg)
	}
}

func TestValidLevel(t *testing.T) {
	for _, s := range []string{"", "debug", "INFO", "warning"} {
		if !ValidLevel(s) {
			t.Fatalf("ValidLevel(%q) = false", s)
		}
	}
	if ValidLevel("verbose") {
		t.Fatal("ValidLevel(verbose) = true")
	}
}
