package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"path/filepath"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected Level
		hasError bool
	}{
		{"debug", LevelDebug, false},
		{"DEBUG", LevelDebug, false},
		{"info", LevelInfo, false},
		{"warn", LevelWarn, false},
		{"warning", LevelWarn, false},
		{"error", LevelError, false},
		{"invalid", LevelInfo, true},
		{"", LevelInfo, true},
	}

	for _, test := range tests {
		t.Run(test.input, func(t *testing.T) {
			level, err := ParseLevel(test.input)
			if test.hasError && err == nil {
				t.Error("expected error, got nil")
			}
			if !test.hasError && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
			if !test.hasError && level != test.expected {
				t.Errorf("expected %v, got %v", test.expected, level)
			}
		})
	}
}

func TestLevelStringRoundTrip(t *testing.T) {
	for _, level := range []Level{LevelDebug, LevelInfo, LevelWarn, LevelError} {
		parsed, err := ParseLevel(LevelString(level))
		if err != nil {
			t.Fatalf("ParseLevel(%q): %v", LevelString(level), err)
		}
		if parsed != level {
			t.Errorf("expected %v, got %v", level, parsed)
		}
	}
}

func TestParseFormat(t *testing.T) {
	if f, err := ParseFormat("json"); err != nil || f != FormatJSON {
		t.Errorf("json: got %v, %v", f, err)
	}
	if f, err := ParseFormat(""); err != nil || f != FormatText {
		t.Errorf("empty: got %v, %v", f, err)
	}
	if _, err := ParseFormat("xml"); err == nil {
		t.Error("expected error for xml")
	}
}

func TestShouldRedact(t *testing.T) {
	tests := []struct {
		key      string
		expected bool
	}{
		{"key_code", true},
		{"KeyCode", true},
		{"preedit", true},
		{"password", true},
		{"context", false},
		{"p_flow", false},
		{"f1", false},
		{"obs", false},
	}

	for _, test := range tests {
		t.Run(test.key, func(t *testing.T) {
			if got := shouldRedact(test.key); got != test.expected {
				t.Errorf("shouldRedact(%q) = %v, expected %v", test.key, got, test.expected)
			}
		})
	}
}

func TestJSONFormatAndComponent(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(&buf, &Config{Level: LevelInfo, Format: FormatJSON, Component: "engine"})

	logger.Info("update applied", "obs", 3, "key_code", 8)

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("output is not JSON: %v (%q)", err, buf.String())
	}
	if entry["component"] != "engine" {
		t.Errorf("component = %v", entry["component"])
	}
	if entry["key_code"] != "[REDACTED]" {
		t.Errorf("key_code not redacted: %v", entry["key_code"])
	}
	if entry["obs"] != float64(3) {
		t.Errorf("obs = %v", entry["obs"])
	}
}

func TestSetLevelPropagatesToChildren(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(&buf, &Config{Level: LevelWarn, Format: FormatText})
	child := logger.WithComponent("ingest")

	child.Info("hidden")
	if buf.Len() != 0 {
		t.Fatalf("info logged at warn level: %q", buf.String())
	}

	logger.SetLevel(LevelDebug)
	child.Debug("visible")
	if !strings.Contains(buf.String(), "visible") {
		t.Errorf("debug not logged after SetLevel: %q", buf.String())
	}
	if child.Level() != LevelDebug {
		t.Errorf("child level = %v", child.Level())
	}
}

func TestFileRotatorRotation(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "test.log")

	rotator, err := NewFileRotator(&Config{
		FilePath:   logPath,
		MaxSize:    1,
		MaxBackups: 2,
		Compress:   false,
	})
	if err != nil {
		t.Fatalf("failed to create rotator: %v", err)
	}

	chunk := bytes.Repeat([]byte("x"), 700*1024)
	for i := 0; i < 3; i++ {
		n, err := rotator.Write(chunk)
		if err != nil {
			t.Fatalf("write %d: %v", i, err)
		}
		if n != len(chunk) {
			t.Fatalf("short write: %d", n)
		}
	}
	if err := rotator.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	rolled, err := rotator.Rolled()
	if err != nil {
		t.Fatalf("rolled: %v", err)
	}
	if len(rolled) == 0 {
		t.Error("expected at least one rotated file")
	}
	if len(rolled) > 2 {
		t.Errorf("expected at most 2 backups, got %d", len(rolled))
	}
}

func TestCrashHandlerGuard(t *testing.T) {
	dir := t.TempDir()
	var buf bytes.Buffer
	var seen []CrashReport

	h := NewCrashHandler(&CrashHandlerConfig{
		CrashDir:  dir,
		Component: "test",
		Logger:    NewWithWriter(&buf, &Config{Level: LevelInfo}),
		OnCrash:   func(r CrashReport) { seen = append(seen, r) },
	})
	h.SetSessionID("s-1")

	err := h.Guard("ingest", func() error { panic("boom") })()
	if !errors.Is(err, ErrPanicked) {
		t.Fatalf("expected ErrPanicked, got %v", err)
	}
	if len(seen) != 1 || seen[0].PanicValue != "boom" || seen[0].SessionID != "s-1" {
		t.Fatalf("unexpected reports: %+v", seen)
	}

	reports, err := h.CrashReports()
	if err != nil {
		t.Fatalf("CrashReports: %v", err)
	}
	if len(reports) != 1 {
		t.Fatalf("expected 1 dump, got %d", len(reports))
	}
	if reports[0].Context["role"] != "ingest" {
		t.Errorf("role = %v", reports[0].Context["role"])
	}
	if !strings.Contains(buf.String(), "recovered panic") {
		t.Errorf("crash not logged: %q", buf.String())
	}
}

func TestCrashHandlerGuardPassesErrors(t *testing.T) {
	h := NewCrashHandler(&CrashHandlerConfig{Logger: NewWithWriter(&bytes.Buffer{}, nil)})
	want := errors.New("plain")
	if err := h.Guard("x", func() error { return want })(); err != want {
		t.Errorf("expected %v, got %v", want, err)
	}
	if err := h.Guard("x", func() error { return nil })(); err != nil {
		t.Errorf("expected nil, got %v", err)
	}
}

func TestCrashHandlerRecoverGoroutine(t *testing.T) {
	var seen []CrashReport
	h := NewCrashHandler(&CrashHandlerConfig{
		CrashDir: t.TempDir(),
		Logger:   NewWithWriter(&bytes.Buffer{}, nil),
		OnCrash:  func(r CrashReport) { seen = append(seen, r) },
	})

	done := make(chan struct{})
	go func() {
		defer close(done)
		defer h.RecoverGoroutine()
		panic("reader")
	}()
	<-done

	if len(seen) != 1 || seen[0].PanicValue != "reader" {
		t.Fatalf("unexpected reports: %+v", seen)
	}
	if seen[0].Context["type"] != "goroutine" {
		t.Errorf("type = %v", seen[0].Context["type"])
	}
}

func TestNilCrashHandlerRepanics(t *testing.T) {
	var h *CrashHandler
	defer func() {
		if r := recover(); r != "again" {
			t.Errorf("expected re-panic, got %v", r)
		}
	}()
	func() {
		defer h.RecoverGoroutine()
		panic("again")
	}()
}

func TestNilCrashHandlerIgnoresCleanExit(t *testing.T) {
	var h *CrashHandler
	func() {
		defer h.RecoverGoroutine()
	}()
}
