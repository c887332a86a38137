//go:build linux

package keystroke

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"cogstate/internal/logging"
)

func TestFindKeyboardDevices(t *testing.T) {
	content := `I: Bus=0011 Vendor=0001 Product=0001 Version=ab41
N: Name="AT Translated Set 2 keyboard"
H: Handlers=sysrq kbd event3 leds
B: KEY=402000000 3803078f800d001 feffffdfffefffff fffffffffffffffe

I: Bus=0003 Vendor=046d Product=c077 Version=0111
N: Name="USB Optical Mouse"
H: Handlers=mouse0 event5
B: KEY=1f0000 0 0 0 0

I: Bus=0019 Vendor=0000 Product=0001 Version=0000
N: Name="Power Button"
H: Handlers=kbd event1
B: KEY=10000000000000 0
`
	path := filepath.Join(t.TempDir(), "devices")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	devices, err := findKeyboardDevices(path)
	if err != nil {
		t.Fatalf("findKeyboardDevices: %v", err)
	}

	found := map[string]bool{}
	for _, d := range devices {
		found[d] = true
	}
	if !found["/dev/input/event3"] {
		t.Errorf("keyboard not found in %v", devices)
	}
	if found["/dev/input/event5"] {
		t.Errorf("mouse reported as keyboard: %v", devices)
	}
}

func TestEvdevSourceUnavailable(t *testing.T) {
	s := &EvdevSource{devicesFile: filepath.Join(t.TempDir(), "missing")}

	if ok, _ := s.Available(); ok {
		t.Error("expected unavailable source")
	}
	if err := s.Start(t.Context()); err != ErrNotAvailable {
		t.Errorf("expected ErrNotAvailable, got %v", err)
	}
	if err := s.Stop(); err != nil {
		t.Errorf("Stop on idle source: %v", err)
	}
}

func TestReadLoopPanicIsRecorded(t *testing.T) {
	var reports []logging.CrashReport
	crash := logging.NewCrashHandler(&logging.CrashHandlerConfig{
		CrashDir: t.TempDir(),
		Logger:   logging.NewWithWriter(&bytes.Buffer{}, nil),
		OnCrash:  func(r logging.CrashReport) { reports = append(reports, r) },
	})
	s, ok := New(WithCrashHandler(crash)).(*EvdevSource)
	if !ok {
		t.Fatal("expected *EvdevSource")
	}

	// A nil context panics on the first ctx.Err.
	done := make(chan struct{})
	go s.readLoop(nil, nil, done) //nolint:staticcheck
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("readLoop did not close done after panic")
	}

	if len(reports) != 1 {
		t.Fatalf("expected 1 crash report, got %d", len(reports))
	}
	if reports[0].Context["type"] != "goroutine" {
		t.Errorf("type = %v", reports[0].Context["type"])
	}
}
