package keystroke

import (
	"encoding/binary"
	"sync"
	"testing"
)

// =============================================================================
// Tests for KeyEvent
// =============================================================================

func TestIsDeletion(t *testing.T) {
	tests := []struct {
		code uint32
		want bool
	}{
		{KeyBackspace, true},
		{KeyDelete, true},
		{0x41, false},
		{evdevBase + 8, false},
	}
	for _, tt := range tests {
		if got := (KeyEvent{KeyCode: tt.code}).IsDeletion(); got != tt.want {
			t.Errorf("IsDeletion(%#x) = %v, want %v", tt.code, got, tt.want)
		}
	}
}

// =============================================================================
// Tests for Queue
// =============================================================================

func TestQueueDropsNewestWhenFull(t *testing.T) {
	q := NewQueue(2)

	for i := 0; i < 5; i++ {
		q.TrySend(KeyEvent{KeyCode: uint32(i), TimestampMs: uint64(i)})
	}

	if q.Len() != 2 {
		t.Fatalf("expected 2 buffered events, got %d", q.Len())
	}
	if q.Dropped() != 3 {
		t.Errorf("expected 3 dropped, got %d", q.Dropped())
	}

	first := <-q.Events()
	second := <-q.Events()
	if first.KeyCode != 0 || second.KeyCode != 1 {
		t.Errorf("oldest events should survive, got %d and %d", first.KeyCode, second.KeyCode)
	}
}

func TestQueueDefaultSize(t *testing.T) {
	if q := NewQueue(0); q.Cap() != DefaultQueueSize {
		t.Errorf("expected cap %d, got %d", DefaultQueueSize, q.Cap())
	}
}

func TestQueueConcurrentSendersNeverBlock(t *testing.T) {
	q := NewQueue(8)
	var wg sync.WaitGroup

	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				q.TrySend(KeyEvent{})
			}
		}()
	}
	wg.Wait()

	if got := uint64(q.Len()) + q.Dropped(); got != 1000 {
		t.Errorf("buffered+dropped = %d, want 1000", got)
	}
}

// =============================================================================
// Tests for the hook registry
// =============================================================================

func TestRegistry(t *testing.T) {
	hookQueue.Store(nil)
	t.Cleanup(func() { hookQueue.Store(nil) })

	if Deliver(KeyEvent{}) {
		t.Error("Deliver before Register should report false")
	}

	q := NewQueue(4)
	if err := Register(q); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := Register(NewQueue(4)); err != ErrAlreadyRegistered {
		t.Errorf("second Register: expected ErrAlreadyRegistered, got %v", err)
	}
	if Registered() != q {
		t.Error("first queue should stay registered")
	}

	if !Deliver(KeyEvent{KeyCode: KeyBackspace, IsPress: true}) {
		t.Fatal("Deliver after Register should succeed")
	}
	if ev := <-q.Events(); ev.KeyCode != KeyBackspace {
		t.Errorf("unexpected event %+v", ev)
	}

	if err := Register(nil); err == nil {
		t.Error("Register(nil) should fail")
	}
}

// =============================================================================
// Tests for evdev decoding
// =============================================================================

func frame64(sec, usec int64, typ, code uint16, value int32) []byte {
	buf := make([]byte, frameSize(16))
	binary.LittleEndian.PutUint64(buf[0:], uint64(sec))
	binary.LittleEndian.PutUint64(buf[8:], uint64(usec))
	binary.LittleEndian.PutUint16(buf[16:], typ)
	binary.LittleEndian.PutUint16(buf[18:], code)
	binary.LittleEndian.PutUint32(buf[20:], uint32(value))
	return buf
}

func TestDecodeFrame(t *testing.T) {
	tests := []struct {
		name   string
		frame  []byte
		wantOK bool
		want   KeyEvent
	}{
		{
			name:   "backspace press",
			frame:  frame64(10, 250_000, evKey, evdevKeyBackspace, evValuePress),
			wantOK: true,
			want:   KeyEvent{KeyCode: KeyBackspace, TimestampMs: 10_250, IsPress: true},
		},
		{
			name:   "delete release",
			frame:  frame64(1, 0, evKey, evdevKeyDelete, evValueRelease),
			wantOK: true,
			want:   KeyEvent{KeyCode: KeyDelete, TimestampMs: 1000, IsPress: false},
		},
		{
			name:   "autorepeat counts as press",
			frame:  frame64(2, 1000, evKey, 30, evValueRepeat),
			wantOK: true,
			want:   KeyEvent{KeyCode: evdevBase + 30, TimestampMs: 2001, IsPress: true},
		},
		{
			name:   "sync event ignored",
			frame:  frame64(2, 0, 0x00, 0, 0),
			wantOK: false,
		},
		{
			name:   "short buffer",
			frame:  make([]byte, 10),
			wantOK: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := decodeFrame(tt.frame, 16, binary.LittleEndian)
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOK)
			}
			if ok && got != tt.want {
				t.Errorf("got %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestDecodeFrame32BitTimeval(t *testing.T) {
	buf := make([]byte, frameSize(8))
	binary.LittleEndian.PutUint32(buf[0:], 3)
	binary.LittleEndian.PutUint32(buf[4:], 500_000)
	binary.LittleEndian.PutUint16(buf[8:], evKey)
	binary.LittleEndian.PutUint16(buf[10:], 16)
	binary.LittleEndian.PutUint32(buf[12:], evValuePress)

	ev, ok := decodeFrame(buf, 8, binary.LittleEndian)
	if !ok {
		t.Fatal("expected a key event")
	}
	if ev.TimestampMs != 3500 || !ev.IsPress || ev.KeyCode != evdevBase+16 {
		t.Errorf("unexpected event %+v", ev)
	}
}

func TestTranslateKeyAvoidsSharedCodes(t *testing.T) {
	// evdev KEY_7 is 8, which must not read as Backspace.
	if translateKey(8) == KeyBackspace {
		t.Error("evdev code 8 collided with Backspace")
	}
	if translateKey(46) == KeyDelete {
		t.Error("evdev code 46 collided with Delete")
	}
}
