package keystroke

import (
	"encoding/binary"
	"time"
)

// Linux input_event constants.
const (
	evKey = 0x01

	evValueRelease = 0
	evValuePress   = 1
	evValueRepeat  = 2

	evdevKeyBackspace = 14
	evdevKeyDelete    = 111

	evdevBase uint32 = 0x10000
)

// frameSize returns the size of struct input_event for a timeval of tvSize
// bytes (16 on 64-bit kernels, 8 on 32-bit).
func frameSize(tvSize int) int {
	return tvSize + 8
}

// decodeFrame parses one native-endian input_event. ok is false for anything
// that is not a key press, repeat or release.
func decodeFrame(buf []byte, tvSize int, order binary.ByteOrder) (KeyEvent, bool) {
	if len(buf) < frameSize(tvSize) {
		return KeyEvent{}, false
	}

	var sec, usec int64
	switch tvSize {
	case 16:
		sec = int64(order.Uint64(buf[0:8]))
		usec = int64(order.Uint64(buf[8:16]))
	case 8:
		sec = int64(int32(order.Uint32(buf[0:4])))
		usec = int64(int32(order.Uint32(buf[4:8])))
	default:
		return KeyEvent{}, false
	}

	typ := order.Uint16(buf[tvSize : tvSize+2])
	code := order.Uint16(buf[tvSize+2 : tvSize+4])
	value := int32(order.Uint32(buf[tvSize+4 : tvSize+8]))

	if typ != evKey {
		return KeyEvent{}, false
	}

	var press bool
	switch value {
	case evValuePress, evValueRepeat:
		press = true
	case evValueRelease:
		press = false
	default:
		return KeyEvent{}, false
	}

	if sec < 0 || usec < 0 {
		return KeyEvent{}, false
	}
	ts := time.Unix(sec, usec*int64(time.Microsecond)).UnixMilli()

	return KeyEvent{
		KeyCode:     translateKey(code),
		TimestampMs: uint64(ts),
		IsPress:     press,
	}, true
}

// translateKey maps an evdev key code into the shared code space.
func translateKey(code uint16) uint32 {
	switch code {
	case evdevKeyBackspace:
		return KeyBackspace
	case evdevKeyDelete:
		return KeyDelete
	default:
		return evdevBase + uint32(code)
	}
}
