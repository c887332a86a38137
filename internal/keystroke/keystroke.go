// Package keystroke delivers raw key timing from a platform input source to
// the analysis pipeline.
//
// Events carry a key code, a millisecond timestamp and the press/release
// direction. Only two key codes are meaningful downstream (Backspace and
// Delete); everything else is reduced to "some other key" by the consumers.
//
// Platform support:
//   - Linux: /dev/input/event* (requires the input group or root)
//   - Others: no source; the pipeline still runs and only sees silence
package keystroke

import (
	"context"
	"errors"

	"cogstate/internal/logging"
)

// Key codes shared by every source. Non-deletion keys from evdev are offset
// by evdevBase so they can never collide with these.
const (
	KeyBackspace uint32 = 0x08
	KeyDelete    uint32 = 0x2E
)

// KeyEvent is one key transition. Immutable once produced.
type KeyEvent struct {
	KeyCode     uint32
	TimestampMs uint64
	IsPress     bool
}

// IsDeletion reports whether the key is Backspace or Delete.
func (e KeyEvent) IsDeletion() bool {
	return IsDeletion(e.KeyCode)
}

// IsDeletion reports whether code is Backspace or Delete.
func IsDeletion(code uint32) bool {
	return code == KeyBackspace || code == KeyDelete
}

// Source produces KeyEvents from a platform hook and hands them to the
// process-wide registry (see Deliver).
type Source interface {
	// Start begins reading events. It returns once the source is running.
	Start(ctx context.Context) error

	// Stop stops reading and waits for the reader to exit.
	Stop() error

	// Available reports whether the source can run with current permissions.
	Available() (bool, string)
}

// Option configures a platform Source.
type Option func(*options)

type options struct {
	crash *logging.CrashHandler
}

// WithCrashHandler records panics in the source's reader goroutine through h.
func WithCrashHandler(h *logging.CrashHandler) Option {
	return func(o *options) { o.crash = h }
}

// New creates a Source for the current platform.
func New(opts ...Option) Source {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	return newPlatformSource(o)
}

var (
	// ErrNotAvailable is returned when no keyboard source can be opened.
	ErrNotAvailable = errors.New("keystroke source not available")

	// ErrAlreadyRunning is returned by Start on a running source.
	ErrAlreadyRunning = errors.New("keystroke source already running")

	// ErrAlreadyRegistered is returned by Register after the first call.
	ErrAlreadyRegistered = errors.New("keystroke queue already registered")
)
