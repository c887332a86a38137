// Package ime reports the two input-method signals the analysis pipeline
// reacts to: whether a composition (candidate selection) UI is active, and
// whether the input method is in native-script rather than direct mode.
//
// On Linux both come from Fcitx5. Native script is read from the controller
// object; composition is tracked by monitoring InputContext1 preedit traffic
// on the session bus. Applications using the XIM or Wayland frontends never
// show up there, so for them Composing stays false.
package ime

import (
	"context"
	"errors"
	"sync/atomic"
)

// Context is one sample of the input-method state.
type Context struct {
	// Composing is true while composition or candidate selection is on
	// screen; analysis is paused meanwhile.
	Composing bool
	// NativeScript is true when the input method produces native script
	// (for example kana) instead of direct ASCII.
	NativeScript bool
}

// Source samples the input-method state.
type Source interface {
	// Sample returns the current state. On error the returned Context is
	// the last known good value.
	Sample(ctx context.Context) (Context, error)

	// Available reports whether the source can answer.
	Available() (bool, string)
}

// ErrNotAvailable is returned when no input-method framework is reachable.
var ErrNotAvailable = errors.New("input method source not available")

// Static is a Source whose state is set programmatically. It is the
// fallback when no framework is reachable, and the test double.
type Static struct {
	composing atomic.Bool
	native    atomic.Bool
	err       atomic.Pointer[error]
}

// NewStatic returns a Static source with both signals off.
func NewStatic() *Static {
	return &Static{}
}

// SetComposing sets the composition signal.
func (s *Static) SetComposing(v bool) { s.composing.Store(v) }

// SetNativeScript sets the native-script signal.
func (s *Static) SetNativeScript(v bool) { s.native.Store(v) }

// SetError makes Sample fail with err; nil clears it.
func (s *Static) SetError(err error) {
	if err == nil {
		s.err.Store(nil)
		return
	}
	s.err.Store(&err)
}

// Sample implements Source.
func (s *Static) Sample(context.Context) (Context, error) {
	c := Context{Composing: s.composing.Load(), NativeScript: s.native.Load()}
	if p := s.err.Load(); p != nil {
		return c, *p
	}
	return c, nil
}

// Available implements Source.
func (s *Static) Available() (bool, string) {
	return true, "static"
}

// New returns the platform source, or a Static source when none is
// reachable.
func New() Source {
	if src, err := newPlatformSource(); err == nil {
		return src
	}
	return NewStatic()
}
