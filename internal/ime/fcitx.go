package ime

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Fcitx5 D-Bus constants.
const (
	FcitxService               = "org.fcitx.Fcitx5"
	FcitxControllerPath        = "/controller"
	FcitxControllerInterface   = "org.fcitx.Fcitx.Controller1"
	FcitxInputContextInterface = "org.fcitx.Fcitx.InputContext1"

	// fcitxStateActive is Controller1.State for an enabled input method.
	fcitxStateActive = 2

	callTimeout = 200 * time.Millisecond
)

// caller performs one D-Bus method call on the Fcitx5 controller and stores
// the single return value in out.
type caller func(ctx context.Context, method string, out any) error

// Fcitx5 samples Fcitx5 through its controller object. NativeScript is true
// when an input method other than a plain keyboard layout is active.
// Composing comes from the preedit tracker and is always false without one.
type Fcitx5 struct {
	call    caller
	preedit *preeditTracker

	mu   sync.Mutex
	last Context
}

func newFcitx5(call caller, preedit *preeditTracker) *Fcitx5 {
	return &Fcitx5{call: call, preedit: preedit}
}

// Sample implements Source.
func (f *Fcitx5) Sample(ctx context.Context) (Context, error) {
	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	var state int32
	if err := f.call(ctx, "State", &state); err != nil {
		return f.lastKnown(), fmt.Errorf("fcitx5 State: %w", err)
	}

	var im string
	if state == fcitxStateActive {
		if err := f.call(ctx, "CurrentInputMethod", &im); err != nil {
			return f.lastKnown(), fmt.Errorf("fcitx5 CurrentInputMethod: %w", err)
		}
	}

	active := state == fcitxStateActive
	c := Context{
		Composing:    active && f.preedit.Composing(),
		NativeScript: active && isNativeInputMethod(im),
	}
	f.mu.Lock()
	f.last = c
	f.mu.Unlock()
	return c, nil
}

func (f *Fcitx5) lastKnown() Context {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.last
}

// Available implements Source.
func (f *Fcitx5) Available() (bool, string) {
	ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
	defer cancel()
	var state int32
	if err := f.call(ctx, "State", &state); err != nil {
		return false, fmt.Sprintf("fcitx5 controller unreachable: %v", err)
	}
	if f.preedit == nil {
		return true, "fcitx5 (no preedit monitor)"
	}
	return true, "fcitx5"
}

// isNativeInputMethod reports whether im is a composing input method.
// Fcitx5 names plain layouts "keyboard-<layout>".
func isNativeInputMethod(im string) bool {
	return im != "" && !strings.HasPrefix(im, "keyboard-")
}

// preeditTracker follows composition state from InputContext1 traffic seen
// on the session bus.
type preeditTracker struct {
	composing atomic.Bool
}

// Composing reports whether a preedit or candidate list is showing. A nil
// tracker never composes.
func (p *preeditTracker) Composing() bool {
	return p != nil && p.composing.Load()
}

// observe applies one InputContext1 signal or method call.
func (p *preeditTracker) observe(member string, body []any) {
	switch member {
	case "UpdateFormattedPreedit":
		// a(si) preedit, i cursor
		if len(body) >= 1 {
			p.composing.Store(formattedText(body[0]) != "")
		}
	case "UpdateClientSideUI":
		// a(si) preedit, i cursor, a(si) aux up, a(si) aux down, a(ss) candidates, ...
		if len(body) >= 5 {
			p.composing.Store(formattedText(body[0]) != "" || entries(body[4]) > 0)
		}
	case "CommitString", "FocusOut", "Reset", "DestroyIC":
		p.composing.Store(false)
	}
}

// formattedText joins the text of a decoded a(si) value.
func formattedText(v any) string {
	segs, ok := v.([][]any)
	if !ok {
		return ""
	}
	var b strings.Builder
	for _, seg := range segs {
		if len(seg) == 0 {
			continue
		}
		if s, ok := seg[0].(string); ok {
			b.WriteString(s)
		}
	}
	return b.String()
}

func entries(v any) int {
	list, _ := v.([][]any)
	return len(list)
}
