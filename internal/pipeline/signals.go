package pipeline

import "sync/atomic"

// Signals is the input-method state shared between the context monitor
// (writer) and the ingestor (reader).
type Signals struct {
	native atomic.Bool
}

// NativeScript reports whether the composition baseline applies.
func (s *Signals) NativeScript() bool {
	return s.native.Load()
}

// SetNativeScript stores the native-script flag and reports whether it
// changed.
func (s *Signals) SetNativeScript(v bool) bool {
	return s.native.Swap(v) != v
}
