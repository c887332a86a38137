package engine

import "sync"

// Guarded is a mutex-protected value that survives a failed critical
// section. Update works on a copy and commits only when the callback
// returns normally; if the callback panics, the last committed value is
// kept and the panic is absorbed. T should be a value type.
type Guarded[T any] struct {
	mu sync.Mutex
	v  T

	// OnSalvage, if set, is called (with the lock held) after a callback
	// panicked.
	OnSalvage func(recovered any)
}

// NewGuarded returns a Guarded holding v.
func NewGuarded[T any](v T) *Guarded[T] {
	return &Guarded[T]{v: v}
}

// Load returns a copy of the current value.
func (g *Guarded[T]) Load() T {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.v
}

// Store replaces the value.
func (g *Guarded[T]) Store(v T) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.v = v
}

// Update applies fn to a copy of the value and commits it. It returns the
// value now held and whether fn completed.
func (g *Guarded[T]) Update(fn func(*T)) (v T, ok bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	defer func() {
		if r := recover(); r != nil {
			if g.OnSalvage != nil {
				g.OnSalvage(r)
			}
			v, ok = g.v, false
		}
	}()

	next := g.v
	fn(&next)
	g.v = next
	return next, true
}
