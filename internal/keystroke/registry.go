package keystroke

import (
	"errors"
	"sync/atomic"
)

// Platform hook callbacks receive no user pointer, so the queue they feed has
// to be reachable from package state. This is the only global in the
// pipeline: it is set once before a Source starts and lives until exit.
var hookQueue atomic.Pointer[Queue]

// Register installs q as the destination for Deliver. It succeeds once per
// process; later calls return ErrAlreadyRegistered and leave the first queue
// in place.
func Register(q *Queue) error {
	if q == nil {
		return errors.New("keystroke: nil queue")
	}
	if !hookQueue.CompareAndSwap(nil, q) {
		return ErrAlreadyRegistered
	}
	return nil
}

// Registered returns the installed queue, or nil.
func Registered() *Queue {
	return hookQueue.Load()
}

// Deliver forwards ev from a hook callback. It never blocks and is a no-op
// before Register.
func Deliver(ev KeyEvent) bool {
	q := hookQueue.Load()
	if q == nil {
		return false
	}
	return q.TrySend(ev)
}
