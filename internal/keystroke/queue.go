package keystroke

import "sync/atomic"

// DefaultQueueSize bounds the hook-to-ingestion channel.
const DefaultQueueSize = 64

// Queue is a bounded hand-off between a hook and the ingestion loop.
// Sends never block: when the buffer is full the event being sent is
// dropped and counted.
type Queue struct {
	ch      chan KeyEvent
	dropped atomic.Uint64
}

// NewQueue returns a Queue holding at most size events.
func NewQueue(size int) *Queue {
	if size <= 0 {
		size = DefaultQueueSize
	}
	return &Queue{ch: make(chan KeyEvent, size)}
}

// TrySend enqueues ev without blocking. It returns false if ev was dropped.
func (q *Queue) TrySend(ev KeyEvent) bool {
	select {
	case q.ch <- ev:
		return true
	default:
		q.dropped.Add(1)
		return false
	}
}

// Events is the receive side, drained by the ingestion loop.
func (q *Queue) Events() <-chan KeyEvent {
	return q.ch
}

// Dropped returns the number of events lost to backpressure.
func (q *Queue) Dropped() uint64 {
	return q.dropped.Load()
}

// Len returns the number of buffered events.
func (q *Queue) Len() int {
	return len(q.ch)
}

// Cap returns the queue capacity.
func (q *Queue) Cap() int {
	return cap(q.ch)
}
