package features

// ring is a fixed-capacity circular buffer that overwrites the oldest entry
// when full. Not safe for concurrent use; the extractor has a single owner.
type ring[T any] struct {
	buf   []T
	head  int // next write position
	count int
}

func newRing[T any](size int) *ring[T] {
	return &ring[T]{buf: make([]T, size)}
}

func (r *ring[T]) push(v T) {
	r.buf[r.head] = v
	r.head = (r.head + 1) % len(r.buf)
	if r.count < len(r.buf) {
		r.count++
	}
}

// at returns the i-th entry, oldest first.
func (r *ring[T]) at(i int) T {
	start := 0
	if r.count == len(r.buf) {
		start = r.head
	}
	return r.buf[(start+i)%len(r.buf)]
}

// last returns the newest entry.
func (r *ring[T]) last() (T, bool) {
	var zero T
	if r.count == 0 {
		return zero, false
	}
	return r.at(r.count - 1), true
}

func (r *ring[T]) len() int { return r.count }

func (r *ring[T]) reset() {
	clear(r.buf)
	r.head, r.count = 0, 0
}
