// Package queue provides a bounded FIFO ring buffer that evicts its oldest
// entry on overflow.
package queue

// Ring is a fixed-capacity FIFO. It is not safe for concurrent use; callers
// guard it with their own lock.
type Ring[T any] struct {
	buf  []T
	head int // index of the oldest entry
	n    int
}

// New returns an empty ring holding at most capacity entries.
func New[T any](capacity int) *Ring[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Ring[T]{buf: make([]T, capacity)}
}

// Len returns the number of entries held.
func (r *Ring[T]) Len() int { return r.n }

// Cap returns the maximum number of entries.
func (r *Ring[T]) Cap() int { return len(r.buf) }

// Push appends v. When the ring is full the oldest entry is removed first and
// returned with evicted=true.
func (r *Ring[T]) Push(v T) (old T, evicted bool) {
	if r.n == len(r.buf) {
		old = r.buf[r.head]
		r.buf[r.head] = v
		r.head = (r.head + 1) % len(r.buf)
		return old, true
	}
	r.buf[(r.head+r.n)%len(r.buf)] = v
	r.n++
	return old, false
}

// Pop removes and returns the oldest entry.
func (r *Ring[T]) Pop() (v T, ok bool) {
	if r.n == 0 {
		return v, false
	}
	var zero T
	v = r.buf[r.head]
	r.buf[r.head] = zero
	r.head = (r.head + 1) % len(r.buf)
	r.n--
	return v, true
}

// Peek returns the oldest entry without removing it.
func (r *Ring[T]) Peek() (v T, ok bool) {
	if r.n == 0 {
		return v, false
	}
	return r.buf[r.head], true
}

// At returns the i-th entry counting from the oldest.
func (r *Ring[T]) At(i int) T {
	return r.buf[(r.head+i)%len(r.buf)]
}

// Last returns a copy of the newest n entries, oldest first. n <= 0 or
// n > Len returns every entry.
func (r *Ring[T]) Last(n int) []T {
	if n <= 0 || n > r.n {
		n = r.n
	}
	out := make([]T, n)
	start := r.n - n
	for i := range n {
		out[i] = r.At(start + i)
	}
	return out
}
