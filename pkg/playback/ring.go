// ABOUTME: Fixed-capacity circular queue
// ABOUTME: Overwrites the oldest entry when pushed past capacity
package playback

// Ring is a fixed-capacity circular queue. Push past capacity
// overwrites the oldest element rather than failing.
type Ring[T any] struct {
	items []T
	head  int
	size  int
}

// NewRing creates a ring with the given capacity (minimum 1).
func NewRing[T any](capacity int) *Ring[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Ring[T]{items: make([]T, capacity)}
}

// Push appends an element. When full it overwrites the oldest entry and
// returns it with overwrote=true.
func (r *Ring[T]) Push(v T) (evicted T, overwrote bool) {
	tail := (r.head + r.size) % len(r.items)
	if r.size == len(r.items) {
		evicted = r.items[r.head]
		r.items[r.head] = v
		r.head = (r.head + 1) % len(r.items)
		return evicted, true
	}
	r.items[tail] = v
	r.size++
	return evicted, false
}

// Pop removes and returns the oldest element.
func (r *Ring[T]) Pop() (T, bool) {
	var zero T
	if r.size == 0 {
		return zero, false
	}
	v := r.items[r.head]
	r.items[r.head] = zero
	r.head = (r.head + 1) % len(r.items)
	r.size--
	return v, true
}

// Len returns the number of buffered elements.
func (r *Ring[T]) Len() int { return r.size }

// Cap returns the fixed capacity.
func (r *Ring[T]) Cap() int { return len(r.items) }

// Clear removes every element.
func (r *Ring[T]) Clear() {
	var zero T
	for i := range r.items {
		r.items[i] = zero
	}
	r.head = 0
	r.size = 0
}
