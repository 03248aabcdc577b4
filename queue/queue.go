// Package queue implements a generic bounded FIFO.
package queue

// Queue is a FIFO that can hold any type. When constructed with a capacity,
// enqueueing past the cap evicts the oldest element, which makes it a
// rolling window over the most recent items.
type Queue[T any] struct {
	items []T
	cap   int
}

// New creates an unbounded Queue.
func New[T any]() *Queue[T] {
	return &Queue[T]{items: []T{}}
}

// NewBounded creates a Queue that retains at most cap elements. A cap of
// zero or less means unbounded.
func NewBounded[T any](cap int) *Queue[T] {
	return &Queue[T]{items: []T{}, cap: cap}
}

// Enqueue adds an element to the end of the queue, evicting the oldest
// element first if the queue is at capacity.
func (q *Queue[T]) Enqueue(item T) {
	if q.cap > 0 && len(q.items) >= q.cap {
		q.items = q.items[1:]
	}
	q.items = append(q.items, item)
}

// Dequeue removes and returns the front element of the queue.
// The boolean is false if the queue was empty.
func (q *Queue[T]) Dequeue() (T, bool) {
	if len(q.items) == 0 {
		var zero T
		return zero, false
	}
	item := q.items[0]
	q.items = q.items[1:]
	return item, true
}

// Peek returns the front element without removing it.
func (q *Queue[T]) Peek() (T, bool) {
	if len(q.items) == 0 {
		var zero T
		return zero, false
	}
	return q.items[0], true
}

// Items returns the queued elements oldest-first. The slice is a copy.
func (q *Queue[T]) Items() []T {
	out := make([]T, len(q.items))
	copy(out, q.items)
	return out
}

// Len returns the number of elements in the queue.
func (q *Queue[T]) Len() int {
	return len(q.items)
}

// IsEmpty returns true if the queue is empty.
func (q *Queue[T]) IsEmpty() bool {
	return len(q.items) == 0
}

// Clear removes every element.
func (q *Queue[T]) Clear() {
	q.items = q.items[:0]
}
