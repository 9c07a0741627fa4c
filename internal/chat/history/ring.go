package history

import (
	"fmt"
	"sync"
)

// Ring - accumulates a limited number of items in chronological order.
// When ring is full, it drops the oldest item on every push.
type Ring[T any] struct {
	mu    sync.RWMutex
	data  []T
	start int
	size  int
}

// NewRing - builds history ring which keeps up to max items.
func NewRing[T any](max int) (*Ring[T], error) {
	if max <= 0 {
		return nil, fmt.Errorf("history.NewRing: max (%d) must be greater than 0", max)
	}
	return &Ring[T]{data: make([]T, max)}, nil
}

// Len - returns number of currently kept items.
func (r *Ring[T]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.size
}

// Push - adds item to history.
func (r *Ring[T]) Push(item T) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.size < len(r.data) {
		r.data[(r.start+r.size)%len(r.data)] = item
		r.size++
		return
	}
	r.data[r.start] = item
	r.start = (r.start + 1) % len(r.data)
}

// Tail - makes copy of last n items. The first item in resulting slice is the oldest one.
// Negative n is treated as its absolute value.
func (r *Ring[T]) Tail(n int) []T {
	if n < 0 {
		n = -n
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	if n > r.size {
		n = r.size
	}
	tail := make([]T, n)
	for i := 0; i < n; i++ {
		tail[i] = r.data[(r.start+r.size-n+i)%len(r.data)]
	}
	return tail
}
