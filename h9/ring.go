package h9

import (
	"fmt"
	"sync/atomic"
)

// Ring is a fixed-capacity single-producer/single-consumer queue.
//
// One slot is always kept free so that equal cursors mean empty; a ring of
// size n therefore holds n-1 entries. TryPush may only be called by the
// producer and TryPop/Peek only by the consumer. The slot is written before
// the cursor that publishes it.
type Ring[T any] struct {
	slots []T
	mask  uint32
	write atomic.Uint32
	read  atomic.Uint32
}

// NewRing returns a ring with size slots. size must be a power of two >= 2.
func NewRing[T any](size int) *Ring[T] {
	if size < 2 || size&(size-1) != 0 {
		panic(fmt.Sprintf("h9: ring size %d is not a power of two >= 2", size))
	}
	return &Ring[T]{slots: make([]T, size), mask: uint32(size - 1)}
}

// TryPush appends v. It reports false when the ring is full.
func (r *Ring[T]) TryPush(v T) bool {
	w := r.write.Load()
	next := (w + 1) & r.mask
	if next == r.read.Load() {
		return false
	}
	r.slots[w] = v
	r.write.Store(next)
	return true
}

// TryPop removes and returns the oldest entry.
func (r *Ring[T]) TryPop() (T, bool) {
	v, ok := r.Peek()
	if ok {
		r.read.Store((r.read.Load() + 1) & r.mask)
	}
	return v, ok
}

// Peek returns the oldest entry without removing it.
func (r *Ring[T]) Peek() (T, bool) {
	rd := r.read.Load()
	if rd == r.write.Load() {
		var zero T
		return zero, false
	}
	return r.slots[rd], true
}

// Len returns the number of queued entries.
func (r *Ring[T]) Len() int {
	return int((r.write.Load() - r.read.Load()) & r.mask)
}

// Cap returns the number of usable slots.
func (r *Ring[T]) Cap() int { return len(r.slots) - 1 }
