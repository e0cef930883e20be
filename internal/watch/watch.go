// Package watch provides a single-slot, latest-value broadcast cell.
//
// A writer publishes values with Publish, which never blocks. Each reader holds
// its own Receiver and blocks in Wait until a value newer than the one it last
// read is available. Values published in between are coalesced: readers always
// observe the most recent value and never a backlog.
package watch

import (
	"context"
	"sync"
)

// Cell holds the latest published value
type Cell[T any] struct {
	mu      sync.Mutex
	value   T
	version uint64
	changed chan struct{} // closed and replaced on every Publish
}

// NewCell creates a cell holding initial
func NewCell[T any](initial T) *Cell[T] {
	return &Cell[T]{
		value:   initial,
		changed: make(chan struct{}),
	}
}

// Publish replaces the value and wakes every waiting receiver
func (c *Cell[T]) Publish(v T) {
	c.mu.Lock()
	c.value = v
	c.version++
	close(c.changed)
	c.changed = make(chan struct{})
	c.mu.Unlock()
}

// Update applies fn to a copy of the current value and publishes the result
func (c *Cell[T]) Update(fn func(*T)) {
	c.mu.Lock()
	v := c.value
	fn(&v)
	c.value = v
	c.version++
	close(c.changed)
	c.changed = make(chan struct{})
	c.mu.Unlock()
}

// Current returns the latest value without blocking
func (c *Cell[T]) Current() T {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.value
}

// Subscribe returns a receiver that has already seen the current value, so its
// first Wait blocks until the next Publish.
func (c *Cell[T]) Subscribe() *Receiver[T] {
	c.mu.Lock()
	defer c.mu.Unlock()
	return &Receiver[T]{cell: c, seen: c.version}
}

// Receiver tracks the last version read by one consumer.
// A Receiver must not be shared between goroutines.
type Receiver[T any] struct {
	cell *Cell[T]
	seen uint64
}

// Wait blocks until a value newer than the last one returned is published,
// then returns the latest value. It returns ctx.Err() if ctx is done first.
func (r *Receiver[T]) Wait(ctx context.Context) (T, error) {
	for {
		r.cell.mu.Lock()
		if r.cell.version != r.seen {
			r.seen = r.cell.version
			v := r.cell.value
			r.cell.mu.Unlock()
			return v, nil
		}
		changed := r.cell.changed
		r.cell.mu.Unlock()

		select {
		case <-changed:
		case <-ctx.Done():
			var zero T
			return zero, ctx.Err()
		}
	}
}

// Current returns the latest value without blocking and without marking it
// as seen.
func (r *Receiver[T]) Current() T {
	return r.cell.Current()
}
