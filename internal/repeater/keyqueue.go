package repeater

import (
	"errors"
	"sync"
)

var ErrKeyQueueFull = errors.New("repeater: key queue full")

// KeyQueue is a bounded FIFO drained one item at a time through process.
type KeyQueue[T any] struct {
	mu      sync.Mutex
	items   []T
	limit   int
	process func(T) []byte
}

func NewKeyQueue[T any](limit int, process func(T) []byte) *KeyQueue[T] {
	if limit <= 0 {
		limit = 16
	}
	return &KeyQueue[T]{limit: limit, process: process}
}

func (q *KeyQueue[T]) Push(v T) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) >= q.limit {
		return ErrKeyQueueFull
	}
	q.items = append(q.items, v)
	return nil
}

// ProcessOne pops the oldest item and returns its processed form. ok is
// false when the queue is empty.
func (q *KeyQueue[T]) ProcessOne() (out []byte, ok bool) {
	q.mu.Lock()
	if len(q.items) == 0 {
		q.mu.Unlock()
		return nil, false
	}
	v := q.items[0]
	var zero T
	q.items[0] = zero
	q.items = q.items[1:]
	q.mu.Unlock()
	return q.process(v), true
}

func (q *KeyQueue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *KeyQueue[T]) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = nil
}
