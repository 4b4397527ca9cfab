package queue

import (
	"context"
	"sync"
)

// Chan is the channel-backed baseline. A buffered channel already gives
// FIFO, bounded capacity and producer parking; the consumer stamps arrival
// sequences at dequeue, which yields the same single total order because
// only one goroutine dequeues.
type Chan[T Sequenced] struct {
	ch   chan T
	mode Mode

	mu     sync.RWMutex
	closed bool

	next uint64 // owned by the consumer goroutine
}

func NewChan[T Sequenced](capacity int, mode Mode) *Chan[T] {
	return &Chan[T]{
		ch:   make(chan T, capacity),
		mode: mode,
	}
}

func (q *Chan[T]) Enqueue(ctx context.Context, v T) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrClosed
	}

	if q.mode == RejectNew {
		select {
		case q.ch <- v:
			return nil
		default:
			return ErrFull
		}
	}

	select {
	case q.ch <- v:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *Chan[T]) DequeueBatch(max int) ([]T, bool) {
	if max <= 0 {
		max = 1
	}

	v, ok := <-q.ch
	if !ok {
		return nil, false
	}

	out := make([]T, 0, max)
	q.next++
	v.SetArrivalSeq(q.next)
	out = append(out, v)

	for len(out) < max {
		select {
		case v, ok := <-q.ch:
			if !ok {
				return out, true
			}
			q.next++
			v.SetArrivalSeq(q.next)
			out = append(out, v)
		default:
			return out, true
		}
	}
	return out, true
}

func (q *Chan[T]) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		q.closed = true
		close(q.ch)
	}
}

func (q *Chan[T]) Len() int {
	return len(q.ch)
}
