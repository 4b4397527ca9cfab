package queue

import (
	"context"
	"runtime"
	"sync/atomic"
)

// slot is padded out to a cache line so neighboring slots never share one.
type slot[T any] struct {
	seq atomic.Uint64 // published when seq == claimed sequence
	val T
	_   [40]byte
}

// Ring is the lock-free implementation: producers claim sequence numbers
// with CAS, write their slot, and publish by storing the slot sequence; the
// consumer spins on the next expected sequence. A gating sequence tracks
// consumption so producers never overwrite unconsumed slots.
type Ring[T Sequenced] struct {
	size uint64
	mask uint64
	mode Mode

	slots []slot[T]

	cursor atomic.Uint64 // highest claimed sequence
	gating atomic.Uint64 // highest consumed sequence
	closed atomic.Bool

	consumerNext uint64 // owned by the consumer goroutine
}

// enqueueSpins bounds the claim loop in RejectNew mode before ErrFull.
const enqueueSpins = 10000

// NewRing creates a ring with the given capacity, which must be a power of
// two.
func NewRing[T Sequenced](capacity uint64, mode Mode) *Ring[T] {
	if capacity == 0 || capacity&(capacity-1) != 0 {
		panic("queue: ring capacity must be a power of two")
	}
	return &Ring[T]{
		size:         capacity,
		mask:         capacity - 1,
		mode:         mode,
		slots:        make([]slot[T], capacity),
		consumerNext: 1,
	}
}

func (r *Ring[T]) Enqueue(ctx context.Context, v T) error {
	spins := 0
	for {
		if r.closed.Load() {
			return ErrClosed
		}

		current := r.cursor.Load()
		next := current + 1

		if next > r.gating.Load()+r.size {
			// Full. Policy decides whether to shed or park.
			if r.mode == RejectNew {
				spins++
				if spins >= enqueueSpins {
					return ErrFull
				}
			} else if err := ctx.Err(); err != nil {
				return err
			}
			runtime.Gosched()
			continue
		}

		if r.cursor.CompareAndSwap(current, next) {
			// The claim order is the authoritative arrival order.
			v.SetArrivalSeq(next)
			s := &r.slots[next&r.mask]
			s.val = v
			s.seq.Store(next)
			return nil
		}
		// Lost the race to another producer; retry.
	}
}

func (r *Ring[T]) DequeueBatch(max int) ([]T, bool) {
	if max <= 0 {
		max = 1
	}

	// Spin for the first item; yield between probes.
	first := &r.slots[r.consumerNext&r.mask]
	for first.seq.Load() != r.consumerNext {
		if r.closed.Load() && r.cursor.Load() < r.consumerNext {
			return nil, false
		}
		runtime.Gosched()
	}

	out := make([]T, 0, max)
	for len(out) < max {
		s := &r.slots[r.consumerNext&r.mask]
		if s.seq.Load() != r.consumerNext {
			break
		}
		out = append(out, s.val)
		var zero T
		s.val = zero
		r.consumerNext++
	}
	r.gating.Store(r.consumerNext - 1)
	return out, true
}

func (r *Ring[T]) Close() {
	r.closed.Store(true)
}

func (r *Ring[T]) Len() int {
	return int(r.cursor.Load() - r.gating.Load())
}
