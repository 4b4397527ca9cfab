// Package queue funnels concurrently submitted commands to the single
// matching writer. It is the only concurrently accessed structure on the hot
// path; everything downstream of DequeueBatch is single-threaded.
//
// Two implementations share one contract: a lock-free ring (CAS claim with a
// gating sequence, LMAX style) and a channel-backed baseline. The ring trades
// code complexity for zero allocation and no lock convoy under contention;
// the channel version is simpler and fast enough for modest producers. Both
// are kept so deployments can pick per workload.
package queue

import (
	"context"
	"errors"
)

// ErrFull is the caller-visible backpressure signal in reject-new mode.
var ErrFull = errors.New("queue: full")

// ErrClosed is returned for enqueues after Close.
var ErrClosed = errors.New("queue: closed")

// Mode selects the overflow policy. Reject-new is the default: it protects
// the latency of already-accepted work, whereas blocking producers risks
// unbounded memory growth upstream.
type Mode uint8

const (
	// RejectNew fails fast with ErrFull when the queue is at capacity.
	RejectNew Mode = iota
	// BlockProducer parks the producer until space frees or ctx ends.
	BlockProducer
)

// Sequenced is implemented by queued items that receive their authoritative
// arrival sequence from the queue. The sequence defines the single total
// order the matching writer observes; it is never reassigned.
type Sequenced interface {
	SetArrivalSeq(uint64)
}

// Queue is a bounded multi-producer, single-consumer command channel.
// DequeueBatch must only be called from the matching goroutine.
type Queue[T Sequenced] interface {
	// Enqueue either succeeds, blocks under BlockProducer, or fails fast
	// with ErrFull under RejectNew.
	Enqueue(ctx context.Context, v T) error

	// DequeueBatch blocks until at least one item is available, then
	// returns up to max items in strict arrival order. ok is false once
	// the queue is closed and drained.
	DequeueBatch(max int) (items []T, ok bool)

	// Close stops intake and lets the consumer drain.
	Close()

	// Len reports the number of queued items, approximately.
	Len() int
}
