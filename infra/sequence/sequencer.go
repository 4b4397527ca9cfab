// Package sequence provides the monotonic counters behind order ids and
// log sequence numbers. A Sequencer is deterministic and replay-safe: after
// recovery it is Reset to the last durable value and continues from there.
package sequence

import "sync/atomic"

// Sequencer hands out strictly monotonic values. Values are never reused.
type Sequencer struct {
	last atomic.Uint64
}

// New creates a sequencer whose next value is start+1.
// Fresh start: start = 0. After recovery: start = last replayed value.
func New(start uint64) *Sequencer {
	s := &Sequencer{}
	s.last.Store(start)
	return s
}

// Next returns the next value.
func (s *Sequencer) Next() uint64 {
	return s.last.Add(1)
}

// Current returns the last issued value.
func (s *Sequencer) Current() uint64 {
	return s.last.Load()
}

// Reset rewinds or advances the sequencer. Only valid after replay or
// follower promotion, before the writer accepts traffic.
func (s *Sequencer) Reset(v uint64) {
	s.last.Store(v)
}
