package engine

import (
	"crypto/sha256"
	"encoding/binary"
	"time"
)

// idempotencyStore remembers committed submit results by client key so a
// retried request returns the original outcome instead of creating a second
// order. Entries expire after a TTL; only the matching writer touches the
// store, so no locking. State is in-memory only: after a restart a retried
// duplicate may be re-executed, which callers must tolerate.
type idempotencyStore struct {
	ttl     time.Duration
	now     func() time.Time
	entries map[string]*idemEntry
}

type idemEntry struct {
	hash    [32]byte
	result  Result
	addedAt time.Time
}

func newIdempotencyStore(ttl time.Duration) *idempotencyStore {
	return &idempotencyStore{
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]*idemEntry),
	}
}

// Lookup returns the cached result for key, and whether the stored payload
// hash conflicts with this request. (cached, hit, conflict)
func (s *idempotencyStore) Lookup(key string, hash [32]byte) (Result, bool, bool) {
	e, ok := s.entries[key]
	if !ok {
		return Result{}, false, false
	}
	if s.now().Sub(e.addedAt) > s.ttl {
		delete(s.entries, key)
		return Result{}, false, false
	}
	if e.hash != hash {
		return Result{}, true, true
	}
	return e.result, true, false
}

func (s *idempotencyStore) Store(key string, hash [32]byte, r Result) {
	s.entries[key] = &idemEntry{hash: hash, result: r, addedAt: s.now()}
}

// Sweep drops expired entries. Called opportunistically from the writer loop.
func (s *idempotencyStore) Sweep() {
	cutoff := s.now().Add(-s.ttl)
	for k, e := range s.entries {
		if e.addedAt.Before(cutoff) {
			delete(s.entries, k)
		}
	}
}

func (s *idempotencyStore) Len() int { return len(s.entries) }

// submitHash digests the business payload of a submit, so the same key with
// different parameters is detected as a conflict rather than replayed.
func submitHash(c *Command) [32]byte {
	h := sha256.New()
	h.Write([]byte(c.Symbol))
	var buf [8]byte
	buf[0] = byte(c.Side)
	buf[1] = byte(c.TIF)
	h.Write(buf[:2])
	binary.BigEndian.PutUint64(buf[:], uint64(c.Price))
	h.Write(buf[:])
	binary.BigEndian.PutUint64(buf[:], uint64(c.Qty))
	h.Write(buf[:])
	binary.BigEndian.PutUint64(buf[:], uint64(c.ExpireAt))
	h.Write(buf[:])

	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}
