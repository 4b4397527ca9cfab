// Package outbox is the durable hand-off between the matching writer and
// the event broadcaster. Every committed event lands here keyed by LSN;
// the broadcaster drains NEW records to Kafka and marks them SENT then
// ACKED. Records survive restarts, so a crash between commit and publish
// never loses an event; it is re-published, at-least-once.
package outbox

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/cockroachdb/pebble"
)

type State uint8

const (
	StateNew State = iota
	StateSent
	StateAcked
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "NEW"
	case StateSent:
		return "SENT"
	case StateAcked:
		return "ACKED"
	default:
		return "UNKNOWN"
	}
}

// Record is one pending event publication.
type Record struct {
	LSN     uint64
	State   State
	Retries uint32
	Payload []byte // encoded event, same bytes as the WAL payload
}

// value encoding: [state:1][retries:4][payload]
func encodeValue(r *Record) []byte {
	buf := make([]byte, 5+len(r.Payload))
	buf[0] = byte(r.State)
	binary.BigEndian.PutUint32(buf[1:5], r.Retries)
	copy(buf[5:], r.Payload)
	return buf
}

func decodeValue(lsn uint64, b []byte) (*Record, error) {
	if len(b) < 5 {
		return nil, errors.New("outbox: short record")
	}
	return &Record{
		LSN:     lsn,
		State:   State(b[0]),
		Retries: binary.BigEndian.Uint32(b[1:5]),
		Payload: append([]byte(nil), b[5:]...),
	}, nil
}

type Outbox struct {
	db *pebble.DB
}

func Open(dir string) (*Outbox, error) {
	db, err := pebble.Open(dir, &pebble.Options{
		DisableWAL: false, // publication state must survive crashes too
	})
	if err != nil {
		return nil, err
	}
	return &Outbox{db: db}, nil
}

func (o *Outbox) Close() error {
	return o.db.Close()
}

// Put inserts a committed event as NEW. Called by the matching writer
// after the WAL fsync, before the event is considered published.
func (o *Outbox) Put(lsn uint64, payload []byte) error {
	rec := &Record{LSN: lsn, State: StateNew, Payload: payload}
	return o.db.Set(keyFor(lsn), encodeValue(rec), pebble.Sync)
}

// MarkSent and MarkAcked advance the publication state machine.
func (o *Outbox) MarkSent(lsn uint64) error {
	return o.transition(lsn, StateSent)
}

func (o *Outbox) MarkAcked(lsn uint64) error {
	return o.transition(lsn, StateAcked)
}

func (o *Outbox) transition(lsn uint64, st State) error {
	rec, err := o.Get(lsn)
	if err != nil {
		return err
	}
	rec.State = st
	if st == StateSent {
		rec.Retries++
	}
	return o.db.Set(keyFor(lsn), encodeValue(rec), pebble.Sync)
}

func (o *Outbox) Get(lsn uint64) (*Record, error) {
	val, closer, err := o.db.Get(keyFor(lsn))
	if err != nil {
		return nil, err
	}
	defer closer.Close()
	return decodeValue(lsn, val)
}

// ScanPending visits records not yet ACKED, in LSN order. SENT records are
// included so a broadcaster crash between send and ack republishes them.
func (o *Outbox) ScanPending(fn func(*Record) error) error {
	iter, err := o.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte(keyPrefix),
		UpperBound: []byte(keyPrefix + "~"),
	})
	if err != nil {
		return err
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		lsn, err := parseKey(iter.Key())
		if err != nil {
			return err
		}
		rec, err := decodeValue(lsn, iter.Value())
		if err != nil {
			return err
		}
		if rec.State == StateAcked {
			continue
		}
		if err := fn(rec); err != nil {
			return err
		}
	}
	return iter.Error()
}

// TruncateAckedUpTo deletes ACKED records with LSN <= lsn. Runs alongside
// snapshot-driven WAL truncation.
func (o *Outbox) TruncateAckedUpTo(lsn uint64) error {
	iter, err := o.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte(keyPrefix),
		UpperBound: append(keyFor(lsn), '~'),
	})
	if err != nil {
		return err
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		if len(iter.Value()) > 0 && State(iter.Value()[0]) == StateAcked {
			key := append([]byte(nil), iter.Key()...)
			if err := o.db.Delete(key, pebble.NoSync); err != nil {
				return err
			}
		}
	}
	return iter.Error()
}

const keyPrefix = "evt/"

func keyFor(lsn uint64) []byte {
	return []byte(fmt.Sprintf("%s%020d", keyPrefix, lsn))
}

func parseKey(key []byte) (uint64, error) {
	var lsn uint64
	_, err := fmt.Sscanf(string(key[len(keyPrefix):]), "%d", &lsn)
	return lsn, err
}
