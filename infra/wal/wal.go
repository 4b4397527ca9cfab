// Package wal implements the append-only, checksummed, segment-rotated
// write-ahead log. Append buffers a frame; Sync makes everything appended so
// far durable. An event is committed only once the frame holding it has been
// fsynced; callers must not acknowledge or publish before Sync returns.
package wal

import (
	"encoding/binary"
	"fmt"
	"os"
	"time"
)

type Config struct {
	Dir             string
	SegmentSize     int64         // rotate when the live segment exceeds this
	SegmentDuration time.Duration // 0 disables time-based rotation
}

type WAL struct {
	dir        string
	segSize    int64
	segDur     time.Duration
	current    *segment
	segIndex   int
	lastRotate time.Time
}

// Open creates the directory if needed and resumes appending to the highest
// existing segment, or starts segment 0.
func Open(cfg Config) (*WAL, error) {
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, err
	}

	index := 0
	segs, err := listSegments(cfg.Dir)
	if err != nil {
		return nil, err
	}
	if len(segs) > 0 {
		if index, err = segmentIndex(segs[len(segs)-1]); err != nil {
			return nil, err
		}
	}

	seg, err := openSegment(cfg.Dir, index)
	if err != nil {
		return nil, err
	}

	return &WAL{
		dir:        cfg.Dir,
		segSize:    cfg.SegmentSize,
		segDur:     cfg.SegmentDuration,
		current:    seg,
		segIndex:   index,
		lastRotate: time.Now(),
	}, nil
}

// Append writes one frame to the live segment. Durability requires a
// subsequent Sync; Append alone never makes a record committed.
func (w *WAL) Append(r *Record) error {
	payloadLen := uint32(len(r.Payload))

	buf := make([]byte, headerSize+payloadLen)
	binary.BigEndian.PutUint64(buf[0:8], r.LSN)
	binary.BigEndian.PutUint32(buf[8:12], CRC32(r.Payload))
	binary.BigEndian.PutUint32(buf[12:16], payloadLen)
	copy(buf[headerSize:], r.Payload)

	return w.current.append(buf)
}

// Sync flushes the live segment to stable storage.
func (w *WAL) Sync() error {
	return w.current.sync()
}

// MaybeRotate seals the live segment when it is over size or age. Call
// between commits, never between Append and Sync.
func (w *WAL) MaybeRotate() error {
	if w.current.offset < w.segSize &&
		(w.segDur <= 0 || time.Since(w.lastRotate) < w.segDur) {
		return nil
	}
	return w.rotate()
}

func (w *WAL) rotate() error {
	if err := w.current.sync(); err != nil {
		return err
	}
	if err := w.current.close(); err != nil {
		return err
	}
	w.segIndex++

	seg, err := openSegment(w.dir, w.segIndex)
	if err != nil {
		return err
	}
	w.current = seg
	w.lastRotate = time.Now()
	return nil
}

// TruncateBefore removes sealed segments whose highest LSN is <= lsn.
// The live segment is never removed. Used after a snapshot at lsn.
func (w *WAL) TruncateBefore(lsn uint64) error {
	segs, err := listSegments(w.dir)
	if err != nil {
		return err
	}
	for _, path := range segs {
		if path == w.current.path {
			continue
		}
		maxLSN, err := maxLSNInSegment(path)
		if err != nil {
			continue
		}
		if maxLSN > 0 && maxLSN <= lsn {
			_ = os.Remove(path)
		}
	}
	return nil
}

// OldestLSN reports the first LSN still retained, or 0 when the log is
// empty. Followers older than this need a snapshot transfer.
func (w *WAL) OldestLSN() (uint64, error) {
	segs, err := listSegments(w.dir)
	if err != nil {
		return 0, err
	}
	for _, path := range segs {
		lsn, err := firstLSNInSegment(path)
		if err != nil {
			return 0, err
		}
		if lsn > 0 {
			return lsn, nil
		}
	}
	return 0, nil
}

func (w *WAL) Dir() string {
	return w.dir
}

func (w *WAL) Close() error {
	if err := w.current.sync(); err != nil {
		return err
	}
	return w.current.close()
}

// TruncateTorn cuts a torn tail frame left by a crash mid-append. Only the
// live segment may be torn; anything else is corruption.
func TruncateTorn(path string, offset int64) error {
	if err := os.Truncate(path, offset); err != nil {
		return fmt.Errorf("truncate torn tail of %s: %w", path, err)
	}
	return nil
}
