package wal

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
)

// ErrCorruptRecord signals a checksum or ordering failure mid-log. Replay
// stops at the last valid record and surfaces this; it never skips ahead.
var ErrCorruptRecord = errors.New("wal: corrupt record")

// CorruptionError wraps ErrCorruptRecord with the position of the damage.
type CorruptionError struct {
	Path    string
	Offset  int64
	LastLSN uint64
	Detail  string
}

func (e *CorruptionError) Error() string {
	return fmt.Sprintf("wal: corruption in %s at offset %d after lsn %d: %s",
		e.Path, e.Offset, e.LastLSN, e.Detail)
}

func (e *CorruptionError) Unwrap() error { return ErrCorruptRecord }

// ReplayResult describes where a replay stopped.
type ReplayResult struct {
	LastLSN uint64

	// A torn tail is a partially written final frame: the normal artifact
	// of a crash between two committed records. The caller truncates it
	// and carries on; it is not corruption.
	Torn       bool
	TornPath   string
	TornOffset int64
}

// ReplayHandler consumes records in strict LSN order.
type ReplayHandler func(*Record) error

// Replay streams every record with LSN >= fromLSN to fn, in LSN order,
// verifying checksums and LSN contiguity. A CRC mismatch or an LSN that is
// not exactly lastLSN+1 aborts with a *CorruptionError after the valid
// prefix has been delivered.
func Replay(dir string, fromLSN uint64, fn ReplayHandler) (*ReplayResult, error) {
	segs, err := listSegments(dir)
	if err != nil {
		return nil, err
	}

	res := &ReplayResult{}
	for i, path := range segs {
		last := i == len(segs)-1
		if err := replaySegment(path, last, fromLSN, fn, res); err != nil {
			return res, err
		}
		if res.Torn {
			break
		}
	}
	return res, nil
}

func replaySegment(path string, lastSegment bool, fromLSN uint64, fn ReplayHandler, res *ReplayResult) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	var offset int64
	header := make([]byte, headerSize)

	for {
		if _, err := io.ReadFull(f, header); err != nil {
			if err == io.EOF {
				return nil
			}
			if err == io.ErrUnexpectedEOF && lastSegment {
				res.Torn = true
				res.TornPath = path
				res.TornOffset = offset
				return nil
			}
			return &CorruptionError{
				Path: path, Offset: offset, LastLSN: res.LastLSN,
				Detail: "truncated header in sealed segment",
			}
		}

		lsn := binary.BigEndian.Uint64(header[0:8])
		crc := binary.BigEndian.Uint32(header[8:12])
		length := binary.BigEndian.Uint32(header[12:16])

		payload := make([]byte, length)
		if _, err := io.ReadFull(f, payload); err != nil {
			if (err == io.ErrUnexpectedEOF || err == io.EOF) && lastSegment {
				res.Torn = true
				res.TornPath = path
				res.TornOffset = offset
				return nil
			}
			return &CorruptionError{
				Path: path, Offset: offset, LastLSN: res.LastLSN,
				Detail: "truncated payload in sealed segment",
			}
		}

		if !CRC32Valid(payload, crc) {
			return &CorruptionError{
				Path: path, Offset: offset, LastLSN: res.LastLSN,
				Detail: fmt.Sprintf("crc mismatch on lsn %d", lsn),
			}
		}
		if res.LastLSN > 0 && lsn != res.LastLSN+1 {
			return &CorruptionError{
				Path: path, Offset: offset, LastLSN: res.LastLSN,
				Detail: fmt.Sprintf("non-contiguous lsn %d", lsn),
			}
		}

		offset += int64(headerSize) + int64(length)

		if lsn >= fromLSN {
			if err := fn(&Record{LSN: lsn, Payload: payload}); err != nil {
				return err
			}
		}
		res.LastLSN = lsn
	}
}
