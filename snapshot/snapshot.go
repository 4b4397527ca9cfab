// Package snapshot persists point-in-time book state so recovery replays
// only the WAL suffix after the snapshot LSN instead of the full history.
package snapshot

import (
	"fmt"
	"path/filepath"

	"vidar/domain/book"
)

const version = 1

// State is everything needed to rebuild the matching engine at a given LSN.
// Resting orders are stored in arrival-sequence order per symbol so the
// rebuilt FIFO queues match the live ones exactly.
type State struct {
	Version     int
	LSN         uint64
	NextOrderID uint64
	Orders      []book.Order
}

func fileFor(dir string, lsn uint64) string {
	return filepath.Join(dir, fmt.Sprintf("snapshot-%016x.snap", lsn))
}

func lsnOf(path string) (uint64, bool) {
	var lsn uint64
	if _, err := fmt.Sscanf(filepath.Base(path), "snapshot-%x.snap", &lsn); err != nil {
		return 0, false
	}
	return lsn, true
}
