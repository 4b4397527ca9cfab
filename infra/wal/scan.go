package wal

import (
	"encoding/binary"
	"io"
	"os"
)

// maxLSNInSegment scans a segment and returns the highest LSN it holds.
// Used only for snapshot-based truncation; torn tails are ignored.
func maxLSNInSegment(path string) (uint64, error) {
	return scanLSN(path, func(max, lsn uint64) uint64 {
		if lsn > max {
			return lsn
		}
		return max
	})
}

// firstLSNInSegment returns the first LSN in a segment, or 0 when empty.
func firstLSNInSegment(path string) (uint64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	header := make([]byte, headerSize)
	if _, err := io.ReadFull(f, header); err != nil {
		return 0, nil
	}
	return binary.BigEndian.Uint64(header[0:8]), nil
}

func scanLSN(path string, fold func(acc, lsn uint64) uint64) (uint64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	var acc uint64
	header := make([]byte, headerSize)

	for {
		if _, err := io.ReadFull(f, header); err != nil {
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				return acc, nil
			}
			return acc, err
		}

		acc = fold(acc, binary.BigEndian.Uint64(header[0:8]))

		length := binary.BigEndian.Uint32(header[12:16])
		if _, err := f.Seek(int64(length), io.SeekCurrent); err != nil {
			return acc, err
		}
	}
}
