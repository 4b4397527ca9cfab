package wal

// Record is an immutable WAL entry: one committed event, identified by its
// LSN. The payload encoding is opaque to the WAL.
type Record struct {
	LSN     uint64
	Payload []byte
}

// Frame layout on disk:
//
//	[lsn:8][crc:4][len:4][payload:len]
//
// crc is CRC32-IEEE over the payload. Frames are never mutated after append.
const headerSize = 8 + 4 + 4
