package snapshot

import (
	"encoding/gob"
	"fmt"
	"os"
)

// Write persists st atomically: encode to a temp file, fsync, then rename
// into place. A crash mid-write leaves at most a stray .tmp that Latest
// ignores.
func Write(dir string, st *State) (string, error) {
	st.Version = version

	final := fileFor(dir, st.LSN)
	tmp := final + ".tmp"

	f, err := os.Create(tmp)
	if err != nil {
		return "", fmt.Errorf("snapshot: create %s: %w", tmp, err)
	}

	if err := gob.NewEncoder(f).Encode(st); err != nil {
		f.Close()
		os.Remove(tmp)
		return "", fmt.Errorf("snapshot: encode: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return "", fmt.Errorf("snapshot: sync: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return "", err
	}

	if err := os.Rename(tmp, final); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("snapshot: rename: %w", err)
	}
	return final, nil
}

// Prune removes snapshots older than the newest keep files.
func Prune(dir string, keep int) error {
	paths, err := list(dir)
	if err != nil {
		return err
	}
	if len(paths) <= keep {
		return nil
	}
	for _, p := range paths[:len(paths)-keep] {
		if err := os.Remove(p); err != nil {
			return err
		}
	}
	return nil
}
