package snapshot

import (
	"encoding/gob"
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

// Latest loads the newest snapshot at or below maxLSN. Returns (nil, nil)
// when no usable snapshot exists, in which case recovery replays the WAL
// from the beginning.
func Latest(dir string, maxLSN uint64) (*State, error) {
	paths, err := list(dir)
	if err != nil {
		return nil, err
	}

	for i := len(paths) - 1; i >= 0; i-- {
		lsn, ok := lsnOf(paths[i])
		if !ok || lsn > maxLSN {
			continue
		}
		st, err := load(paths[i])
		if err != nil {
			return nil, err
		}
		return st, nil
	}
	return nil, nil
}

func load(path string) (*State, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var st State
	if err := gob.NewDecoder(f).Decode(&st); err != nil {
		return nil, fmt.Errorf("snapshot: decode %s: %w", path, err)
	}
	if st.Version != version {
		return nil, fmt.Errorf("snapshot: %s has version %d, want %d", path, st.Version, version)
	}
	return &st, nil
}

// list returns snapshot paths sorted by LSN ascending.
func list(dir string) ([]string, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "snapshot-*.snap"))
	if err != nil {
		return nil, err
	}
	sort.Slice(paths, func(i, j int) bool {
		a, _ := lsnOf(paths[i])
		b, _ := lsnOf(paths[j])
		return a < b
	})
	return paths, nil
}
