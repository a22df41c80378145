package streamstore

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"sort"
	"time"
)

// IndexEntry maps a millisecond offset to the byte position of the entry
// that starts at it.
type IndexEntry struct {
	Offset   time.Duration
	Position int64
}

// Index is the decoded seek index of one archive, ordered by offset.
type Index []IndexEntry

func writeIndexEntry(w io.Writer, e IndexEntry) error {
	var b [IndexEntrySize]byte
	binary.BigEndian.PutUint64(b[0:8], uint64(e.Offset.Milliseconds()))
	binary.BigEndian.PutUint64(b[8:16], uint64(e.Position))
	_, err := w.Write(b[:])
	return err
}

// ReadIndex loads an index file. A trailing partial record is ignored.
func ReadIndex(path string) (Index, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read index: %w", err)
	}
	idx := make(Index, 0, len(data)/IndexEntrySize)
	for off := 0; off+IndexEntrySize <= len(data); off += IndexEntrySize {
		idx = append(idx, IndexEntry{
			Offset:   time.Duration(int64(binary.BigEndian.Uint64(data[off:]))) * time.Millisecond,
			Position: int64(binary.BigEndian.Uint64(data[off+8:])),
		})
	}
	return idx, nil
}

// Locate returns the position of the first indexed entry at or after offset.
func (idx Index) Locate(offset time.Duration) (int64, bool) {
	i := sort.Search(len(idx), func(i int) bool { return idx[i].Offset >= offset })
	if i == len(idx) {
		return 0, false
	}
	return idx[i].Position, true
}
