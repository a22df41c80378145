package streamstore

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"time"
)

// Reader reads an archive back in file order.
type Reader struct {
	f      *os.File
	r      *bufio.Reader
	header Header
	index  Index
}

// OpenReader opens the archive of ssrc in dir. The index is optional; without
// it SeekTo scans the archive.
func OpenReader(dir, ssrc string) (*Reader, error) {
	f, err := os.Open(ArchivePath(dir, ssrc))
	if err != nil {
		return nil, fmt.Errorf("failed to open archive: %w", err)
	}
	br := bufio.NewReader(f)
	h, err := readHeader(br)
	if err != nil {
		f.Close()
		return nil, err
	}
	idx, err := ReadIndex(IndexPath(dir, ssrc))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		f.Close()
		return nil, err
	}
	return &Reader{f: f, r: br, header: h, index: idx}, nil
}

// Header of the archive.
func (r *Reader) Header() Header {
	return r.header
}

// Index of the archive, possibly empty.
func (r *Reader) Index() Index {
	return r.index
}

// Next returns the next entry or io.EOF.
func (r *Reader) Next() (Entry, error) {
	return readEntry(r.r)
}

// SeekTo positions the reader on the first RTP entry at or after offset.
// Seeking past the end leaves the reader at EOF.
func (r *Reader) SeekTo(offset time.Duration) error {
	if len(r.index) > 0 {
		pos, ok := r.index.Locate(offset)
		if !ok {
			return r.seekEnd()
		}
		return r.seek(pos)
	}
	if err := r.seek(HeaderSize); err != nil {
		return err
	}
	for {
		pos, err := r.f.Seek(0, io.SeekCurrent)
		if err != nil {
			return fmt.Errorf("failed to seek archive: %w", err)
		}
		pos -= int64(r.r.Buffered())
		e, err := r.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if e.Type == RTP && e.Offset >= offset {
			return r.seek(pos)
		}
	}
}

func (r *Reader) seek(pos int64) error {
	if _, err := r.f.Seek(pos, io.SeekStart); err != nil {
		return fmt.Errorf("failed to seek archive: %w", err)
	}
	r.r.Reset(r.f)
	return nil
}

func (r *Reader) seekEnd() error {
	if _, err := r.f.Seek(0, io.SeekEnd); err != nil {
		return fmt.Errorf("failed to seek archive: %w", err)
	}
	r.r.Reset(r.f)
	return nil
}

func (r *Reader) Close() error {
	return r.f.Close()
}
