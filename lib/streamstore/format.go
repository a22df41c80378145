// Package streamstore persists RTP/RTCP streams to disk, one archive and one
// seek index per SSRC, and reads them back for playback.
package streamstore

import (
	"encoding/binary"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/onkernel/rtp-recorder/lib/recording"
)

// PacketType tags each archived entry.
type PacketType uint16

const (
	RTP  PacketType = 0
	RTCP PacketType = 1
)

const (
	// HeaderSize is seconds, microseconds, a 4 byte address placeholder and a reserved short.
	HeaderSize = 4 + 4 + 4 + 2
	// EntryHeaderSize is length, type and the millisecond offset.
	EntryHeaderSize = 2 + 2 + 4
	// IndexEntrySize is the offset and byte position pair.
	IndexEntrySize = 8 + 8
)

// ArchivePath is the archive file of ssrc inside dir.
func ArchivePath(dir, ssrc string) string {
	return filepath.Join(dir, ssrc)
}

// IndexPath is the index file of ssrc inside dir.
func IndexPath(dir, ssrc string) string {
	return filepath.Join(dir, ssrc+recording.IndexSuffix)
}

// Header is the fixed prefix of an archive file.
type Header struct {
	Start time.Time
}

func (h Header) marshal() []byte {
	var b [HeaderSize]byte
	binary.BigEndian.PutUint32(b[0:4], uint32(h.Start.Unix()))
	binary.BigEndian.PutUint32(b[4:8], uint32(h.Start.Nanosecond()/1000))
	return b[:]
}

func readHeader(r io.Reader) (Header, error) {
	var b [HeaderSize]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return Header{}, fmt.Errorf("%w: short header: %v", ErrCorrupt, err)
	}
	secs := int64(binary.BigEndian.Uint32(b[0:4]))
	usecs := int64(binary.BigEndian.Uint32(b[4:8]))
	return Header{Start: time.UnixMicro(secs*1_000_000 + usecs)}, nil
}

// Entry is one archived packet.
type Entry struct {
	Type    PacketType
	Offset  time.Duration
	Payload []byte
}

func (e Entry) size() int64 {
	return int64(EntryHeaderSize + len(e.Payload))
}

func writeEntry(w io.Writer, e Entry) error {
	var b [EntryHeaderSize]byte
	binary.BigEndian.PutUint16(b[0:2], uint16(len(e.Payload)))
	binary.BigEndian.PutUint16(b[2:4], uint16(e.Type))
	binary.BigEndian.PutUint32(b[4:8], uint32(e.Offset.Milliseconds()))
	if _, err := w.Write(b[:]); err != nil {
		return err
	}
	_, err := w.Write(e.Payload)
	return err
}

func readEntry(r io.Reader) (Entry, error) {
	var b [EntryHeaderSize]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		if err == io.EOF {
			return Entry{}, io.EOF
		}
		return Entry{}, fmt.Errorf("%w: short entry header: %v", ErrCorrupt, err)
	}
	n := binary.BigEndian.Uint16(b[0:2])
	e := Entry{
		Type:    PacketType(binary.BigEndian.Uint16(b[2:4])),
		Offset:  time.Duration(binary.BigEndian.Uint32(b[4:8])) * time.Millisecond,
		Payload: make([]byte, n),
	}
	if _, err := io.ReadFull(r, e.Payload); err != nil {
		return Entry{}, fmt.Errorf("%w: short entry payload: %v", ErrCorrupt, err)
	}
	return e, nil
}
