package streamstore

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/rtcp"
	"github.com/pion/rtp"

	"github.com/onkernel/rtp-recorder/lib/logger"
	"github.com/onkernel/rtp-recorder/lib/recording"
	"github.com/onkernel/rtp-recorder/lib/rtptype"
)

// Payload types 72-76 share the second header byte with RTCP SR/RR/SDES/BYE/APP
// when the marker bit is set.
const (
	minRTCPConflict = 72
	maxRTCPConflict = 76
)

// Archive writes a single SSRC to disk. Files are created when the first
// acceptable RTP packet arrives. Any IO failure stops all further writes.
type Archive struct {
	dir   string
	ssrc  uint32
	types rtptype.Repository
	log   *slog.Logger

	// gate is shared with the owning Manager; packets are accounted but not
	// written while it is false.
	gate *atomic.Bool

	mu         sync.Mutex
	stream     recording.Stream
	file       *os.File
	w          *bufio.Writer
	indexFile  *os.File
	index      *bufio.Writer
	pos        int64
	writing    bool
	badIO      bool
	terminated bool
	start      time.Time
	last       time.Time

	haveSeq bool
	lastSeq uint16

	haveTS bool
	lastTS uint32

	typeLocked bool
	pt         uint8
}

// NewArchive prepares an archive for ssrc under dir. Nothing is written yet.
func NewArchive(ctx context.Context, dir string, ssrc uint32, types rtptype.Repository) *Archive {
	gate := &atomic.Bool{}
	gate.Store(true)
	return newArchive(ctx, dir, ssrc, types, gate)
}

func newArchive(ctx context.Context, dir string, ssrc uint32, types rtptype.Repository, gate *atomic.Bool) *Archive {
	id := strconv.FormatUint(uint64(ssrc), 10)
	return &Archive{
		dir:    dir,
		ssrc:   ssrc,
		types:  types,
		log:    logger.FromContext(ctx).With("ssrc", id),
		gate:   gate,
		stream: recording.Stream{SSRC: id},
	}
}

// SSRC of the archived source.
func (a *Archive) SSRC() uint32 {
	return a.ssrc
}

// HandleRTP archives one RTP datagram received at at.
func (a *Archive) HandleRTP(data []byte, at time.Time) error {
	var h rtp.Header
	if _, err := h.Unmarshal(data); err != nil {
		return fmt.Errorf("failed to parse rtp header: %w", err)
	}
	return a.handleRTP(&h, data, at)
}

func (a *Archive) handleRTP(h *rtp.Header, data []byte, at time.Time) error {
	if h.PayloadType >= minRTCPConflict && h.PayloadType <= maxRTCPConflict {
		return ErrRejectedPayloadType
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.terminated {
		return ErrTerminated
	}
	a.last = at
	if a.badIO {
		return nil
	}

	if !a.writing {
		a.writing = true
		a.start = at
		a.stream.StartTime = at
		a.stream.FirstTimestamp = h.Timestamp
		a.open()
	}

	a.stream.Bytes += int64(len(data))
	a.stream.PacketsSeen++
	a.countMissed(h.SequenceNumber)

	if !a.typeLocked {
		a.typeLocked = true
		a.pt = h.PayloadType
		if t, ok := a.types.Find(h.PayloadType); ok {
			a.stream.RTPType = &t
		} else {
			a.log.Warn("unknown rtp payload type", "pt", h.PayloadType)
		}
	}
	if h.PayloadType != a.pt {
		return nil
	}

	offset := at.Sub(a.start)
	if !a.haveTS || h.Timestamp != a.lastTS {
		a.haveTS = true
		a.lastTS = h.Timestamp
		if a.gate.Load() && len(data) > 0 && !a.badIO {
			if err := writeIndexEntry(a.index, IndexEntry{Offset: offset, Position: a.pos}); err != nil {
				a.fail("failed to write index", err)
				return nil
			}
		}
	}
	a.write(Entry{Type: RTP, Offset: offset, Payload: data})
	return nil
}

// countMissed adds the gap between the expected and observed sequence
// number, modulo 2^16, and resynchronizes on the observed value.
func (a *Archive) countMissed(seq uint16) {
	if !a.haveSeq {
		a.haveSeq = true
		a.lastSeq = seq
		return
	}
	expected := a.lastSeq + 1
	if seq != expected {
		a.stream.PacketsMissed += int64(uint16(seq - expected))
	}
	a.lastSeq = seq
}

// HandleRTCP archives a compound RTCP datagram and applies any SDES items
// describing this source.
func (a *Archive) HandleRTCP(data []byte, at time.Time) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.terminated {
		return ErrTerminated
	}
	if a.badIO {
		return nil
	}
	if a.writing {
		a.last = at
		a.write(Entry{Type: RTCP, Offset: at.Sub(a.start), Payload: data})
	}
	walkRTCP(data, func(h rtcp.Header, sub []byte) {
		if h.Type != rtcp.TypeSourceDescription {
			return
		}
		var sdes rtcp.SourceDescription
		if err := sdes.Unmarshal(sub); err != nil {
			return
		}
		for _, chunk := range sdes.Chunks {
			if chunk.Source == a.ssrc {
				applySDES(&a.stream, chunk.Items)
			}
		}
	})
	return nil
}

// walkRTCP calls fn for each sub-packet of a compound RTCP packet and stops
// at the first one that does not parse or overruns the buffer.
func walkRTCP(data []byte, fn func(h rtcp.Header, sub []byte)) {
	for off := 0; off+4 <= len(data); {
		var h rtcp.Header
		if err := h.Unmarshal(data[off:]); err != nil {
			return
		}
		n := (int(h.Length) + 1) * 4
		if off+n > len(data) {
			return
		}
		fn(h, data[off:off+n])
		off += n
	}
}

func applySDES(s *recording.Stream, items []rtcp.SourceDescriptionItem) {
	for _, item := range items {
		switch item.Type {
		case rtcp.SDESCNAME:
			s.CNAME = item.Text
		case rtcp.SDESName:
			s.Name = item.Text
		case rtcp.SDESEmail:
			s.Email = item.Text
		case rtcp.SDESPhone:
			s.Phone = item.Text
		case rtcp.SDESLocation:
			s.Location = item.Text
		case rtcp.SDESTool:
			s.Tool = item.Text
		case rtcp.SDESNote:
			s.Note = item.Text
		}
	}
}

func (a *Archive) open() {
	id := strconv.FormatUint(uint64(a.ssrc), 10)
	f, err := os.OpenFile(ArchivePath(a.dir, id), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		a.fail("failed to open archive", err)
		return
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		a.fail("failed to stat archive", err)
		return
	}
	a.file = f
	a.w = bufio.NewWriter(f)
	a.pos = info.Size()

	idx, err := os.OpenFile(IndexPath(a.dir, id), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		a.fail("failed to open index", err)
		return
	}
	a.indexFile = idx
	a.index = bufio.NewWriter(idx)

	if _, err := a.w.Write(Header{Start: a.start}.marshal()); err != nil {
		a.fail("failed to write archive header", err)
		return
	}
	a.pos += HeaderSize
}

func (a *Archive) write(e Entry) {
	if a.badIO || !a.gate.Load() || len(e.Payload) == 0 {
		return
	}
	if err := writeEntry(a.w, e); err != nil {
		a.fail("failed to write packet", err)
		return
	}
	a.pos += e.size()
}

func (a *Archive) fail(msg string, err error) {
	if !a.badIO {
		a.log.Error(msg, "err", err)
	}
	a.badIO = true
}

// Stream returns a copy of the stream description gathered so far.
func (a *Archive) Stream() recording.Stream {
	a.mu.Lock()
	defer a.mu.Unlock()
	s := a.stream
	s.EndTime = a.last
	return s
}

// Terminate flushes and closes the files and returns the final stream
// description. It is safe to call more than once.
func (a *Archive) Terminate() (recording.Stream, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	var errs []error
	if !a.terminated {
		a.terminated = true
		if a.w != nil {
			if err := a.w.Flush(); err != nil {
				errs = append(errs, fmt.Errorf("failed to flush archive: %w", err))
			}
			if err := a.file.Close(); err != nil {
				errs = append(errs, fmt.Errorf("failed to close archive: %w", err))
			}
		}
		if a.index != nil {
			if err := a.index.Flush(); err != nil {
				errs = append(errs, fmt.Errorf("failed to flush index: %w", err))
			}
			if err := a.indexFile.Close(); err != nil {
				errs = append(errs, fmt.Errorf("failed to close index: %w", err))
			}
		}
	}
	a.stream.EndTime = a.last
	return a.stream, errors.Join(errs...)
}
