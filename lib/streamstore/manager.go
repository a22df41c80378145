package streamstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/rtcp"
	"github.com/pion/rtp"

	"github.com/onkernel/rtp-recorder/lib/logger"
	"github.com/onkernel/rtp-recorder/lib/recording"
	"github.com/onkernel/rtp-recorder/lib/rtptype"
)

// Manager receives the packets of one capture session and fans them out to
// one Archive per SSRC inside the recording directory.
type Manager struct {
	ctx   context.Context
	dir   string
	types rtptype.Repository
	log   *slog.Logger
	gate  atomic.Bool

	mu         sync.Mutex
	archives   map[uint32]*Archive
	order      []uint32
	pauses     []recording.Pause
	pausedAt   time.Time
	terminated bool
}

// NewManager creates dir if needed and returns an enabled manager.
func NewManager(ctx context.Context, dir string, types rtptype.Repository) (*Manager, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create recording directory: %w", err)
	}
	m := &Manager{
		ctx:      ctx,
		dir:      dir,
		types:    types,
		log:      logger.FromContext(ctx).With("dir", dir),
		archives: make(map[uint32]*Archive),
	}
	m.gate.Store(true)
	return m, nil
}

// Dir is the recording directory.
func (m *Manager) Dir() string {
	return m.dir
}

func (m *Manager) archive(ssrc uint32) *Archive {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.terminated {
		return nil
	}
	a, ok := m.archives[ssrc]
	if !ok {
		a = newArchive(m.ctx, m.dir, ssrc, m.types, &m.gate)
		m.archives[ssrc] = a
		m.order = append(m.order, ssrc)
		m.log.Info("new stream", "ssrc", ssrc)
	}
	return a
}

// HandleRTP routes an RTP datagram to the archive of its SSRC.
func (m *Manager) HandleRTP(data []byte, at time.Time) {
	var h rtp.Header
	if _, err := h.Unmarshal(data); err != nil {
		m.log.Debug("dropping malformed rtp packet", "err", err)
		return
	}
	a := m.archive(h.SSRC)
	if a == nil {
		return
	}
	if err := a.handleRTP(&h, data, at); err != nil && !errors.Is(err, ErrRejectedPayloadType) && !errors.Is(err, ErrTerminated) {
		m.log.Debug("rtp packet not archived", "ssrc", h.SSRC, "err", err)
	}
}

// HandleRTCP routes a compound RTCP datagram to the archive of every source
// it reports on.
func (m *Manager) HandleRTCP(data []byte, at time.Time) {
	for _, ssrc := range rtcpSources(data) {
		a := m.archive(ssrc)
		if a == nil {
			return
		}
		_ = a.HandleRTCP(data, at)
	}
}

// rtcpSources lists, in order and without duplicates, the sender SSRC of
// every SR/RR/BYE/APP sub-packet and every SDES chunk source.
func rtcpSources(data []byte) []uint32 {
	var out []uint32
	seen := map[uint32]bool{}
	add := func(ssrc uint32) {
		if !seen[ssrc] {
			seen[ssrc] = true
			out = append(out, ssrc)
		}
	}
	walkRTCP(data, func(h rtcp.Header, sub []byte) {
		switch h.Type {
		case rtcp.TypeSourceDescription:
			var sdes rtcp.SourceDescription
			if err := sdes.Unmarshal(sub); err != nil {
				return
			}
			for _, c := range sdes.Chunks {
				add(c.Source)
			}
		case rtcp.TypeGoodbye:
			var bye rtcp.Goodbye
			if err := bye.Unmarshal(sub); err != nil {
				return
			}
			for _, s := range bye.Sources {
				add(s)
			}
		case rtcp.TypeSenderReport, rtcp.TypeReceiverReport, rtcp.TypeApplicationDefined:
			if len(sub) >= 8 {
				add(uint32(sub[4])<<24 | uint32(sub[5])<<16 | uint32(sub[6])<<8 | uint32(sub[7]))
			}
		}
	})
	return out
}

// Enable resumes writing after Disable.
func (m *Manager) Enable() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.gate.Load() {
		return
	}
	m.pauses = append(m.pauses, recording.Pause{Start: m.pausedAt, End: time.Now()})
	m.gate.Store(true)
}

// Disable stops writing packets while still tracking stream statistics.
func (m *Manager) Disable() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.gate.Load() {
		return
	}
	m.pausedAt = time.Now()
	m.gate.Store(false)
}

// Enabled reports whether packets are being written.
func (m *Manager) Enabled() bool {
	return m.gate.Load()
}

// Streams returns a snapshot of the streams seen so far.
func (m *Manager) Streams() []recording.Stream {
	m.mu.Lock()
	archives := make([]*Archive, 0, len(m.order))
	for _, ssrc := range m.order {
		archives = append(archives, m.archives[ssrc])
	}
	m.mu.Unlock()

	out := make([]recording.Stream, 0, len(archives))
	for _, a := range archives {
		if s := a.Stream(); s.PacketsSeen > 0 {
			out = append(out, s)
		}
	}
	return out
}

// Terminate closes every archive and returns the streams that received RTP,
// in the order they were first seen, along with the pause intervals.
func (m *Manager) Terminate() ([]*recording.Stream, []recording.Pause, error) {
	m.mu.Lock()
	if m.terminated {
		m.mu.Unlock()
		return nil, nil, ErrTerminated
	}
	m.terminated = true
	if !m.gate.Load() {
		m.pauses = append(m.pauses, recording.Pause{Start: m.pausedAt, End: time.Now()})
	}
	archives := make([]*Archive, 0, len(m.order))
	for _, ssrc := range m.order {
		archives = append(archives, m.archives[ssrc])
	}
	pauses := m.pauses
	m.mu.Unlock()

	var (
		streams []*recording.Stream
		errs    []error
	)
	for _, a := range archives {
		s, err := a.Terminate()
		if err != nil {
			errs = append(errs, fmt.Errorf("ssrc %d: %w", a.SSRC(), err))
		}
		if s.PacketsSeen == 0 {
			continue
		}
		streams = append(streams, &s)
	}
	m.log.Info("capture terminated", "streams", len(streams))
	return streams, pauses, errors.Join(errs...)
}
