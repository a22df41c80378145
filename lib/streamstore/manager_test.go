package streamstore

import (
	"errors"
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/pion/rtcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/onkernel/rtp-recorder/lib/rtptype"
)

func countEntries(t *testing.T, dir, ssrc string) int {
	t.Helper()
	r, err := OpenReader(dir, ssrc)
	require.NoError(t, err)
	defer r.Close()
	n := 0
	for {
		_, err := r.Next()
		if errors.Is(err, io.EOF) {
			return n
		}
		require.NoError(t, err)
		n++
	}
}

func TestManager_DemuxAndTerminate(t *testing.T) {
	t.Parallel()

	dir := filepath.Join(t.TempDir(), "rec")
	m, err := NewManager(t.Context(), dir, rtptype.Default())
	require.NoError(t, err)

	now := time.Now()
	m.HandleRTP(rtpPacket(t, 1, 0, 1, 0, []byte{1}), now)
	m.HandleRTP(rtpPacket(t, 2, 31, 1, 0, []byte{2}), now.Add(time.Millisecond))
	m.HandleRTP(rtpPacket(t, 1, 0, 2, 160, []byte{1}), now.Add(20*time.Millisecond))
	m.HandleRTCP(sdesPacket(t, 2, rtcp.SourceDescriptionItem{Type: rtcp.SDESName, Text: "camera"}), now.Add(30*time.Millisecond))
	// control only, never sends media
	m.HandleRTCP(sdesPacket(t, 3, rtcp.SourceDescriptionItem{Type: rtcp.SDESName, Text: "listener"}), now)
	m.HandleRTP([]byte{0x00}, now)

	assert.Len(t, m.Streams(), 2)

	streams, pauses, err := m.Terminate()
	require.NoError(t, err)
	assert.Empty(t, pauses)
	require.Len(t, streams, 2)
	assert.Equal(t, "1", streams[0].SSRC)
	assert.EqualValues(t, 2, streams[0].PacketsSeen)
	assert.Equal(t, "2", streams[1].SSRC)
	assert.Equal(t, "camera", streams[1].Name)

	assert.Equal(t, 2, countEntries(t, dir, "1"))
	assert.Equal(t, 2, countEntries(t, dir, "2"))

	_, _, err = m.Terminate()
	assert.ErrorIs(t, err, ErrTerminated)
}

func TestManager_DisableSuppressesWrites(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	m, err := NewManager(t.Context(), dir, rtptype.Default())
	require.NoError(t, err)

	now := time.Now()
	m.HandleRTP(rtpPacket(t, 7, 0, 1, 0, []byte{1}), now)
	m.Disable()
	assert.False(t, m.Enabled())
	m.HandleRTP(rtpPacket(t, 7, 0, 2, 160, []byte{1}), now.Add(20*time.Millisecond))
	m.HandleRTP(rtpPacket(t, 7, 0, 3, 320, []byte{1}), now.Add(40*time.Millisecond))
	m.Enable()
	m.HandleRTP(rtpPacket(t, 7, 0, 4, 480, []byte{1}), now.Add(60*time.Millisecond))

	streams, pauses, err := m.Terminate()
	require.NoError(t, err)
	require.Len(t, streams, 1)
	assert.EqualValues(t, 4, streams[0].PacketsSeen)
	assert.Len(t, pauses, 1)
	assert.Equal(t, 2, countEntries(t, dir, "7"))
}
