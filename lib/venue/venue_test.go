package venue

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/onkernel/rtp-recorder/lib/rtptype"
)

func TestStatic_Negotiate(t *testing.T) {
	t.Parallel()

	pcmu := Capability{MediaType: rtptype.Audio, Encoding: "PCMU", ClockRate: 8000, Channels: 1}
	h261 := Capability{MediaType: rtptype.Video, Encoding: "H261", ClockRate: 90000, Channels: 1}

	v := &Static{Descriptions: []StreamDescription{
		{Name: "audio", MediaType: rtptype.Audio, Capabilities: []Capability{pcmu}},
		{Name: "video", MediaType: rtptype.Video},
	}}

	got, err := v.Negotiate(t.Context(), []Capability{{MediaType: rtptype.Audio, Encoding: "pcmu", ClockRate: 8000, Channels: 1}})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "audio", got[0].Name)

	got, err = v.Negotiate(t.Context(), []Capability{h261})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "video", got[0].Name)

	got, err = v.Negotiate(t.Context(), []Capability{{MediaType: rtptype.Audio, Encoding: "L16", ClockRate: 16000, Channels: 1}})
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestLoadFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "venues.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
https://venues.example.org/lobby:
  streams:
  - name: audio
    mediaType: audio
    location: {host: 224.2.1.1, port: 5004, ttl: 127}
  - name: video
    mediaType: video
    location: {host: 224.2.1.1, port: 5006, ttl: 127}
`), 0o644))

	d, err := LoadFile(path)
	require.NoError(t, err)
	v, err := d.Venue(t.Context(), "https://venues.example.org/lobby")
	require.NoError(t, err)
	streams, err := v.Streams(t.Context())
	require.NoError(t, err)
	require.Len(t, streams, 2)
	assert.Equal(t, 5006, streams[1].Location.Port)

	_, err = d.Venue(t.Context(), "https://venues.example.org/missing")
	require.Error(t, err)
}
