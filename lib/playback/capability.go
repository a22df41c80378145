package playback

import (
	"fmt"
	"strings"
	"time"

	"github.com/onkernel/rtp-recorder/lib/rtptype"
	"github.com/onkernel/rtp-recorder/lib/venue"
)

// VideoClockRate is advertised for every video stream.
const VideoClockRate = 90000

// NormalizeEncoding turns a stored encoding name into the codec name venues
// negotiate with.
func NormalizeEncoding(enc string) string {
	switch {
	case enc == "h264/rtp/iocom":
		enc = "H261"
	case strings.EqualFold(enc, "ULAW/rtp"):
		enc = "PCMU"
	case strings.HasSuffix(enc, "/rtp"):
		enc = enc[:strings.Index(enc, "/rtp")]
	}
	return strings.ToUpper(enc)
}

// CapabilityFor describes what a venue must accept to carry t.
func CapabilityFor(t rtptype.Type) venue.Capability {
	c := venue.Capability{
		MediaType: t.MediaType,
		Encoding:  NormalizeEncoding(t.Encoding),
	}
	switch t.MediaType {
	case rtptype.Video:
		c.ClockRate = VideoClockRate
		c.Channels = 1
	default:
		c.ClockRate = t.ClockRate
		c.Channels = t.Channels
	}
	return c
}

// startsAt formats an offset as HH:MM:SS.
func startsAt(d time.Duration) string {
	s := int64(d / time.Second)
	return fmt.Sprintf("%02d:%02d:%02d", s/3600, s/60%60, s%60)
}

// startNote is the NOTE sent until a stream begins playing.
func startNote(note string, offset time.Duration) string {
	extra := "(Starts at " + startsAt(offset) + ")"
	if note == "" {
		return extra
	}
	return note + " " + extra
}
