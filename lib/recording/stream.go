package recording

import (
	"time"

	"github.com/onkernel/rtp-recorder/lib/rtptype"
)

// Stream is one archived RTP source within a recording, identified by SSRC.
type Stream struct {
	SSRC           string        `json:"ssrc"`
	StartTime      time.Time     `json:"startTime"`
	EndTime        time.Time     `json:"endTime"`
	FirstTimestamp uint32        `json:"firstTimestamp"`
	PacketsSeen    int64         `json:"packetsSeen"`
	PacketsMissed  int64         `json:"packetsMissed"`
	Bytes          int64         `json:"bytes"`
	RTPType        *rtptype.Type `json:"rtpType,omitempty"`

	CNAME    string `json:"cname,omitempty"`
	Name     string `json:"name,omitempty"`
	Email    string `json:"email,omitempty"`
	Phone    string `json:"phone,omitempty"`
	Location string `json:"location,omitempty"`
	Tool     string `json:"tool,omitempty"`
	Note     string `json:"note,omitempty"`
}

// Duration is the time between the first and last archived packet.
func (s *Stream) Duration() time.Duration {
	if s.EndTime.Before(s.StartTime) {
		return 0
	}
	return s.EndTime.Sub(s.StartTime)
}
