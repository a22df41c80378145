// Package rtptype maps RTP payload type numbers to codec descriptors.
package rtptype

import (
	"fmt"
	"os"
	"sync"

	"github.com/ghodss/yaml"
)

// MediaType is the kind of media carried by a payload type.
type MediaType string

const (
	Audio MediaType = "audio"
	Video MediaType = "video"
)

// Type describes one RTP payload type.
type Type struct {
	ID        int       `json:"id"`
	Encoding  string    `json:"encoding"`
	MediaType MediaType `json:"mediaType"`
	ClockRate int       `json:"clockRate"`
	Channels  int       `json:"channels"`
}

// Repository resolves payload type numbers.
type Repository interface {
	Find(pt uint8) (Type, bool)
}

// Static is an in-memory Repository. The zero value is empty.
type Static struct {
	mu    sync.RWMutex
	types map[uint8]Type
}

// Default returns a repository preloaded with the static RFC 3551 assignments
// plus the dynamic types used by common conferencing tools.
func Default() *Static {
	s := &Static{types: make(map[uint8]Type)}
	for _, t := range defaults {
		s.types[uint8(t.ID)] = t
	}
	return s
}

var defaults = []Type{
	{ID: 0, Encoding: "ULAW/rtp", MediaType: Audio, ClockRate: 8000, Channels: 1},
	{ID: 3, Encoding: "GSM/rtp", MediaType: Audio, ClockRate: 8000, Channels: 1},
	{ID: 4, Encoding: "G723/rtp", MediaType: Audio, ClockRate: 8000, Channels: 1},
	{ID: 5, Encoding: "DVI4/rtp", MediaType: Audio, ClockRate: 8000, Channels: 1},
	{ID: 6, Encoding: "DVI4/rtp", MediaType: Audio, ClockRate: 16000, Channels: 1},
	{ID: 8, Encoding: "PCMA/rtp", MediaType: Audio, ClockRate: 8000, Channels: 1},
	{ID: 9, Encoding: "G722/rtp", MediaType: Audio, ClockRate: 8000, Channels: 1},
	{ID: 10, Encoding: "L16/rtp", MediaType: Audio, ClockRate: 44100, Channels: 2},
	{ID: 11, Encoding: "L16/rtp", MediaType: Audio, ClockRate: 44100, Channels: 1},
	{ID: 14, Encoding: "MPA/rtp", MediaType: Audio, ClockRate: 90000, Channels: 1},
	{ID: 18, Encoding: "G729/rtp", MediaType: Audio, ClockRate: 8000, Channels: 1},
	{ID: 26, Encoding: "JPEG/rtp", MediaType: Video, ClockRate: 90000, Channels: 1},
	{ID: 31, Encoding: "H261/rtp", MediaType: Video, ClockRate: 90000, Channels: 1},
	{ID: 32, Encoding: "MPV/rtp", MediaType: Video, ClockRate: 90000, Channels: 1},
	{ID: 34, Encoding: "H263/rtp", MediaType: Video, ClockRate: 90000, Channels: 1},
	{ID: 77, Encoding: "h264/rtp/iocom", MediaType: Video, ClockRate: 90000, Channels: 1},
	{ID: 84, Encoding: "L16/rtp", MediaType: Audio, ClockRate: 16000, Channels: 1},
	{ID: 96, Encoding: "H264/rtp", MediaType: Video, ClockRate: 90000, Channels: 1},
	{ID: 112, Encoding: "L16/rtp", MediaType: Audio, ClockRate: 16000, Channels: 1},
}

// Find returns the descriptor registered for pt.
func (s *Static) Find(pt uint8) (Type, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.types[pt]
	return t, ok
}

// Add registers or replaces a descriptor.
func (s *Static) Add(t Type) error {
	if t.ID < 0 || t.ID > 127 {
		return fmt.Errorf("payload type %d out of range", t.ID)
	}
	if t.MediaType != Audio && t.MediaType != Video {
		return fmt.Errorf("payload type %d has unknown media type %q", t.ID, t.MediaType)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.types == nil {
		s.types = make(map[uint8]Type)
	}
	s.types[uint8(t.ID)] = t
	return nil
}

// LoadFile merges a YAML list of types into the repository.
func (s *Static) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read rtp types: %w", err)
	}
	var types []Type
	if err := yaml.Unmarshal(data, &types); err != nil {
		return fmt.Errorf("failed to parse rtp types: %w", err)
	}
	for _, t := range types {
		if err := s.Add(t); err != nil {
			return err
		}
	}
	return nil
}
