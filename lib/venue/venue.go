// Package venue describes where conference media is sent and which formats
// each location accepts.
package venue

import (
	"context"
	"fmt"
	"os"
	"slices"
	"strings"
	"sync"

	"github.com/ghodss/yaml"

	"github.com/onkernel/rtp-recorder/lib/netloc"
	"github.com/onkernel/rtp-recorder/lib/rtptype"
)

// Capability is a media format a location can carry.
type Capability struct {
	MediaType rtptype.MediaType `json:"mediaType"`
	Encoding  string            `json:"encoding"`
	ClockRate int               `json:"clockRate"`
	Channels  int               `json:"channels"`
}

// Matches compares media type, encoding (case-insensitive), rate and channels.
func (c Capability) Matches(o Capability) bool {
	return c.MediaType == o.MediaType &&
		strings.EqualFold(c.Encoding, o.Encoding) &&
		c.ClockRate == o.ClockRate &&
		c.Channels == o.Channels
}

// StreamDescription is one media location in a venue.
type StreamDescription struct {
	Name         string                 `json:"name,omitempty"`
	Location     netloc.NetworkLocation `json:"location"`
	MediaType    rtptype.MediaType      `json:"mediaType"`
	Capabilities []Capability           `json:"capabilities,omitempty"`
}

// Accepts reports whether the stream can carry c. A stream without declared
// capabilities accepts anything of its media type.
func (s StreamDescription) Accepts(c Capability) bool {
	if len(s.Capabilities) == 0 {
		return s.MediaType == c.MediaType
	}
	return slices.ContainsFunc(s.Capabilities, c.Matches)
}

// Venue is a virtual meeting place.
type Venue interface {
	// Streams lists every media location of the venue.
	Streams(ctx context.Context) ([]StreamDescription, error)
	// Negotiate returns the locations able to carry at least one of caps.
	Negotiate(ctx context.Context, caps []Capability) ([]StreamDescription, error)
}

// Resolver finds a venue by URL.
type Resolver interface {
	Venue(ctx context.Context, url string) (Venue, error)
}

// Static is a Venue with a fixed set of streams.
type Static struct {
	Descriptions []StreamDescription `json:"streams"`
}

func (s *Static) Streams(context.Context) ([]StreamDescription, error) {
	return slices.Clone(s.Descriptions), nil
}

func (s *Static) Negotiate(_ context.Context, caps []Capability) ([]StreamDescription, error) {
	var out []StreamDescription
	for _, d := range s.Descriptions {
		if slices.ContainsFunc(caps, d.Accepts) {
			out = append(out, d)
		}
	}
	return out, nil
}

// Directory resolves venue URLs from an in-memory table.
type Directory struct {
	mu     sync.RWMutex
	venues map[string]*Static
}

func NewDirectory() *Directory {
	return &Directory{venues: make(map[string]*Static)}
}

// Add registers v under url.
func (d *Directory) Add(url string, v *Static) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.venues[url] = v
}

func (d *Directory) Venue(_ context.Context, url string) (Venue, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	v, ok := d.venues[url]
	if !ok {
		return nil, fmt.Errorf("unknown venue %q", url)
	}
	return v, nil
}

// LoadFile reads a YAML map of venue URL to venue.
func LoadFile(path string) (*Directory, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read venues: %w", err)
	}
	var raw map[string]*Static
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse venues: %w", err)
	}
	d := NewDirectory()
	for url, v := range raw {
		d.Add(url, v)
	}
	return d, nil
}
