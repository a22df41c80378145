package playback

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/pion/rtcp"
	"github.com/pion/rtp"
	"golang.org/x/net/ipv4"
	"golang.org/x/net/ipv6"

	"github.com/onkernel/rtp-recorder/lib/netloc"
	"github.com/onkernel/rtp-recorder/lib/recording"
	"github.com/onkernel/rtp-recorder/lib/streamstore"
)

// channel replays one archived stream under a fresh SSRC.
type channel struct {
	stream *recording.Stream
	target netloc.NetworkLocation
	offset time.Duration
	ssrc   uint32
	cname  string
	log    *slog.Logger

	mu      sync.Mutex
	reader  *streamstore.Reader
	rtpConn net.Conn
	rtcp    net.Conn
	pending *streamstore.Entry
	seq     uint16
	note    string
	started bool
	closed  bool
}

func dial(loc netloc.NetworkLocation, addr string) (net.Conn, error) {
	conn, err := net.Dial("udp", addr)
	if err != nil {
		return nil, err
	}
	if !loc.Multicast() {
		return conn, nil
	}
	pc := conn.(*net.UDPConn)
	if ip := net.ParseIP(loc.Host); ip.To4() != nil {
		err = ipv4.NewPacketConn(pc).SetMulticastTTL(loc.TTL)
	} else {
		err = ipv6.NewPacketConn(pc).SetMulticastHopLimit(loc.TTL)
	}
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to set multicast ttl: %w", err)
	}
	return conn, nil
}

func (c *channel) open() error {
	var err error
	if c.rtpConn, err = dial(c.target, c.target.RTPAddr()); err != nil {
		return fmt.Errorf("failed to open rtp sender: %w", err)
	}
	if c.rtcp, err = dial(c.target, c.target.RTCPAddr()); err != nil {
		c.rtpConn.Close()
		return fmt.Errorf("failed to open rtcp sender: %w", err)
	}
	return nil
}

// peekLocked returns the next RTP entry without consuming it.
func (c *channel) peekLocked() (streamstore.Entry, error) {
	for c.pending == nil {
		e, err := c.reader.Next()
		if err != nil {
			return streamstore.Entry{}, err
		}
		if e.Type == streamstore.RTP {
			c.pending = &e
		}
	}
	return *c.pending, nil
}

// seek repositions the reader for a session position.
func (c *channel) seek(pos time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.pending = nil
	return c.reader.SeekTo(max(pos-c.offset, 0))
}

func (c *channel) send(e streamstore.Entry) error {
	var p rtp.Packet
	if err := p.Unmarshal(e.Payload); err != nil {
		c.log.Debug("skipping malformed archived packet", "err", err)
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	p.SSRC = c.ssrc
	p.SequenceNumber = c.seq
	c.seq++
	b, err := p.Marshal()
	if err != nil {
		return err
	}
	_, err = c.rtpConn.Write(b)
	return err
}

func (c *channel) items() []rtcp.SourceDescriptionItem {
	items := []rtcp.SourceDescriptionItem{{Type: rtcp.SDESCNAME, Text: c.cname}}
	add := func(t rtcp.SDESType, v string) {
		if v != "" {
			items = append(items, rtcp.SourceDescriptionItem{Type: t, Text: v})
		}
	}
	if c.stream.Name != "" {
		add(rtcp.SDESName, "*R* "+c.stream.Name)
	}
	add(rtcp.SDESEmail, c.stream.Email)
	add(rtcp.SDESPhone, c.stream.Phone)
	add(rtcp.SDESLocation, c.stream.Location)
	add(rtcp.SDESTool, c.stream.Tool)
	add(rtcp.SDESNote, c.note)
	return items
}

func (c *channel) sendSDES() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	b, err := rtcp.Marshal([]rtcp.Packet{
		&rtcp.ReceiverReport{SSRC: c.ssrc},
		&rtcp.SourceDescription{Chunks: []rtcp.SourceDescriptionChunk{{Source: c.ssrc, Items: c.items()}}},
	})
	if err != nil {
		return err
	}
	_, err = c.rtcp.Write(b)
	return err
}

// starting restores the original NOTE once the stream begins playing.
func (c *channel) starting() {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return
	}
	c.started = true
	c.note = c.stream.Note
	c.mu.Unlock()

	if err := c.sendSDES(); err != nil {
		c.log.Debug("failed to send sdes", "err", err)
	}
}

// close says goodbye and releases the sockets and reader. It is safe to call
// more than once.
func (c *channel) close(reason string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true

	var errs []error
	if c.rtcp != nil {
		b, err := rtcp.Marshal([]rtcp.Packet{
			&rtcp.ReceiverReport{SSRC: c.ssrc},
			&rtcp.Goodbye{Sources: []uint32{c.ssrc}, Reason: reason},
		})
		if err == nil {
			_, err = c.rtcp.Write(b)
		}
		if err != nil && !errors.Is(err, net.ErrClosed) {
			errs = append(errs, fmt.Errorf("failed to send bye: %w", err))
		}
		errs = append(errs, c.rtcp.Close())
	}
	if c.rtpConn != nil {
		errs = append(errs, c.rtpConn.Close())
	}
	errs = append(errs, c.reader.Close())
	return errors.Join(errs...)
}

func (c *channel) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}
