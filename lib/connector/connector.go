// Package connector receives RTP and RTCP from network locations and shares
// one receiver per location between every capture that needs it.
package connector

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"slices"
	"strconv"
	"sync"
	"syscall"
	"time"

	"golang.org/x/net/ipv4"
	"golang.org/x/net/ipv6"
	"golang.org/x/sys/unix"

	"github.com/onkernel/rtp-recorder/lib/logger"
	"github.com/onkernel/rtp-recorder/lib/netloc"
)

const maxDatagram = 65536

// Sink consumes packets received by a Connector. Implementations must not
// retain data after returning unless they copy it.
type Sink interface {
	HandleRTP(data []byte, at time.Time)
	HandleRTCP(data []byte, at time.Time)
}

// Connector is a receiver bound to a single NetworkLocation.
type Connector interface {
	Location() netloc.NetworkLocation
	AddSink(s Sink)
	RemoveSink(s Sink)
	Close() error
}

// Options tune UDP connectors.
type Options struct {
	// Interface used for multicast joins; nil lets the kernel choose.
	Interface *net.Interface
}

// UDP listens for RTP on the location port and RTCP on the port above it,
// joining the multicast group when the host is a group address.
type UDP struct {
	loc  netloc.NetworkLocation
	log  *slog.Logger
	rtp  net.PacketConn
	rtcp net.PacketConn

	mu    sync.RWMutex
	sinks []Sink

	wg        sync.WaitGroup
	closeOnce sync.Once
	closeErr  error
}

// DialUDP opens the receiving sockets for loc.
func DialUDP(ctx context.Context, loc netloc.NetworkLocation, opts Options) (*UDP, error) {
	u := &UDP{loc: loc, log: logger.FromContext(ctx).With("location", loc.String())}

	var err error
	if u.rtp, err = listen(ctx, loc, loc.Port, opts); err != nil {
		return nil, fmt.Errorf("failed to listen for rtp: %w", err)
	}
	if u.rtcp, err = listen(ctx, loc, loc.Port+1, opts); err != nil {
		u.rtp.Close()
		return nil, fmt.Errorf("failed to listen for rtcp: %w", err)
	}

	u.wg.Add(2)
	go u.readLoop(u.rtp, func(s Sink, b []byte, at time.Time) { s.HandleRTP(b, at) })
	go u.readLoop(u.rtcp, func(s Sink, b []byte, at time.Time) { s.HandleRTCP(b, at) })
	u.log.Info("connector listening")
	return u, nil
}

func listen(ctx context.Context, loc netloc.NetworkLocation, port int, opts Options) (net.PacketConn, error) {
	ip := net.ParseIP(loc.Host)
	bind := loc.Host
	if ip != nil && ip.IsMulticast() {
		bind = ""
	}
	lc := net.ListenConfig{Control: reuseAddr}
	network := "udp4"
	if ip != nil && ip.To4() == nil {
		network = "udp6"
	}
	pc, err := lc.ListenPacket(ctx, network, net.JoinHostPort(bind, strconv.Itoa(port)))
	if err != nil {
		return nil, err
	}
	if ip == nil || !ip.IsMulticast() {
		return pc, nil
	}
	group := &net.UDPAddr{IP: ip}
	if network == "udp4" {
		p := ipv4.NewPacketConn(pc)
		err = p.JoinGroup(opts.Interface, group)
		if err == nil {
			err = p.SetMulticastTTL(loc.TTL)
		}
	} else {
		p := ipv6.NewPacketConn(pc)
		err = p.JoinGroup(opts.Interface, group)
		if err == nil {
			err = p.SetMulticastHopLimit(loc.TTL)
		}
	}
	if err != nil {
		pc.Close()
		return nil, fmt.Errorf("failed to join group %s: %w", loc.Host, err)
	}
	return pc, nil
}

// reuseAddr lets several processes, and several connectors in tests, bind the
// same multicast port.
func reuseAddr(network, address string, c syscall.RawConn) error {
	var serr error
	err := c.Control(func(fd uintptr) {
		if serr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); serr != nil {
			return
		}
		serr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEPORT, 1)
	})
	if err != nil {
		return err
	}
	return serr
}

func (u *UDP) readLoop(pc net.PacketConn, deliver func(Sink, []byte, time.Time)) {
	defer u.wg.Done()
	buf := make([]byte, maxDatagram)
	for {
		n, _, err := pc.ReadFrom(buf)
		if err != nil {
			if !errors.Is(err, net.ErrClosed) {
				u.log.Error("connector read failed", "err", err)
			}
			return
		}
		at := time.Now()
		u.mu.RLock()
		sinks := u.sinks
		u.mu.RUnlock()
		for _, s := range sinks {
			deliver(s, slices.Clone(buf[:n]), at)
		}
	}
}

func (u *UDP) Location() netloc.NetworkLocation {
	return u.loc
}

// AddSink starts delivering packets to s.
func (u *UDP) AddSink(s Sink) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.sinks = append(slices.Clone(u.sinks), s)
}

// RemoveSink stops delivering packets to s.
func (u *UDP) RemoveSink(s Sink) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.sinks = slices.DeleteFunc(slices.Clone(u.sinks), func(o Sink) bool { return o == s })
}

// Close shuts both sockets and waits for the readers to exit.
func (u *UDP) Close() error {
	u.closeOnce.Do(func() {
		u.closeErr = errors.Join(u.rtp.Close(), u.rtcp.Close())
		u.wg.Wait()
		u.log.Info("connector closed")
	})
	return u.closeErr
}
