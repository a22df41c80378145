// Package netloc describes where a group of media streams is delivered.
package netloc

import (
	"fmt"
	"net"
	"strconv"
)

// NetworkLocation is a host/port pair plus the multicast TTL used to reach it.
// It is comparable and is used directly as a map key.
type NetworkLocation struct {
	Host string `json:"host"`
	Port int    `json:"port"`
	TTL  int    `json:"ttl"`
}

// New returns a NetworkLocation for host:port with the given ttl.
func New(host string, port, ttl int) NetworkLocation {
	return NetworkLocation{Host: host, Port: port, TTL: ttl}
}

// Parse accepts "host:port" or "host:port/ttl".
func Parse(s string) (NetworkLocation, error) {
	ttl := 127
	addr := s
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == '/' {
			v, err := strconv.Atoi(s[i+1:])
			if err != nil {
				return NetworkLocation{}, fmt.Errorf("invalid ttl in %q: %w", s, err)
			}
			ttl = v
			addr = s[:i]
			break
		}
	}
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return NetworkLocation{}, fmt.Errorf("invalid location %q: %w", s, err)
	}
	p, err := strconv.Atoi(port)
	if err != nil {
		return NetworkLocation{}, fmt.Errorf("invalid port in %q: %w", s, err)
	}
	if p <= 0 || p > 65534 {
		return NetworkLocation{}, fmt.Errorf("port %d out of range in %q", p, s)
	}
	return NetworkLocation{Host: host, Port: p, TTL: ttl}, nil
}

// Multicast reports whether Host is a multicast group address.
func (l NetworkLocation) Multicast() bool {
	ip := net.ParseIP(l.Host)
	return ip != nil && ip.IsMulticast()
}

// RTPAddr is the data address.
func (l NetworkLocation) RTPAddr() string {
	return net.JoinHostPort(l.Host, strconv.Itoa(l.Port))
}

// RTCPAddr is the control address, one port above the data port.
func (l NetworkLocation) RTCPAddr() string {
	return net.JoinHostPort(l.Host, strconv.Itoa(l.Port+1))
}

func (l NetworkLocation) String() string {
	return fmt.Sprintf("%s/%d", l.RTPAddr(), l.TTL)
}
