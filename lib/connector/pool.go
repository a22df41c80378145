package connector

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/onkernel/rtp-recorder/lib/logger"
	"github.com/onkernel/rtp-recorder/lib/netloc"
)

// Factory opens a connector for a location.
type Factory func(ctx context.Context, loc netloc.NetworkLocation) (Connector, error)

// UDPFactory returns a Factory that opens UDP connectors with opts.
func UDPFactory(opts Options) Factory {
	return func(ctx context.Context, loc netloc.NetworkLocation) (Connector, error) {
		return DialUDP(ctx, loc, opts)
	}
}

type entry struct {
	conn  Connector
	count int
}

// Pool shares connectors between captures. A connector is opened on the first
// Acquire for its location and closed when the last holder releases it.
// Acquire and Release are serialized by a single lock.
type Pool struct {
	factory Factory

	mu      sync.Mutex
	entries map[netloc.NetworkLocation]*entry
}

func NewPool(factory Factory) *Pool {
	return &Pool{
		factory: factory,
		entries: make(map[netloc.NetworkLocation]*entry),
	}
}

// Acquire returns the connector for loc, opening it if needed, and attaches sink.
func (p *Pool) Acquire(ctx context.Context, loc netloc.NetworkLocation, sink Sink) (Connector, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	e, ok := p.entries[loc]
	if !ok {
		conn, err := p.factory(ctx, loc)
		if err != nil {
			return nil, fmt.Errorf("failed to open connector for %s: %w", loc, err)
		}
		e = &entry{conn: conn}
		p.entries[loc] = e
	}
	e.count++
	if sink != nil {
		e.conn.AddSink(sink)
	}
	logger.FromContext(ctx).Debug("connector acquired", "location", loc.String(), "count", e.count)
	return e.conn, nil
}

// Release detaches sink and closes the connector for loc once nobody holds it.
func (p *Pool) Release(ctx context.Context, loc netloc.NetworkLocation, sink Sink) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	e, ok := p.entries[loc]
	if !ok {
		return fmt.Errorf("no connector for %s: %w", loc, ErrNotAcquired)
	}
	if sink != nil {
		e.conn.RemoveSink(sink)
	}
	e.count--
	logger.FromContext(ctx).Debug("connector released", "location", loc.String(), "count", e.count)
	if e.count > 0 {
		return nil
	}
	delete(p.entries, loc)
	if err := e.conn.Close(); err != nil {
		return fmt.Errorf("failed to close connector for %s: %w", loc, err)
	}
	return nil
}

// Count is the number of holders of the connector for loc.
func (p *Pool) Count(loc netloc.NetworkLocation) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if e, ok := p.entries[loc]; ok {
		return e.count
	}
	return 0
}

// Locations lists the locations with an open connector.
func (p *Pool) Locations() []netloc.NetworkLocation {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]netloc.NetworkLocation, 0, len(p.entries))
	for loc := range p.entries {
		out = append(out, loc)
	}
	return out
}

// CloseAll closes every connector regardless of holders.
func (p *Pool) CloseAll(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var errs []error
	for loc, e := range p.entries {
		if err := e.conn.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close connector for %s: %w", loc, err))
		}
		delete(p.entries, loc)
	}
	logger.FromContext(ctx).Info("closed all connectors")

	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	return nil
}
