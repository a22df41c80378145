package playback

import (
	"sync"
	"time"
)

// clock is the shared playback position. Every change closes the channel
// returned by changed so that waiting senders re-evaluate.
type clock struct {
	mu      sync.Mutex
	pos     time.Duration
	anchor  time.Time
	running bool
	notify  chan struct{}
}

func newClock() *clock {
	return &clock{notify: make(chan struct{})}
}

func (c *clock) position() (time.Duration, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.positionLocked(), c.running
}

func (c *clock) positionLocked() time.Duration {
	if !c.running {
		return c.pos
	}
	return c.pos + time.Since(c.anchor)
}

func (c *clock) changed() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.notify
}

func (c *clock) broadcastLocked() {
	close(c.notify)
	c.notify = make(chan struct{})
}

func (c *clock) start() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return
	}
	c.anchor = time.Now()
	c.running = true
	c.broadcastLocked()
}

func (c *clock) pause() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.running {
		return
	}
	c.pos = c.positionLocked()
	c.running = false
	c.broadcastLocked()
}

func (c *clock) seek(pos time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pos = max(pos, 0)
	c.anchor = time.Now()
	c.broadcastLocked()
}
