package playback

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pion/randutil"
	"golang.org/x/sync/errgroup"

	"github.com/onkernel/rtp-recorder/lib/logger"
	"github.com/onkernel/rtp-recorder/lib/netloc"
	"github.com/onkernel/rtp-recorder/lib/recording"
	"github.com/onkernel/rtp-recorder/lib/streamstore"
)

// SDESInterval is how often source descriptions are repeated.
const SDESInterval = 5 * time.Second

var ssrcs = randutil.NewMathRandomGenerator()

// Session replays the streams of one recording.
type Session struct {
	rec      *recording.Recording
	channels []*channel
	clock    *clock

	cancel context.CancelFunc
	group  *errgroup.Group

	stopOnce sync.Once
	stopErr  error
}

// target pairs a stream with the location it is sent to.
type target struct {
	stream *recording.Stream
	loc    netloc.NetworkLocation
}

func newSession(ctx context.Context, rec *recording.Recording, targets []target) (*Session, error) {
	log := logger.FromContext(ctx).With("recording", rec.ID)
	s := &Session{rec: rec, clock: newClock()}

	var earliest time.Time
	for _, t := range targets {
		r, err := streamstore.OpenReader(rec.Dir, t.stream.SSRC)
		if err != nil {
			s.closeChannels("Failed")
			return nil, fmt.Errorf("failed to open stream %s: %w", t.stream.SSRC, err)
		}
		cname := t.stream.CNAME
		if cname == "" {
			cname = "replay-" + uuid.NewString()
		}
		ssrc := ssrcs.Uint32()
		c := &channel{
			stream: t.stream,
			target: t.loc,
			ssrc:   ssrc,
			cname:  cname,
			reader: r,
			seq:    uint16(ssrcs.Uint32()),
			log:    log.With("ssrc", t.stream.SSRC, "replay_ssrc", strconv.FormatUint(uint64(ssrc), 10), "target", t.loc.String()),
		}
		s.channels = append(s.channels, c)
		if start := r.Header().Start; earliest.IsZero() || start.Before(earliest) {
			earliest = start
		}
	}
	for _, c := range s.channels {
		c.offset = c.reader.Header().Start.Sub(earliest)
		c.note = startNote(c.stream.Note, c.offset)
		if err := c.open(); err != nil {
			s.closeChannels("Failed")
			return nil, err
		}
	}
	return s, nil
}

// start begins replay on background goroutines.
func (s *Session) start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(context.WithoutCancel(ctx))
	g, gctx := errgroup.WithContext(ctx)
	s.group = g
	for _, c := range s.channels {
		if err := c.sendSDES(); err != nil {
			c.log.Debug("failed to send sdes", "err", err)
		}
		g.Go(func() error {
			s.replay(gctx, c)
			return nil
		})
	}
	g.Go(func() error {
		s.announce(gctx)
		return nil
	})
	s.clock.start()
}

// replay sends the packets of c as the clock reaches them. Each stream ends
// on its own; the others keep playing.
func (s *Session) replay(ctx context.Context, c *channel) {
	for {
		wake := s.clock.changed()

		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			return
		}
		e, err := c.peekLocked()
		if err != nil {
			c.mu.Unlock()
			if errors.Is(err, io.EOF) {
				c.log.Info("stream finished")
			} else {
				c.log.Error("failed to read stream", "err", err)
			}
			if err := c.close("Stopped"); err != nil {
				c.log.Warn("failed to close stream", "err", err)
			}
			return
		}
		due := c.offset + e.Offset
		pos, running := s.clock.position()
		if running && due <= pos {
			c.pending = nil
		}
		c.mu.Unlock()

		if !running || due > pos {
			var timer *time.Timer
			var fire <-chan time.Time
			if running {
				timer = time.NewTimer(due - pos)
				fire = timer.C
			}
			select {
			case <-ctx.Done():
			case <-wake:
			case <-fire:
			}
			if timer != nil {
				timer.Stop()
			}
			if ctx.Err() != nil {
				return
			}
			continue
		}

		c.starting()
		if err := c.send(e); err != nil {
			c.log.Warn("failed to send packet", "err", err)
		}
	}
}

// announce repeats source descriptions until ctx is done.
func (s *Session) announce(ctx context.Context) {
	t := time.NewTicker(SDESInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			for _, c := range s.channels {
				if err := c.sendSDES(); err != nil {
					c.log.Debug("failed to send sdes", "err", err)
				}
			}
		}
	}
}

func (s *Session) pause() {
	s.clock.pause()
}

func (s *Session) resume() {
	s.clock.start()
}

func (s *Session) seek(pos time.Duration) error {
	var errs []error
	for _, c := range s.channels {
		if err := c.seek(pos); err != nil {
			errs = append(errs, fmt.Errorf("stream %s: %w", c.stream.SSRC, err))
		}
	}
	s.clock.seek(pos)
	return errors.Join(errs...)
}

// Position is the current playback offset from the start of the recording.
func (s *Session) Position() time.Duration {
	pos, _ := s.clock.position()
	return pos
}

// Paused reports whether the clock is halted.
func (s *Session) Paused() bool {
	_, running := s.clock.position()
	return !running
}

// Open is the number of streams still playing.
func (s *Session) Open() int {
	n := 0
	for _, c := range s.channels {
		if !c.isClosed() {
			n++
		}
	}
	return n
}

func (s *Session) closeChannels(reason string) error {
	var errs []error
	for _, c := range s.channels {
		errs = append(errs, c.close(reason))
	}
	return errors.Join(errs...)
}

// stop halts every sender and closes the channels that are still open.
func (s *Session) stop() error {
	s.stopOnce.Do(func() {
		s.clock.pause()
		var errs []error
		if s.cancel != nil {
			s.cancel()
			errs = append(errs, s.group.Wait())
		}
		errs = append(errs, s.closeChannels("Leaving"))
		s.stopErr = errors.Join(errs...)
	})
	return s.stopErr
}
