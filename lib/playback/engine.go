// Package playback replays archived recordings as live RTP into a venue.
package playback

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/samber/lo"

	"github.com/onkernel/rtp-recorder/lib/logger"
	"github.com/onkernel/rtp-recorder/lib/recording"
	"github.com/onkernel/rtp-recorder/lib/venue"
)

// Engine owns every playback session, addressed by integer handles.
type Engine struct {
	venues venue.Resolver

	mu       sync.Mutex
	next     int
	sessions map[int]*Session
}

func NewEngine(venues venue.Resolver) *Engine {
	return &Engine{
		venues:   venues,
		sessions: make(map[int]*Session),
	}
}

// Play negotiates the streams of rec with the venue at venueURL and starts
// replaying them. It returns the handle of the new session.
func (e *Engine) Play(ctx context.Context, rec *recording.Recording, venueURL string) (int, error) {
	if e.venues == nil {
		return 0, ErrNoVenues
	}
	v, err := e.venues.Venue(ctx, venueURL)
	if err != nil {
		return 0, fmt.Errorf("failed to resolve venue: %w", err)
	}
	return e.PlayTo(ctx, rec, v)
}

// PlayTo replays rec into v.
func (e *Engine) PlayTo(ctx context.Context, rec *recording.Recording, v venue.Venue) (int, error) {
	log := logger.FromContext(ctx).With("recording", rec.ID)

	streams := lo.Filter(rec.Streams, func(s *recording.Stream, _ int) bool { return s.RTPType != nil })
	caps := lo.Uniq(lo.Map(streams, func(s *recording.Stream, _ int) venue.Capability { return CapabilityFor(*s.RTPType) }))
	descs, err := v.Negotiate(ctx, caps)
	if err != nil {
		return 0, fmt.Errorf("failed to negotiate streams: %w", err)
	}

	var targets []target
	for _, s := range streams {
		c := CapabilityFor(*s.RTPType)
		i := slices.IndexFunc(descs, func(d venue.StreamDescription) bool { return d.Accepts(c) })
		if i < 0 {
			log.Warn("no venue stream accepts recorded stream", "ssrc", s.SSRC, "encoding", c.Encoding)
			continue
		}
		targets = append(targets, target{stream: s, loc: descs[i].Location})
	}
	if len(targets) == 0 {
		return 0, ErrNoTargets
	}

	s, err := newSession(ctx, rec, targets)
	if err != nil {
		return 0, err
	}

	e.mu.Lock()
	h := e.next
	e.next++
	e.sessions[h] = s
	e.mu.Unlock()

	s.start(ctx)
	log.Info("playback started", "handle", h, "streams", len(targets))
	return h, nil
}

func (e *Engine) session(h int) (*Session, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok := e.sessions[h]
	if !ok {
		return nil, fmt.Errorf("handle %d: %w", h, ErrSessionNotFound)
	}
	return s, nil
}

// Pause halts the session clock.
func (e *Engine) Pause(h int) error {
	s, err := e.session(h)
	if err != nil {
		return err
	}
	s.pause()
	return nil
}

// Resume restarts the session clock.
func (e *Engine) Resume(h int) error {
	s, err := e.session(h)
	if err != nil {
		return err
	}
	s.resume()
	return nil
}

// Seek moves the session to pos from the start of the recording.
func (e *Engine) Seek(h int, pos time.Duration) error {
	s, err := e.session(h)
	if err != nil {
		return err
	}
	return s.seek(pos)
}

// Time is the current position of the session.
func (e *Engine) Time(h int) (time.Duration, error) {
	s, err := e.session(h)
	if err != nil {
		return 0, err
	}
	return s.Position(), nil
}

// Stop ends the session and forgets its handle.
func (e *Engine) Stop(ctx context.Context, h int) error {
	e.mu.Lock()
	s, ok := e.sessions[h]
	delete(e.sessions, h)
	e.mu.Unlock()
	if !ok {
		return fmt.Errorf("handle %d: %w", h, ErrSessionNotFound)
	}
	if err := s.stop(); err != nil {
		return fmt.Errorf("failed to stop playback %d: %w", h, err)
	}
	logger.FromContext(ctx).Info("playback stopped", "handle", h)
	return nil
}

// StopAll stops every session.
func (e *Engine) StopAll(ctx context.Context) error {
	e.mu.Lock()
	handles := lo.Keys(e.sessions)
	e.mu.Unlock()

	var errs []error
	for _, h := range handles {
		if err := e.Stop(ctx, h); err != nil && !errors.Is(err, ErrSessionNotFound) {
			errs = append(errs, err)
		}
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	return nil
}

// Status describes one session.
type Status struct {
	Handle    int           `json:"handle"`
	Folder    string        `json:"folder"`
	Recording string        `json:"recording"`
	Position  time.Duration `json:"position"`
	Paused    bool          `json:"paused"`
	Streams   int           `json:"streams"`
}

// Sessions lists the sessions ordered by handle.
func (e *Engine) Sessions() []Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := lo.MapToSlice(e.sessions, func(h int, s *Session) Status {
		return Status{
			Handle:    h,
			Folder:    s.rec.Folder,
			Recording: s.rec.ID,
			Position:  s.Position(),
			Paused:    s.Paused(),
			Streams:   s.Open(),
		}
	})
	slices.SortFunc(out, func(a, b Status) int { return a.Handle - b.Handle })
	return out
}
