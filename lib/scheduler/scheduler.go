// Package scheduler starts, stops, pauses and resumes captures for recording
// definitions, arming timers for scheduled and recurring ones.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"slices"
	"sync"
	"time"

	"github.com/samber/lo"

	"github.com/onkernel/rtp-recorder/lib/connector"
	"github.com/onkernel/rtp-recorder/lib/emailer"
	"github.com/onkernel/rtp-recorder/lib/logger"
	"github.com/onkernel/rtp-recorder/lib/netloc"
	"github.com/onkernel/rtp-recorder/lib/recording"
	"github.com/onkernel/rtp-recorder/lib/rtptype"
	"github.com/onkernel/rtp-recorder/lib/streamstore"
	"github.com/onkernel/rtp-recorder/lib/venue"
)

// Store persists what the scheduler produces.
type Store interface {
	Dir(folder, id string) string
	AddRecording(ctx context.Context, rec *recording.Recording) error
	FinishUnfinishedRecording(ctx context.Context, def *recording.UnfinishedRecording) error
	SaveState(ctx context.Context, def *recording.UnfinishedRecording) error
}

// ConnectorPool hands out shared connectors.
type ConnectorPool interface {
	Acquire(ctx context.Context, loc netloc.NetworkLocation, sink connector.Sink) (connector.Connector, error)
	Release(ctx context.Context, loc netloc.NetworkLocation, sink connector.Sink) error
}

type capture struct {
	def       *recording.UnfinishedRecording
	id        string
	dir       string
	started   time.Time
	manager   *streamstore.Manager
	locations []netloc.NetworkLocation
}

type occurrence struct {
	start *time.Time
	stop  *time.Time
}

// Scheduler drives captures. Operations on the same definition are
// serialized; timers call back into Start and Stop.
type Scheduler struct {
	ctx     context.Context
	store   Store
	pool    ConnectorPool
	types   rtptype.Repository
	venues  venue.Resolver
	emailer emailer.Emailer
	now     func() time.Time

	mu     sync.Mutex
	active map[string]*capture
	next   map[string]occurrence
	timers *timers
	closed bool
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithVenues resolves definitions that name a venue instead of addresses.
func WithVenues(r venue.Resolver) Option {
	return func(s *Scheduler) { s.venues = r }
}

// WithEmailer sends completion notices.
func WithEmailer(e emailer.Emailer) Option {
	return func(s *Scheduler) { s.emailer = e }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// New returns a scheduler. ctx carries the logger used by timer callbacks.
func New(ctx context.Context, store Store, pool ConnectorPool, types rtptype.Repository, opts ...Option) *Scheduler {
	s := &Scheduler{
		ctx:    context.WithoutCancel(ctx),
		store:  store,
		pool:   pool,
		types:  types,
		now:    time.Now,
		active: make(map[string]*capture),
		next:   make(map[string]occurrence),
		timers: newTimers(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Start begins capturing def. It is a no-op when def is already started.
func (s *Scheduler) Start(ctx context.Context, def *recording.UnfinishedRecording) error {
	log := logger.FromContext(ctx).With("definition", def.ID)

	s.mu.Lock()
	defer s.mu.Unlock()

	s.timers.cancel(def.ID, startTimer)
	if s.closed {
		return ErrShutdown
	}
	if def.Started() {
		return nil
	}

	if err := s.start(ctx, def); err != nil {
		def.SetStatus(recording.ErrorStatus("Could not start: " + err.Error()))
		s.saveState(ctx, def)
		log.Error("failed to start recording", "err", err)
		return err
	}
	def.MarkStarted()
	s.saveState(ctx, def)
	log.Info("recording started", "name", primaryValue(def))
	return nil
}

func (s *Scheduler) start(ctx context.Context, def *recording.UnfinishedRecording) error {
	locs, err := s.destinations(ctx, def)
	if err != nil {
		return err
	}
	now := s.now()
	id := recording.NewRecordingID(now, def.ID)
	dir := s.store.Dir(def.Folder, id)
	mgr, err := streamstore.NewManager(ctx, dir, s.types)
	if err != nil {
		return err
	}

	var acquired []netloc.NetworkLocation
	for _, loc := range locs {
		if _, err := s.pool.Acquire(ctx, loc, mgr); err != nil {
			for _, a := range acquired {
				_ = s.pool.Release(ctx, a, mgr)
			}
			_, _, _ = mgr.Terminate()
			_ = os.Remove(dir)
			return err
		}
		acquired = append(acquired, loc)
	}
	s.active[def.ID] = &capture{def: def, id: id, dir: dir, started: now, manager: mgr, locations: acquired}
	return nil
}

func (s *Scheduler) destinations(ctx context.Context, def *recording.UnfinishedRecording) ([]netloc.NetworkLocation, error) {
	if def.VenueURL != "" {
		if s.venues == nil {
			return nil, fmt.Errorf("venue %s: %w", def.VenueURL, ErrNoVenues)
		}
		v, err := s.venues.Venue(ctx, def.VenueURL)
		if err != nil {
			return nil, err
		}
		streams, err := v.Streams(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list venue streams: %w", err)
		}
		return lo.Uniq(lo.Map(streams, func(d venue.StreamDescription, _ int) netloc.NetworkLocation { return d.Location })), nil
	}
	if len(def.Addresses) == 0 {
		return nil, ErrNoDestinations
	}
	return lo.Uniq(def.Addresses), nil
}

// Stop ends the capture of def and, when anything was captured, stores the
// recording. It returns nil when def was not recording or captured nothing.
func (s *Scheduler) Stop(ctx context.Context, def *recording.UnfinishedRecording) (*recording.Recording, error) {
	s.mu.Lock()
	rec, err := s.stop(ctx, def)
	s.mu.Unlock()

	if rec != nil && err == nil {
		s.notifyCompleted(ctx, rec)
	}
	return rec, err
}

func (s *Scheduler) stop(ctx context.Context, def *recording.UnfinishedRecording) (*recording.Recording, error) {
	log := logger.FromContext(ctx).With("definition", def.ID)

	s.timers.cancel(def.ID, stopTimer)
	if def.Finished() || !def.Started() {
		return nil, nil
	}
	c, ok := s.active[def.ID]
	delete(s.active, def.ID)
	if !ok {
		def.Reset()
		s.saveState(ctx, def)
		return nil, nil
	}

	c.manager.Disable()
	for _, loc := range c.locations {
		if err := s.pool.Release(ctx, loc, c.manager); err != nil {
			log.Error("failed to release connector", "location", loc.String(), "err", err)
		}
	}
	streams, pauses, err := c.manager.Terminate()
	if err != nil {
		log.Error("failed to terminate capture", "err", err)
	}

	var occurrenceEnd time.Time
	if n, ok := s.next[def.ID]; ok && n.stop != nil {
		occurrenceEnd = *n.stop
	}

	if len(streams) == 0 {
		_ = os.Remove(c.dir)
		def.Reset()
		if def.IsRecurring() {
			s.schedule(ctx, def, occurrenceEnd)
		} else {
			def.SetStatus(recording.StatusNoStreamsRecorded)
		}
		s.saveState(ctx, def)
		log.Info("stopped empty recording", "name", primaryValue(def))
		return nil, nil
	}

	rec := s.finishedRecording(def, c, streams, pauses)
	def.MarkFinished()
	if err := s.store.AddRecording(ctx, rec); err != nil {
		def.SetStatus(recording.ErrorStatus(err.Error()))
		s.saveState(ctx, def)
		return rec, fmt.Errorf("failed to store recording: %w", err)
	}
	if def.IsRecurring() {
		def.Reset()
		s.schedule(ctx, def, occurrenceEnd)
		s.saveState(ctx, def)
	} else {
		def.SetStatus(recording.StatusCompleted)
		delete(s.next, def.ID)
		if err := s.store.FinishUnfinishedRecording(ctx, def); err != nil {
			log.Warn("failed to finish recording definition", "err", err)
		}
	}
	log.Info("recording stopped", "name", primaryValue(def), "recording", rec.ID, "streams", len(rec.Streams))
	return rec, nil
}

func (s *Scheduler) finishedRecording(def *recording.UnfinishedRecording, c *capture, streams []*recording.Stream, pauses []recording.Pause) *recording.Recording {
	start := c.started
	var end time.Time
	for _, st := range streams {
		if st.StartTime.Before(start) {
			start = st.StartTime
		}
		if st.EndTime.After(end) {
			end = st.EndTime
		}
	}
	slices.SortStableFunc(streams, func(a, b *recording.Stream) int { return a.StartTime.Compare(b.StartTime) })
	return &recording.Recording{
		ID:           c.id,
		Folder:       def.Folder,
		Dir:          c.dir,
		StartTime:    start,
		Duration:     max(end.Sub(start), 0),
		Streams:      streams,
		Metadata:     def.Metadata.Clone(),
		PauseTimes:   pauses,
		Lifetime:     def.Lifetime,
		EmailAddress: def.EmailAddress,
	}
}

func (s *Scheduler) notifyCompleted(ctx context.Context, rec *recording.Recording) {
	if rec.EmailAddress == "" || s.emailer == nil {
		return
	}
	body := emailer.Render(emailer.RecordingCompletedBody, map[string]string{
		"recording": path.Join(rec.Folder, rec.ID),
	})
	if err := s.emailer.Send(ctx, rec.EmailAddress, emailer.RecordingCompletedSubject, body); err != nil {
		logger.FromContext(ctx).Error("failed to send completion email", "recording", rec.ID, "err", err)
	}
}

// Pause stops writing packets for def while keeping its connectors.
func (s *Scheduler) Pause(ctx context.Context, def *recording.UnfinishedRecording) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, err := s.running(def)
	if err != nil {
		return err
	}
	c.manager.Disable()
	def.SetStatus(recording.StatusPaused)
	s.saveState(ctx, def)
	return nil
}

// Resume undoes Pause.
func (s *Scheduler) Resume(ctx context.Context, def *recording.UnfinishedRecording) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, err := s.running(def)
	if err != nil {
		return err
	}
	c.manager.Enable()
	def.SetStatus(recording.StatusRecording)
	s.saveState(ctx, def)
	return nil
}

func (s *Scheduler) running(def *recording.UnfinishedRecording) (*capture, error) {
	if !def.Started() || def.Finished() {
		return nil, ErrNotRecording
	}
	c, ok := s.active[def.ID]
	if !ok {
		return nil, ErrNotRecording
	}
	return c, nil
}

// Schedule (re)arms the start and stop timers of def.
func (s *Scheduler) Schedule(ctx context.Context, def *recording.UnfinishedRecording) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.schedule(ctx, def, time.Time{})
}

// schedule arms the timers of def. Occurrences ending at or before done are
// skipped so that a stopped occurrence is not restarted.
func (s *Scheduler) schedule(ctx context.Context, def *recording.UnfinishedRecording, done time.Time) {
	log := logger.FromContext(ctx).With("definition", def.ID)
	s.timers.cancelAll(def.ID)
	if s.closed {
		return
	}
	now := s.now()

	start, stop := def.StartDate, def.StopDate
	if def.IsRecurring() {
		base := now
		if def.StartDate != nil {
			base = def.StartDate.In(now.Location())
		}
		ref := now
		if !done.IsZero() && !done.Before(ref) {
			ref = done.Add(time.Nanosecond)
		}
		ns, ne := NextOccurrence(def.Recurrence, base, ref)
		if def.StopDate != nil && ns.After(*def.StopDate) {
			delete(s.next, def.ID)
			log.Info("recurrence has ended", "name", primaryValue(def))
			return
		}
		start, stop = &ns, &ne
	}
	s.next[def.ID] = occurrence{start: start, stop: stop}

	if start != nil && !def.Started() && (stop == nil || stop.After(now)) {
		s.timers.at(def.ID, startTimer, *start, func() {
			_ = s.Start(s.ctx, def)
		})
		log.Info("recording scheduled to start", "name", primaryValue(def), "at", *start)
	}
	if stop != nil && !def.Finished() && stop.After(now) {
		s.timers.at(def.ID, stopTimer, *stop, func() {
			_, _ = s.Stop(s.ctx, def)
		})
		log.Info("recording scheduled to stop", "name", primaryValue(def), "at", *stop)
	}
}

// Cancel removes any pending timers for def.
func (s *Scheduler) Cancel(def *recording.UnfinishedRecording) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.timers.cancelAll(def.ID)
	delete(s.next, def.ID)
}

// Info describes the scheduling state of a definition.
type Info struct {
	ID        string           `json:"id"`
	Status    recording.Status `json:"status"`
	NextStart *time.Time       `json:"nextStart,omitempty"`
	NextStop  *time.Time       `json:"nextStop,omitempty"`
	Streams   int              `json:"streams"`
}

// Describe reports the status, next occurrence and live stream count of def.
func (s *Scheduler) Describe(def *recording.UnfinishedRecording) Info {
	s.mu.Lock()
	defer s.mu.Unlock()
	info := Info{ID: def.ID, Status: def.Status()}
	if n, ok := s.next[def.ID]; ok {
		info.NextStart, info.NextStop = n.start, n.stop
	}
	if c, ok := s.active[def.ID]; ok {
		info.Streams = len(c.manager.Streams())
	}
	return info
}

// Active lists the ids of definitions currently capturing.
func (s *Scheduler) Active() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := lo.Keys(s.active)
	slices.Sort(ids)
	return ids
}

func (s *Scheduler) UnfinishedRecordingAdded(ctx context.Context, def *recording.UnfinishedRecording) {
	s.Schedule(ctx, def)
}

func (s *Scheduler) UnfinishedRecordingUpdated(ctx context.Context, def *recording.UnfinishedRecording) {
	s.Schedule(ctx, def)
}

func (s *Scheduler) UnfinishedRecordingDeleted(ctx context.Context, def *recording.UnfinishedRecording) {
	if _, err := s.Stop(ctx, def); err != nil {
		logger.FromContext(ctx).Error("failed to stop deleted recording", "definition", def.ID, "err", err)
	}
	s.Cancel(def)
}

// Shutdown stops every capture and cancels every timer.
func (s *Scheduler) Shutdown(ctx context.Context) error {
	log := logger.FromContext(ctx)

	s.mu.Lock()
	s.closed = true
	s.timers.stopAll()
	defs := lo.MapToSlice(s.active, func(_ string, c *capture) *recording.UnfinishedRecording { return c.def })
	s.mu.Unlock()

	var errs []error
	for _, def := range defs {
		if _, err := s.Stop(ctx, def); err != nil {
			errs = append(errs, fmt.Errorf("failed to stop recording '%s': %w", def.ID, err))
		}
	}

	s.mu.Lock()
	s.timers.stopAll()
	s.mu.Unlock()

	log.Info("stopped all recordings", "count", len(defs))

	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	return nil
}

func (s *Scheduler) saveState(ctx context.Context, def *recording.UnfinishedRecording) {
	if err := s.store.SaveState(ctx, def); err != nil {
		logger.FromContext(ctx).Warn("failed to save recording state", "definition", def.ID, "err", err)
	}
}

func primaryValue(def *recording.UnfinishedRecording) string {
	if def.Metadata == nil {
		return ""
	}
	return def.Metadata.PrimaryValue()
}
