// Package lifetime deletes recordings when their lifetime runs out and sends
// reminder emails ahead of the deletion.
package lifetime

import (
	"context"
	"fmt"
	"path"
	"sync"
	"time"

	"github.com/onkernel/rtp-recorder/lib/emailer"
	"github.com/onkernel/rtp-recorder/lib/logger"
	"github.com/onkernel/rtp-recorder/lib/recording"
	"github.com/onkernel/rtp-recorder/lib/recordingdb"
)

// Day is the unit of reminder offsets.
const Day = 24 * time.Hour

// DateFormat renders the deletion date in reminder emails.
const DateFormat = "Mon, Jan 2, 2006 at 15:04"

// Reminders are sent this long before deletion. The shortest one is the final
// reminder.
var Reminders = []time.Duration{Day, 3 * Day, 7 * Day}

// Deleter removes a recording.
type Deleter interface {
	DeleteRecording(ctx context.Context, folder, id string) error
}

type schedule struct {
	deletion  time.Time
	reminders []time.Time
	timers    []*time.Timer
}

func (s *schedule) stop() {
	for _, t := range s.timers {
		t.Stop()
	}
}

// Handler keeps one deletion timer, plus reminder timers, per recording with
// a lifetime.
type Handler struct {
	ctx     context.Context
	db      Deleter
	emailer emailer.Emailer
	now     func() time.Time

	mu        sync.Mutex
	schedules map[string]*schedule
}

var _ recordingdb.RecordingListener = (*Handler)(nil)

// Option configures a Handler.
type Option func(*Handler)

// WithEmailer sends reminders through e.
func WithEmailer(e emailer.Emailer) Option {
	return func(h *Handler) { h.emailer = e }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(h *Handler) { h.now = now }
}

func New(ctx context.Context, db Deleter, opts ...Option) *Handler {
	h := &Handler{
		ctx:       context.WithoutCancel(ctx),
		db:        db,
		now:       time.Now,
		schedules: make(map[string]*schedule),
	}
	for _, o := range opts {
		o(h)
	}
	return h
}

func key(rec *recording.Recording) string {
	return path.Join(rec.Folder, rec.ID)
}

// Schedule (re)arms the timers of rec. A recording without a lifetime has
// its timers cancelled.
func (h *Handler) Schedule(ctx context.Context, rec *recording.Recording) {
	log := logger.FromContext(ctx).With("recording", key(rec))
	h.Cancel(rec)

	deletion, ok := rec.DeletionTime()
	if !ok {
		return
	}
	now := h.now()
	s := &schedule{deletion: deletion}
	folder, id := rec.Folder, rec.ID

	h.mu.Lock()
	h.schedules[key(rec)] = s
	s.timers = append(s.timers, time.AfterFunc(deletion.Sub(now), func() {
		h.expire(s, folder, id)
	}))
	if rec.EmailAddress != "" && h.emailer != nil {
		for _, before := range Reminders {
			at := deletion.Add(-before)
			if !at.After(now) {
				continue
			}
			s.reminders = append(s.reminders, at)
			s.timers = append(s.timers, time.AfterFunc(at.Sub(now), func() {
				h.remind(rec, before, deletion)
			}))
		}
	}
	h.mu.Unlock()
	log.Info("recording deletion scheduled", "at", deletion, "reminders", len(s.reminders))
}

// Cancel stops the timers of rec.
func (h *Handler) Cancel(rec *recording.Recording) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if s, ok := h.schedules[key(rec)]; ok {
		s.stop()
		delete(h.schedules, key(rec))
	}
}

// Scheduled returns the deletion time and pending reminder times of rec.
func (h *Handler) Scheduled(rec *recording.Recording) (deletion time.Time, reminders []time.Time, ok bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	s, ok := h.schedules[key(rec)]
	if !ok {
		return time.Time{}, nil, false
	}
	return s.deletion, append([]time.Time(nil), s.reminders...), true
}

func (h *Handler) expire(s *schedule, folder, id string) {
	k := path.Join(folder, id)
	log := logger.FromContext(h.ctx).With("recording", k)
	h.mu.Lock()
	if h.schedules[k] != s {
		h.mu.Unlock()
		return
	}
	delete(h.schedules, k)
	h.mu.Unlock()

	if err := h.db.DeleteRecording(h.ctx, folder, id); err != nil {
		log.Error("failed to delete expired recording", "err", err)
		return
	}
	log.Info("deleted expired recording")
}

// ReminderMessage builds the subject and body of a reminder sent remaining
// before deletion.
func ReminderMessage(rec *recording.Recording, remaining time.Duration, deletion time.Time) (subject, body string) {
	subject = emailer.ReminderSubject
	if remaining == Reminders[0] {
		subject = emailer.FinalReminderSubject
	}
	days := int(remaining / Day)
	unit := "days"
	if days == 1 {
		unit = "day"
	}
	name := key(rec)
	if rec.Metadata != nil && rec.Metadata.PrimaryValue() != "" {
		name = rec.Metadata.PrimaryValue()
	}
	body = emailer.Render(emailer.ReminderBody, map[string]string{
		"recording":     name,
		"timeRemaining": fmt.Sprintf("%d %s", days, unit),
		"deleteDate":    deletion.Format(DateFormat),
	})
	return subject, body
}

func (h *Handler) remind(rec *recording.Recording, remaining time.Duration, deletion time.Time) {
	subject, body := ReminderMessage(rec, remaining, deletion)
	if err := h.emailer.Send(h.ctx, rec.EmailAddress, subject, body); err != nil {
		logger.FromContext(h.ctx).Error("failed to send lifetime reminder", "recording", key(rec), "err", err)
	}
}

func (h *Handler) RecordingAdded(ctx context.Context, rec *recording.Recording) {
	h.Schedule(ctx, rec)
}

func (h *Handler) RecordingDeleted(_ context.Context, rec *recording.Recording) {
	h.Cancel(rec)
}

func (h *Handler) RecordingMoved(ctx context.Context, oldRec, newRec *recording.Recording) {
	h.Cancel(oldRec)
	h.Schedule(ctx, newRec)
}

func (h *Handler) RecordingLifetimeUpdated(ctx context.Context, rec *recording.Recording) {
	h.Schedule(ctx, rec)
}

func (h *Handler) RecordingMetadataUpdated(context.Context, *recording.Recording) {}

func (h *Handler) RecordingLayoutsUpdated(context.Context, *recording.Recording) {}

// Shutdown stops every timer.
func (h *Handler) Shutdown() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for k, s := range h.schedules {
		s.stop()
		delete(h.schedules, k)
	}
}
