package lifetime

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/onkernel/rtp-recorder/lib/emailer"
	"github.com/onkernel/rtp-recorder/lib/recording"
)

type fakeDeleter struct {
	mu      sync.Mutex
	deleted []string
}

func (f *fakeDeleter) DeleteRecording(_ context.Context, folder, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, folder+"/"+id)
	return nil
}

func (f *fakeDeleter) list() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.deleted...)
}

type sent struct{ to, subject, body string }

type fakeEmailer struct {
	mu   sync.Mutex
	sent []sent
}

func (f *fakeEmailer) Send(_ context.Context, to, subject, body string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sent{to, subject, body})
	return nil
}

func (f *fakeEmailer) list() []sent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sent(nil), f.sent...)
}

func newRecording(start time.Time, duration, lifetime time.Duration) *recording.Recording {
	return &recording.Recording{
		ID:           "2024-03-06_100000-0000abc",
		Folder:       "team",
		StartTime:    start,
		Duration:     duration,
		Lifetime:     lifetime,
		EmailAddress: "owner@example.com",
		Metadata:     recording.NewMetadata("name", "Lecture 4"),
	}
}

func TestHandler_Schedule(t *testing.T) {
	t.Parallel()

	now := time.Now()
	testCases := []struct {
		name          string
		lifetime      time.Duration
		wantReminders int
	}{
		{"ten days", 10 * Day, 3},
		{"five days", 5 * Day, 2},
		{"two days", 2 * Day, 1},
		{"twelve hours", 12 * time.Hour, 0},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			h := New(t.Context(), &fakeDeleter{}, WithEmailer(&fakeEmailer{}), WithClock(func() time.Time { return now }))
			t.Cleanup(h.Shutdown)

			rec := newRecording(now.Add(-time.Hour), 30*time.Minute, tc.lifetime)
			h.Schedule(t.Context(), rec)

			deletion, reminders, ok := h.Scheduled(rec)
			require.True(t, ok)
			assert.Equal(t, now.Add(-30*time.Minute+tc.lifetime), deletion)
			assert.Len(t, reminders, tc.wantReminders)
			for _, r := range reminders {
				assert.True(t, r.After(now))
			}
		})
	}
}

func TestHandler_NoLifetime(t *testing.T) {
	t.Parallel()

	h := New(t.Context(), &fakeDeleter{})
	rec := newRecording(time.Now(), time.Minute, 0)
	h.RecordingAdded(t.Context(), rec)

	_, _, ok := h.Scheduled(rec)
	assert.False(t, ok)
}

func TestHandler_DeletesExpired(t *testing.T) {
	t.Parallel()

	db := &fakeDeleter{}
	h := New(t.Context(), db)
	rec := newRecording(time.Now().Add(-time.Hour), 10*time.Minute, time.Minute)
	h.RecordingAdded(t.Context(), rec)

	require.Eventually(t, func() bool { return len(db.list()) == 1 }, time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"team/2024-03-06_100000-0000abc"}, db.list())
	_, _, ok := h.Scheduled(rec)
	assert.False(t, ok)
}

func TestHandler_SendsFinalReminder(t *testing.T) {
	t.Parallel()

	mail := &fakeEmailer{}
	h := New(t.Context(), &fakeDeleter{}, WithEmailer(mail))
	t.Cleanup(h.Shutdown)

	// deletion is a day and a moment away, so only the final reminder is due soon
	start := time.Now()
	rec := newRecording(start, 0, Day+50*time.Millisecond)
	h.RecordingAdded(t.Context(), rec)

	require.Eventually(t, func() bool { return len(mail.list()) == 1 }, 2*time.Second, 10*time.Millisecond)
	msg := mail.list()[0]
	assert.Equal(t, "owner@example.com", msg.to)
	assert.Equal(t, emailer.FinalReminderSubject, msg.subject)
	assert.Contains(t, msg.body, "1 day,")
	assert.Contains(t, msg.body, "Lecture 4")
}

func TestHandler_LifetimeUpdateAndCancel(t *testing.T) {
	t.Parallel()

	db := &fakeDeleter{}
	h := New(t.Context(), db)
	rec := newRecording(time.Now(), time.Minute, 30*Day)
	h.RecordingAdded(t.Context(), rec)

	first, _, ok := h.Scheduled(rec)
	require.True(t, ok)

	rec.Lifetime = 60 * Day
	h.RecordingLifetimeUpdated(t.Context(), rec)
	second, _, ok := h.Scheduled(rec)
	require.True(t, ok)
	assert.Equal(t, 30*Day, second.Sub(first))

	moved := *rec
	moved.Folder = "archive"
	h.RecordingMoved(t.Context(), rec, &moved)
	_, _, ok = h.Scheduled(rec)
	assert.False(t, ok)
	_, _, ok = h.Scheduled(&moved)
	assert.True(t, ok)

	h.RecordingDeleted(t.Context(), &moved)
	_, _, ok = h.Scheduled(&moved)
	assert.False(t, ok)
	assert.Empty(t, db.list())
}

func TestReminderMessage(t *testing.T) {
	t.Parallel()

	deletion := time.Date(2024, time.March, 13, 9, 5, 0, 0, time.UTC)
	rec := newRecording(deletion, 0, Day)

	subject, body := ReminderMessage(rec, 3*Day, deletion)
	assert.Equal(t, emailer.ReminderSubject, subject)
	assert.Contains(t, body, "3 days")
	assert.Contains(t, body, "Wed, Mar 13, 2024 at 09:05")

	subject, body = ReminderMessage(rec, Day, deletion)
	assert.Equal(t, emailer.FinalReminderSubject, subject)
	assert.Contains(t, body, "1 day,")
}
