package scheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/onkernel/rtp-recorder/lib/recording"
)

func date(y int, m time.Month, d, h, min int) time.Time {
	return time.Date(y, m, d, h, min, 0, 0, time.UTC)
}

func TestNextOccurrence(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name      string
		rec       recording.Recurrence
		base      time.Time
		now       time.Time
		wantStart time.Time
	}{
		{
			name:      "weekly every two weeks, checked the following thursday",
			rec:       recording.Recurrence{Frequency: recording.Weekly, ItemFrequency: 2, DayOfWeek: time.Wednesday, StartHour: 10, DurationMinutes: 30},
			base:      date(2024, time.March, 6, 10, 0),
			now:       date(2024, time.March, 7, 12, 0),
			wantStart: date(2024, time.March, 20, 10, 0),
		},
		{
			name:      "weekly occurrence still running",
			rec:       recording.Recurrence{Frequency: recording.Weekly, ItemFrequency: 1, DayOfWeek: time.Wednesday, StartHour: 10, DurationMinutes: 30},
			base:      date(2024, time.March, 4, 0, 0),
			now:       date(2024, time.March, 6, 10, 15),
			wantStart: date(2024, time.March, 6, 10, 0),
		},
		{
			name:      "monthly last friday skips a passed month",
			rec:       recording.Recurrence{Frequency: recording.Monthly, ItemFrequency: 1, DayOfWeek: time.Friday, WeekNumber: 0, StartHour: 14, DurationMinutes: 60},
			base:      date(2024, time.March, 1, 0, 0),
			now:       date(2024, time.March, 30, 9, 0),
			wantStart: date(2024, time.April, 26, 14, 0),
		},
		{
			name:      "monthly second tuesday",
			rec:       recording.Recurrence{Frequency: recording.Monthly, ItemFrequency: 1, DayOfWeek: time.Tuesday, WeekNumber: 2, StartHour: 10},
			base:      date(2024, time.March, 1, 0, 0),
			now:       date(2024, time.March, 1, 9, 0),
			wantStart: date(2024, time.March, 12, 10, 0),
		},
		{
			name:      "monthly by date clamps to month length",
			rec:       recording.Recurrence{Frequency: recording.Monthly, ItemFrequency: 1, DayOfMonth: 31, StartHour: 10, DurationMinutes: 30},
			base:      date(2024, time.January, 31, 0, 0),
			now:       date(2024, time.February, 1, 0, 0),
			wantStart: date(2024, time.February, 29, 10, 0),
		},
		{
			name:      "daily skipping weekends",
			rec:       recording.Recurrence{Frequency: recording.Daily, ItemFrequency: 1, IgnoreWeekends: true, StartHour: 9, DurationMinutes: 30},
			base:      date(2024, time.March, 8, 0, 0),
			now:       date(2024, time.March, 8, 10, 0),
			wantStart: date(2024, time.March, 11, 9, 0),
		},
		{
			name:      "daily skipping weekends keeps a weekend anchor",
			rec:       recording.Recurrence{Frequency: recording.Daily, ItemFrequency: 1, IgnoreWeekends: true, StartHour: 9, DurationMinutes: 30},
			base:      date(2024, time.March, 9, 0, 0),
			now:       date(2024, time.March, 8, 10, 0),
			wantStart: date(2024, time.March, 9, 9, 0),
		},
		{
			name:      "every other day",
			rec:       recording.Recurrence{Frequency: recording.Daily, ItemFrequency: 2, StartHour: 9, StartMinute: 30, DurationMinutes: 30},
			base:      date(2024, time.March, 1, 0, 0),
			now:       date(2024, time.March, 4, 12, 0),
			wantStart: date(2024, time.March, 5, 9, 30),
		},
		{
			name:      "annually on a date",
			rec:       recording.Recurrence{Frequency: recording.Annually, ItemFrequency: 1, Month: time.June, DayOfMonth: 15, StartHour: 10, DurationMinutes: 60},
			base:      date(2024, time.March, 1, 0, 0),
			now:       date(2024, time.July, 1, 0, 0),
			wantStart: date(2025, time.June, 15, 10, 0),
		},
		{
			name:      "annually on the first monday",
			rec:       recording.Recurrence{Frequency: recording.Annually, ItemFrequency: 1, Month: time.September, DayOfWeek: time.Monday, WeekNumber: 1, StartHour: 9, DurationMinutes: 60},
			base:      date(2024, time.January, 1, 0, 0),
			now:       date(2024, time.January, 1, 0, 0),
			wantStart: date(2024, time.September, 2, 9, 0),
		},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			start, end := NextOccurrence(tc.rec, tc.base, tc.now)
			assert.Equal(t, tc.wantStart, start)
			assert.Equal(t, tc.wantStart.Add(tc.rec.Duration()), end)
		})
	}
}

func TestNthWeekday(t *testing.T) {
	t.Parallel()

	// March 2024 starts on a Friday
	assert.Equal(t, 1, nthWeekday(2024, time.March, time.Friday, 1))
	assert.Equal(t, 29, nthWeekday(2024, time.March, time.Friday, 0))
	assert.Equal(t, 29, nthWeekday(2024, time.March, time.Friday, 5))
	assert.Equal(t, 29, nthWeekday(2024, time.March, time.Friday, 6))
	assert.Equal(t, 4, nthWeekday(2024, time.March, time.Monday, 1))
	assert.Equal(t, 25, nthWeekday(2024, time.March, time.Monday, 0))
}
