package scheduler

import (
	"time"

	"github.com/onkernel/rtp-recorder/lib/recording"
)

// NextOccurrence returns the first occurrence of r, counted from the day of
// base, that has not ended by now.
func NextOccurrence(r recording.Recurrence, base, now time.Time) (start, end time.Time) {
	step := max(r.ItemFrequency, 1)
	loc := base.Location()
	at := func(y int, m time.Month, d int) time.Time {
		return time.Date(y, m, d, r.StartHour, r.StartMinute, 0, 0, loc)
	}
	done := func() bool { return !start.Add(r.Duration()).Before(now) }

	switch r.Frequency {
	case recording.Daily:
		start = at(base.Year(), base.Month(), base.Day())
		// weekends are only skipped after a jump; the anchor day always counts
		for !done() {
			start = start.AddDate(0, 0, step)
			if r.IgnoreWeekends {
				start = skipWeekend(start)
			}
		}

	case recording.Weekly:
		start = at(base.Year(), base.Month(), base.Day())
		start = start.AddDate(0, 0, int(r.DayOfWeek)-int(start.Weekday()))
		for !done() {
			start = start.AddDate(0, 0, 7*step)
		}

	case recording.Monthly:
		y, m := base.Year(), base.Month()
		day := func() time.Time {
			if r.DayOfMonth > 0 {
				return at(y, m, min(r.DayOfMonth, daysIn(y, m)))
			}
			return at(y, m, nthWeekday(y, m, r.DayOfWeek, r.WeekNumber))
		}
		start = day()
		for !done() {
			y, m = addMonths(y, m, step)
			start = day()
		}

	case recording.Annually:
		y, m := base.Year(), r.Month
		if m < time.January || m > time.December {
			m = base.Month()
		}
		day := func() time.Time {
			if r.DayOfMonth > 0 {
				return at(y, m, min(r.DayOfMonth, daysIn(y, m)))
			}
			return at(y, m, nthWeekday(y, m, r.DayOfWeek, r.WeekNumber))
		}
		start = day()
		for !done() {
			y += step
			start = day()
		}

	default:
		start = at(base.Year(), base.Month(), base.Day())
	}
	return start, start.Add(r.Duration())
}

func skipWeekend(t time.Time) time.Time {
	for t.Weekday() == time.Saturday || t.Weekday() == time.Sunday {
		t = t.AddDate(0, 0, 1)
	}
	return t
}

func daysIn(y int, m time.Month) int {
	return time.Date(y, m+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

func addMonths(y int, m time.Month, n int) (int, time.Month) {
	total := int(m) - 1 + n
	return y + total/12, time.Month(total%12 + 1)
}

// nthWeekday is the day of month of the n-th dow in y/m; n of 0, or past the
// end of the month, selects the last one.
func nthWeekday(y int, m time.Month, dow time.Weekday, n int) int {
	first := time.Date(y, m, 1, 0, 0, 0, 0, time.UTC).Weekday()
	d := 1 + (int(dow)-int(first)+7)%7
	last := d
	for last+7 <= daysIn(y, m) {
		last += 7
	}
	if n <= 0 {
		return last
	}
	d += 7 * (n - 1)
	if d > daysIn(y, m) {
		return last
	}
	return d
}
