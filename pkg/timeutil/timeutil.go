// Package timeutil provides calendar-day utilities for streak tracking.
// A learner's day boundary is the local calendar day of the device, so every
// helper here works in the location carried by the time value itself.
// No external dependencies - uses only standard library.
package timeutil

import (
	"time"
)

// Common date/time formats.
const (
	// FormatDate is the standard date format (YYYY-MM-DD).
	FormatDate = "2006-01-02"
	// FormatDateTime is the standard datetime format.
	FormatDateTime = "2006-01-02 15:04"
)

// Week is the length of a rolling seven-day window.
const Week = 7 * 24 * time.Hour

// StartOfDay returns the start of the day (00:00:00) in t's location.
func StartOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// EndOfDay returns the end of the day (23:59:59.999999999) in t's location.
func EndOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 23, 59, 59, 999999999, t.Location())
}

// InLocation converts t to loc, falling back to t's own location when loc is nil.
func InLocation(t time.Time, loc *time.Location) time.Time {
	if loc == nil {
		return t
	}
	return t.In(loc)
}

// civil returns the calendar date of t as a UTC midnight, which makes day
// arithmetic immune to DST transitions in the original location.
func civil(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// CalendarDaysBetween returns the signed number of calendar days from `from`
// to `to`, both read in the location of `to`.
// Same day = 0, yesterday -> today = 1, today -> yesterday = -1.
func CalendarDaysBetween(from, to time.Time) int {
	loc := to.Location()
	a := civil(from.In(loc))
	b := civil(to)
	return int(b.Sub(a).Hours() / 24)
}

// DaysBetween calculates the absolute number of calendar days between two times.
func DaysBetween(t1, t2 time.Time) int {
	days := CalendarDaysBetween(t1, t2)
	if days < 0 {
		days = -days
	}
	return days
}

// Streak-related utilities.

// IsSameDay checks if two times fall on the same calendar day in t2's location.
func IsSameDay(t1, t2 time.Time) bool {
	return CalendarDaysBetween(t1, t2) == 0
}

// IsConsecutiveDay checks if t2 is the calendar day after t1.
func IsConsecutiveDay(t1, t2 time.Time) bool {
	return CalendarDaysBetween(t1, t2) == 1
}

// WithinRollingWeek reports whether `now` is less than seven days after `since`.
// A zero `since` is never within the window.
func WithinRollingWeek(since, now time.Time) bool {
	if since.IsZero() {
		return false
	}
	return now.Sub(since) < Week
}

// Earlier returns the earlier of two times, ignoring zero values.
func Earlier(a, b time.Time) time.Time {
	switch {
	case a.IsZero():
		return b
	case b.IsZero():
		return a
	case b.Before(a):
		return b
	default:
		return a
	}
}

// Later returns the later of two times.
func Later(a, b time.Time) time.Time {
	if b.After(a) {
		return b
	}
	return a
}

// FormatDateStr formats a time as a date string (YYYY-MM-DD) in its own location.
func FormatDateStr(t time.Time) string {
	return t.Format(FormatDate)
}
