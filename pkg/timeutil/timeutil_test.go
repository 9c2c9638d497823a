package timeutil

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCalendarDaysBetween(t *testing.T) {
	almaty := time.FixedZone("Asia/Almaty", 5*60*60)

	tests := []struct {
		name     string
		from, to time.Time
		expected int
	}{
		{
			name:     "same day morning and night",
			from:     time.Date(2024, 3, 1, 0, 5, 0, 0, almaty),
			to:       time.Date(2024, 3, 1, 23, 55, 0, 0, almaty),
			expected: 0,
		},
		{
			name:     "late evening to early morning is next day",
			from:     time.Date(2024, 3, 1, 23, 59, 0, 0, almaty),
			to:       time.Date(2024, 3, 2, 0, 1, 0, 0, almaty),
			expected: 1,
		},
		{
			name:     "one missed day",
			from:     time.Date(2024, 3, 1, 12, 0, 0, 0, almaty),
			to:       time.Date(2024, 3, 3, 8, 0, 0, 0, almaty),
			expected: 2,
		},
		{
			name:     "backwards",
			from:     time.Date(2024, 3, 3, 12, 0, 0, 0, almaty),
			to:       time.Date(2024, 3, 1, 12, 0, 0, 0, almaty),
			expected: -2,
		},
		{
			name:     "read in destination location",
			from:     time.Date(2024, 3, 1, 20, 0, 0, 0, time.UTC), // 01:00 on Mar 2 in Almaty
			to:       time.Date(2024, 3, 2, 9, 0, 0, 0, almaty),
			expected: 0,
		},
		{
			name:     "across leap day",
			from:     time.Date(2024, 2, 28, 10, 0, 0, 0, time.UTC),
			to:       time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC),
			expected: 2,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, CalendarDaysBetween(tt.from, tt.to))
		})
	}
}

func TestCalendarDaysBetween_DSTTransition(t *testing.T) {
	berlin, err := time.LoadLocation("Europe/Berlin")
	if err != nil {
		t.Skip("tzdata not available")
	}

	// 31 March 2024 is only 23 hours long in Berlin.
	from := time.Date(2024, 3, 30, 23, 30, 0, 0, berlin)
	to := time.Date(2024, 3, 31, 23, 30, 0, 0, berlin)

	assert.Equal(t, 1, CalendarDaysBetween(from, to))
	assert.True(t, IsConsecutiveDay(from, to))
}

func TestWithinRollingWeek(t *testing.T) {
	granted := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	assert.False(t, WithinRollingWeek(time.Time{}, granted))
	assert.True(t, WithinRollingWeek(granted, granted.Add(6*24*time.Hour)))
	assert.False(t, WithinRollingWeek(granted, granted.Add(7*24*time.Hour)))
}

func TestEarlierLater(t *testing.T) {
	a := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	b := a.Add(time.Hour)

	assert.Equal(t, a, Earlier(a, b))
	assert.Equal(t, a, Earlier(b, a))
	assert.Equal(t, a, Earlier(time.Time{}, a))
	assert.Equal(t, a, Earlier(a, time.Time{}))
	assert.Equal(t, b, Later(a, b))
	assert.Equal(t, b, Later(b, a))
}

func TestStartOfDay(t *testing.T) {
	loc := time.FixedZone("UTC+3", 3*60*60)
	ts := time.Date(2024, 7, 15, 18, 42, 11, 5, loc)

	start := StartOfDay(ts)
	assert.Equal(t, time.Date(2024, 7, 15, 0, 0, 0, 0, loc), start)
	assert.Equal(t, "2024-07-15", FormatDateStr(start))
	assert.True(t, EndOfDay(ts).After(ts))
}
