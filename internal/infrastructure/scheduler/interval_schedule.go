package scheduler

import (
	"fmt"
	"time"
)

// IntervalSchedule runs a job at a fixed interval after the previous check.
type IntervalSchedule struct {
	Interval time.Duration
}

// NewIntervalSchedule creates a new IntervalSchedule. Intervals under a
// minute are raised to one minute.
func NewIntervalSchedule(interval time.Duration) *IntervalSchedule {
	if interval < time.Minute {
		interval = time.Minute
	}
	return &IntervalSchedule{Interval: interval}
}

// Next returns t plus the interval.
func (s *IntervalSchedule) Next(t time.Time) time.Time {
	return t.Add(s.Interval)
}

// String returns the schedule in "@every" notation.
func (s *IntervalSchedule) String() string {
	return fmt.Sprintf("@every %s", s.Interval)
}
