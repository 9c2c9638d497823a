package scheduler

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// CronExpression is a parsed 5-field cron expression:
// minute hour day-of-month month day-of-week.
//
// Examples:
//   - "*/5 * * * *"  every 5 minutes
//   - "0 21 * * *"   every day at 21:00
//   - "5 0 * * 1"    every Monday at 00:05
//   - "0 9 1,15 * *" on the 1st and 15th at 09:00
//
// As in Vixie cron, when both day fields are restricted a time matches if
// either one does. Day-of-week accepts 7 as Sunday.
type CronExpression struct {
	raw      string
	loc      *time.Location
	minutes  uint64
	hours    uint64
	days     uint64
	months   uint64
	weekdays uint64
	anyDay   bool
	anyWeek  bool
}

type fieldBounds struct {
	name     string
	min, max int
}

var (
	minuteBounds  = fieldBounds{"minute", 0, 59}
	hourBounds    = fieldBounds{"hour", 0, 23}
	dayBounds     = fieldBounds{"day-of-month", 1, 31}
	monthBounds   = fieldBounds{"month", 1, 12}
	weekdayBounds = fieldBounds{"day-of-week", 0, 7}
)

// ParseCronExpression parses a cron expression evaluated in UTC.
func ParseCronExpression(expr string) (*CronExpression, error) {
	return ParseCronExpressionIn(expr, time.UTC)
}

// ParseCronExpressionIn parses a cron expression evaluated in loc.
func ParseCronExpressionIn(expr string, loc *time.Location) (*CronExpression, error) {
	fields := strings.Fields(expr)
	if len(fields) != 5 {
		return nil, fmt.Errorf("cron: expected 5 fields, got %d in %q", len(fields), expr)
	}
	if loc == nil {
		loc = time.UTC
	}

	ce := &CronExpression{raw: strings.Join(fields, " "), loc: loc}
	var err error
	if ce.minutes, err = parseField(fields[0], minuteBounds); err != nil {
		return nil, err
	}
	if ce.hours, err = parseField(fields[1], hourBounds); err != nil {
		return nil, err
	}
	if ce.days, err = parseField(fields[2], dayBounds); err != nil {
		return nil, err
	}
	if ce.months, err = parseField(fields[3], monthBounds); err != nil {
		return nil, err
	}
	if ce.weekdays, err = parseField(fields[4], weekdayBounds); err != nil {
		return nil, err
	}
	if ce.weekdays&(1<<7) != 0 {
		ce.weekdays = ce.weekdays&^(1<<7) | 1
	}
	ce.anyDay = fields[2] == "*"
	ce.anyWeek = fields[4] == "*"
	return ce, nil
}

// MustParseCronExpression parses a cron expression or panics.
// Use only for constants.
func MustParseCronExpression(expr string) *CronExpression {
	ce, err := ParseCronExpression(expr)
	if err != nil {
		panic(fmt.Sprintf("invalid cron expression %q: %v", expr, err))
	}
	return ce
}

// parseField parses a comma-separated list of values, ranges and steps into
// a bit set.
func parseField(field string, b fieldBounds) (uint64, error) {
	var set uint64
	for _, part := range strings.Split(field, ",") {
		bitsOf, err := parseTerm(part, b)
		if err != nil {
			return 0, fmt.Errorf("cron: %s field %q: %w", b.name, field, err)
		}
		set |= bitsOf
	}
	return set, nil
}

func parseTerm(term string, b fieldBounds) (uint64, error) {
	rangePart, stepPart, hasStep := strings.Cut(term, "/")

	step := 1
	if hasStep {
		s, err := strconv.Atoi(stepPart)
		if err != nil || s <= 0 {
			return 0, fmt.Errorf("invalid step %q", stepPart)
		}
		step = s
	}

	var lo, hi int
	switch {
	case rangePart == "*":
		lo, hi = b.min, b.max
	case strings.Contains(rangePart, "-"):
		l, h, _ := strings.Cut(rangePart, "-")
		var err error
		if lo, err = atoiIn(l, b); err != nil {
			return 0, err
		}
		if hi, err = atoiIn(h, b); err != nil {
			return 0, err
		}
		if lo > hi {
			return 0, fmt.Errorf("empty range %q", rangePart)
		}
	default:
		v, err := atoiIn(rangePart, b)
		if err != nil {
			return 0, err
		}
		lo, hi = v, v
		if hasStep {
			hi = b.max
		}
	}

	var set uint64
	for v := lo; v <= hi; v += step {
		set |= 1 << uint(v)
	}
	return set, nil
}

func atoiIn(s string, b fieldBounds) (int, error) {
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid value %q", s)
	}
	if v < b.min || v > b.max {
		return 0, fmt.Errorf("value %d out of range [%d-%d]", v, b.min, b.max)
	}
	return v, nil
}

// String returns the normalized expression.
func (ce *CronExpression) String() string {
	if ce.loc != time.UTC {
		return ce.raw + " (" + ce.loc.String() + ")"
	}
	return ce.raw
}

// Next returns the first matching minute strictly after t, expressed in t's
// location. It returns the zero time when nothing matches within five years,
// which only happens for impossible dates such as "0 0 31 2 *".
func (ce *CronExpression) Next(t time.Time) time.Time {
	origLoc := t.Location()
	t = t.In(ce.loc).Truncate(time.Minute).Add(time.Minute)
	limit := t.AddDate(5, 0, 0)

	for t.Before(limit) {
		if !has(ce.months, int(t.Month())) {
			t = time.Date(t.Year(), t.Month()+1, 1, 0, 0, 0, 0, ce.loc)
			continue
		}
		if !ce.dayMatches(t) {
			t = time.Date(t.Year(), t.Month(), t.Day()+1, 0, 0, 0, 0, ce.loc)
			continue
		}
		if !has(ce.hours, t.Hour()) {
			t = time.Date(t.Year(), t.Month(), t.Day(), t.Hour()+1, 0, 0, 0, ce.loc)
			continue
		}
		if !has(ce.minutes, t.Minute()) {
			t = t.Truncate(time.Minute).Add(time.Minute)
			continue
		}
		return t.In(origLoc)
	}
	return time.Time{}
}

func (ce *CronExpression) dayMatches(t time.Time) bool {
	dom := has(ce.days, t.Day())
	dow := has(ce.weekdays, int(t.Weekday()))
	switch {
	case ce.anyDay && ce.anyWeek:
		return true
	case ce.anyDay:
		return dow
	case ce.anyWeek:
		return dom
	default:
		return dom || dow
	}
}

func has(set uint64, v int) bool {
	return set&(1<<uint(v)) != 0
}

// Common cron expression presets.
const (
	EveryMinute      = "* * * * *"
	Every5Minutes    = "*/5 * * * *"
	Every15Minutes   = "*/15 * * * *"
	EveryHour        = "0 * * * *"
	EveryDayMidnight = "0 0 * * *"
	EveryMonday      = "5 0 * * 1"
	EverySunday      = "0 0 * * 0"
	FirstOfMonth     = "0 0 1 * *"
)
