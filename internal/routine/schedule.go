package routine

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// Rule computes how long a routine waits before its next run.
type Rule interface {
	// SecondsUntilNextRun returns the whole seconds from now until the next
	// due time. The result is never negative.
	SecondsUntilNextRun(now time.Time) int64
	String() string
}

// NextRun returns the absolute time of the next run according to r.
func NextRun(r Rule, now time.Time) time.Time {
	return now.Add(time.Duration(r.SecondsUntilNextRun(now)) * time.Second)
}

// ceilSeconds converts d to whole seconds, rounding up so a routine never
// fires before its due time.
func ceilSeconds(d time.Duration) int64 {
	if d <= 0 {
		return 0
	}
	s := int64(d / time.Second)
	if d%time.Second != 0 {
		s++
	}
	return s
}

// scaleSeconds returns secs*unit, saturating at the largest Duration instead
// of wrapping negative.
func scaleSeconds(secs int64, unit time.Duration) time.Duration {
	if secs <= 0 {
		return 0
	}
	if unit > 0 && secs > math.MaxInt64/int64(unit) {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(secs) * unit
}

// ---- FixedInterval ----

// FixedInterval waits the same number of seconds after every cycle.
type FixedInterval struct {
	Seconds int64
}

// MaxIntervalSeconds is the longest interval representable as a
// time.Duration.
const MaxIntervalSeconds = math.MaxInt64 / int64(time.Second)

func NewFixedInterval(seconds int64) (FixedInterval, error) {
	if seconds <= 0 {
		return FixedInterval{}, fmt.Errorf("interval must be > 0 seconds, got %d", seconds)
	}
	if seconds > MaxIntervalSeconds {
		return FixedInterval{}, fmt.Errorf("interval %ds exceeds maximum of %ds", seconds, MaxIntervalSeconds)
	}
	return FixedInterval{Seconds: seconds}, nil
}

func (f FixedInterval) SecondsUntilNextRun(time.Time) int64 {
	if f.Seconds < 0 {
		return 0
	}
	return f.Seconds
}

func (f FixedInterval) String() string {
	return "every " + scaleSeconds(f.Seconds, time.Second).String()
}

// ---- WeeklyAt ----

// Weekday uses the canonical Monday=0 .. Sunday=6 ordering.
type Weekday int

const (
	Monday Weekday = iota
	Tuesday
	Wednesday
	Thursday
	Friday
	Saturday
	Sunday
)

var weekdayNames = [...]string{"monday", "tuesday", "wednesday", "thursday", "friday", "saturday", "sunday"}

func (w Weekday) String() string {
	if w < Monday || w > Sunday {
		return fmt.Sprintf("weekday(%d)", int(w))
	}
	return weekdayNames[w]
}

func (w Weekday) Valid() bool { return w >= Monday && w <= Sunday }

// WeekdayOf maps t's weekday (time.Sunday=0) onto the canonical ordering.
func WeekdayOf(t time.Time) Weekday {
	return Weekday((int(t.Weekday()) + 6) % 7)
}

// ParseWeekday accepts full English names and three-letter abbreviations,
// case-insensitively.
func ParseWeekday(s string) (Weekday, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for i, name := range weekdayNames {
		if s == name || (len(s) == 3 && s == name[:3]) {
			return Weekday(i), nil
		}
	}
	return 0, fmt.Errorf("invalid weekday %q", s)
}

// WeeklyAt runs once a week on Weekday at Hour:00 local time.
//
// When now already falls on Weekday the next run is a week out, even if Hour
// has not passed yet today.
type WeeklyAt struct {
	Weekday Weekday
	Hour    int
}

func NewWeeklyAt(day Weekday, hour int) (WeeklyAt, error) {
	if !day.Valid() {
		return WeeklyAt{}, fmt.Errorf("invalid weekday %d (want 0=monday..6=sunday)", int(day))
	}
	if hour < 0 || hour > 23 {
		return WeeklyAt{}, fmt.Errorf("invalid hour %d (want 0..23)", hour)
	}
	return WeeklyAt{Weekday: day, Hour: hour}, nil
}

// daysAhead returns how many calendar days after now's date the next run falls.
func (w WeeklyAt) daysAhead(now time.Time) int {
	cur := WeekdayOf(now)
	switch {
	case cur == w.Weekday:
		return 7
	case cur < w.Weekday:
		return int(w.Weekday - cur)
	default:
		return 7 - int(cur-w.Weekday)
	}
}

// Next returns the next due time after now.
func (w WeeklyAt) Next(now time.Time) time.Time {
	y, m, d := now.Date()
	return time.Date(y, m, d+w.daysAhead(now), w.Hour, 0, 0, 0, now.Location())
}

func (w WeeklyAt) SecondsUntilNextRun(now time.Time) int64 {
	return ceilSeconds(w.Next(now).Sub(now))
}

func (w WeeklyAt) String() string {
	return fmt.Sprintf("weekly %s at %02d:00", w.Weekday, w.Hour)
}
