package routine

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var (
	reHHMM   = regexp.MustCompile(`^\s*(\d{1,3}):(\d{2})\s*$`)
	reDigits = regexp.MustCompile(`^\d+$`)
)

// ParseRule parses a schedule string into a Rule.
//
// Supported forms:
//   - Interval: "30m", "2h30m", "00:50" (HH:MM, 50 minutes), "90" (seconds)
//   - Weekly: "weekly:sun@00", "weekly:monday@7", "weekly:fri 18:00"
//   - Cron: "*/5 * * * *", "0 30 2 * * *", "@hourly", "@every 55m"
//
// Optional prefixes:
//   - "cron:" forces cron parsing
//   - "interval:" or "every:" forces interval parsing
//   - "weekly:" selects a weekday/hour rule
func ParseRule(raw string) (Rule, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return nil, fmt.Errorf("schedule required")
	}

	low := strings.ToLower(s)
	switch {
	case strings.HasPrefix(low, "cron:"):
		return NewCronRule(s[len("cron:"):])
	case strings.HasPrefix(low, "interval:"):
		return parseInterval(s[len("interval:"):])
	case strings.HasPrefix(low, "every:"):
		return parseInterval(s[len("every:"):])
	case strings.HasPrefix(low, "weekly:"):
		return parseWeekly(s[len("weekly:"):])
	}

	// any whitespace or leading '@' => cron
	if strings.ContainsAny(s, " \t\n\r") || strings.HasPrefix(s, "@") {
		return NewCronRule(s)
	}

	r, err := parseInterval(s)
	if err != nil {
		return nil, fmt.Errorf(
			"invalid schedule %q (use cron like '*/5 * * * *', weekly like 'weekly:sun@00', HH:MM like '02:30', or duration like '55m')",
			raw,
		)
	}
	return r, nil
}

func parseInterval(v string) (FixedInterval, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return FixedInterval{}, fmt.Errorf("interval required")
	}
	var d time.Duration
	switch {
	case reHHMM.MatchString(v):
		hd, err := parseHHMMDuration(v)
		if err != nil {
			return FixedInterval{}, err
		}
		d = hd
	case reDigits.MatchString(v):
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return FixedInterval{}, fmt.Errorf("invalid interval %q: %w", v, err)
		}
		return NewFixedInterval(n)
	default:
		pd, err := time.ParseDuration(v)
		if err != nil {
			return FixedInterval{}, fmt.Errorf("invalid interval %q (use HH:MM, seconds, or Go duration like '55m')", v)
		}
		d = pd
	}
	if d <= 0 {
		return FixedInterval{}, fmt.Errorf("interval must be > 0")
	}
	if d%time.Second != 0 {
		return FixedInterval{}, fmt.Errorf("interval %s is not a whole number of seconds", d)
	}
	return NewFixedInterval(int64(d / time.Second))
}

func parseHHMMDuration(v string) (time.Duration, error) {
	m := reHHMM.FindStringSubmatch(v)
	if len(m) != 3 {
		return 0, fmt.Errorf("invalid HH:MM %q", v)
	}
	hh, _ := strconv.Atoi(m[1])
	mm, _ := strconv.Atoi(m[2])
	if mm > 59 {
		return 0, fmt.Errorf("invalid minutes in %q", v)
	}
	return time.Duration(hh)*time.Hour + time.Duration(mm)*time.Minute, nil
}

// parseWeekly accepts "<day>@<hour>" or "<day> <hour>", where hour is "H",
// "HH" or "HH:00".
func parseWeekly(v string) (WeeklyAt, error) {
	v = strings.TrimSpace(v)
	day, hour, ok := strings.Cut(v, "@")
	if !ok {
		f := strings.Fields(v)
		if len(f) != 2 {
			return WeeklyAt{}, fmt.Errorf("invalid weekly schedule %q (use 'sun@00' or 'sunday 00:00')", v)
		}
		day, hour = f[0], f[1]
	}
	wd, err := ParseWeekday(day)
	if err != nil {
		return WeeklyAt{}, err
	}
	hour = strings.TrimSpace(hour)
	if h, m, found := strings.Cut(hour, ":"); found {
		if m != "00" {
			return WeeklyAt{}, fmt.Errorf("weekly schedules run on the hour, got %q", hour)
		}
		hour = h
	}
	h, err := strconv.Atoi(hour)
	if err != nil {
		return WeeklyAt{}, fmt.Errorf("invalid hour %q", hour)
	}
	return NewWeeklyAt(wd, h)
}
