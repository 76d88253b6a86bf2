package routine

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// SecondOptional allows both 5-field and 6-field (with seconds) cron specs.
var cronParser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// noNextRunSeconds is used when a cron expression has no future activation
// (robfig/cron gives up after five years).
const noNextRunSeconds = 366 * 24 * 60 * 60

// CronRule schedules with a crontab expression, evaluated in the location of
// the time passed to SecondsUntilNextRun unless the expression carries TZ=.
type CronRule struct {
	expr  string
	sched cron.Schedule
}

func NewCronRule(expr string) (CronRule, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return CronRule{}, fmt.Errorf("cron schedule required")
	}
	sched, err := cronParser.Parse(expr)
	if err != nil {
		return CronRule{}, fmt.Errorf("invalid cron schedule %q: %w", expr, err)
	}
	if sched.Next(time.Now()).IsZero() {
		return CronRule{}, fmt.Errorf("cron schedule %q never fires", expr)
	}
	return CronRule{expr: expr, sched: sched}, nil
}

func (c CronRule) SecondsUntilNextRun(now time.Time) int64 {
	if c.sched == nil {
		return noNextRunSeconds
	}
	next := c.sched.Next(now)
	if next.IsZero() {
		return noNextRunSeconds
	}
	return ceilSeconds(next.Sub(now))
}

func (c CronRule) String() string { return "cron " + c.expr }
