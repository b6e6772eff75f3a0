package timer

import (
	"fmt"
	"time"

	cronlib "github.com/robfig/cron/v3"

	"github.com/basket/goclaw-runloop/internal/rlmode"
)

var cronParser = cronlib.NewParser(
	cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow,
)

// CronTimer re-arms against a 5-field cron expression instead of a fixed
// interval, computing each next fire time from the schedule rather than by
// addition.
type CronTimer struct {
	*Timer
	schedule cronlib.Schedule
}

// NewCronTimer parses expr and returns a CronTimer whose first fire is the
// next occurrence strictly after from.
func NewCronTimer(id, expr string, from time.Time, taskType string, modes []rlmode.Mode) (*CronTimer, error) {
	sched, err := cronParser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("parse cron expression %q: %w", expr, err)
	}
	first := sched.Next(from)
	return &CronTimer{
		Timer:    New(id, first, taskType, modes),
		schedule: sched,
	}, nil
}

// DueAt overrides Timer.DueAt to compute the next fire time from the cron
// schedule rather than by fixed-interval addition.
func (c *CronTimer) DueAt(now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cancelled || now.Before(c.nextFire) {
		return false
	}
	c.nextFire = c.schedule.Next(now)
	return true
}
