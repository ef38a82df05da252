package scheduler

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// cronParser accepts standard 5-field expressions and descriptors such as
// "@hourly" or "@every 30m".
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// CronSchedule runs a job on a cron expression evaluated in a fixed location.
type CronSchedule struct {
	expr  string
	sched cron.Schedule
	loc   *time.Location
}

// ParseCronSchedule parses expr. A nil loc means UTC.
func ParseCronSchedule(expr string, loc *time.Location) (*CronSchedule, error) {
	sched, err := cronParser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("parse cron %q: %w", expr, err)
	}
	if loc == nil {
		loc = time.UTC
	}
	return &CronSchedule{expr: expr, sched: sched, loc: loc}, nil
}

// Next returns the next activation strictly after t.
func (s *CronSchedule) Next(t time.Time) time.Time {
	return s.sched.Next(t.In(s.loc))
}

func (s *CronSchedule) String() string {
	return s.expr + " (" + s.loc.String() + ")"
}
