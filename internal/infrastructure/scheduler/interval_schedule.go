package scheduler

import (
	"context"
	"fmt"
	"time"
)

// IntervalSchedule schedules a job to run at a fixed interval.
type IntervalSchedule struct {
	Interval time.Duration
}

// NewIntervalSchedule creates a new IntervalSchedule. Intervals under a
// second are raised to one second.
func NewIntervalSchedule(interval time.Duration) *IntervalSchedule {
	if interval < time.Second {
		interval = time.Second
	}
	return &IntervalSchedule{Interval: interval}
}

// Next returns the next scheduled time.
func (s *IntervalSchedule) Next(t time.Time) time.Time {
	return t.Add(s.Interval)
}

// String returns the string representation of the schedule.
func (s *IntervalSchedule) String() string {
	return fmt.Sprintf("@every %s", s.Interval)
}

// FuncJob adapts a function to the Job interface.
type FuncJob struct {
	JobName string
	Desc    string
	Fn      func(ctx context.Context) error
}

// Name implements Job.
func (j FuncJob) Name() string { return j.JobName }

// Description implements Job.
func (j FuncJob) Description() string { return j.Desc }

// Run implements Job.
func (j FuncJob) Run(ctx context.Context) error { return j.Fn(ctx) }
