// Package schedule runs a job on a recurring daily wall-clock trigger.
// The crawl itself knows nothing about scheduling; this package owns the
// clock and calls the crawl like any other caller would.
package schedule

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// Scheduler fires a job once per day at a fixed wall-clock time.
type Scheduler struct {
	cron *cron.Cron
}

// CronSpec converts an "HH:MM" time of day into a five-field cron spec.
func CronSpec(at string) (string, error) {
	t, err := time.Parse("15:04", at)
	if err != nil {
		return "", fmt.Errorf("parse schedule time %q: %w", at, err)
	}
	return fmt.Sprintf("%d %d * * *", t.Minute(), t.Hour()), nil
}

// Daily schedules job at the given "HH:MM" local time every day. The
// scheduler does not dispatch until Start is called.
func Daily(at string, job func()) (*Scheduler, error) {
	spec, err := CronSpec(at)
	if err != nil {
		return nil, err
	}

	c := cron.New()
	if _, err := c.AddFunc(spec, job); err != nil {
		return nil, fmt.Errorf("schedule job: %w", err)
	}
	return &Scheduler{cron: c}, nil
}

// Start begins dispatching in its own goroutine.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop prevents further runs. The returned context completes once any
// in-flight run has finished.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}

// Next reports when the job will next fire. Zero before Start.
func (s *Scheduler) Next() time.Time {
	entries := s.cron.Entries()
	if len(entries) == 0 {
		return time.Time{}
	}
	return entries[0].Next
}
