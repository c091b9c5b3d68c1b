// Package sweeper runs the periodic retention pass that reclaims terminal
// jobs and their artifacts.
package sweeper

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// Target is the sweepable surface of the job manager.
type Target interface {
	SweepOnce() int
}

// Sweeper schedules retention sweeps on a fixed interval. Tests and the ops
// endpoint call RunOnce directly instead of waiting on the timer.
type Sweeper struct {
	target   Target
	interval time.Duration
	cron     *cron.Cron
}

// New creates a Sweeper for target with the given interval.
func New(target Target, interval time.Duration) *Sweeper {
	return &Sweeper{
		target:   target,
		interval: interval,
		cron:     cron.New(),
	}
}

// Start registers the periodic sweep and starts the schedule.
func (s *Sweeper) Start() error {
	schedule := fmt.Sprintf("@every %s", s.interval)
	if _, err := s.cron.AddFunc(schedule, func() { s.RunOnce() }); err != nil {
		return fmt.Errorf("register sweep schedule: %w", err)
	}
	s.cron.Start()
	slog.Info("retention sweeper started", "interval", s.interval)
	return nil
}

// Stop halts the schedule. A sweep already in flight runs to completion.
func (s *Sweeper) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	slog.Info("retention sweeper stopped")
}

// RunOnce performs a single synchronous sweep and returns the number of jobs
// reclaimed.
func (s *Sweeper) RunOnce() int {
	removed := s.target.SweepOnce()
	if removed > 0 {
		slog.Info("retention sweep reclaimed jobs", "count", removed)
	}
	return removed
}
