// Package trigger starts pipeline runs from a cron schedule or from file
// activity in the raw directory, and keeps runs from overlapping.
package trigger

import (
	"context"
	"errors"
	"fmt"

	"github.com/robfig/cron/v3"

	"github.com/JonMunkholm/flatetl/internal/logging"
)

// RunFunc performs one pipeline run.
type RunFunc func(ctx context.Context)

// Scheduler runs the pipeline on a cron expression. A tick that finds a
// run in progress is skipped.
type Scheduler struct {
	expr  string
	guard *Guard
	run   RunFunc
	cron  *cron.Cron
}

// NewScheduler validates expr (standard five-field syntax or descriptors
// such as "@hourly" and "@every 10m").
func NewScheduler(expr string, guard *Guard, run RunFunc) (*Scheduler, error) {
	if _, err := cron.ParseStandard(expr); err != nil {
		return nil, fmt.Errorf("invalid cron expression %q: %w", expr, err)
	}
	return &Scheduler{
		expr:  expr,
		guard: guard,
		run:   run,
		cron:  cron.New(),
	}, nil
}

// Start schedules the pipeline. Runs receive ctx.
func (s *Scheduler) Start(ctx context.Context) error {
	if _, err := s.cron.AddFunc(s.expr, func() { s.tick(ctx) }); err != nil {
		return fmt.Errorf("schedule %q: %w", s.expr, err)
	}
	s.cron.Start()
	logging.FromContext(ctx).Info("pipeline scheduled", "cron", s.expr)
	return nil
}

// Stop stops the schedule. The returned context is done once a run started
// by the schedule has finished.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}

func (s *Scheduler) tick(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	err := s.guard.Do(ctx, "schedule", s.run)
	if errors.Is(err, ErrRunInProgress) {
		logging.FromContext(ctx).Warn("skipping scheduled run, previous run still active", "cron", s.expr)
	}
}
