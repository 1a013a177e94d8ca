// Package scheduler triggers aggregation cycles on a cron schedule.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/qcekey/iget/internal/model"
	"github.com/qcekey/iget/internal/pipeline"
)

// Runner runs one cycle. *pipeline.Pipeline implements it.
type Runner interface {
	RunCycle(ctx context.Context) (*pipeline.CycleReport, error)
}

// Scheduler owns the main loop: it fires the runner on a cron schedule.
type Scheduler struct {
	runner     Runner
	spec       string
	runOnStart bool
	logger     *slog.Logger
}

// Spec returns the cron spec for a configuration: the cron expression when
// set, otherwise a fixed interval.
func Spec(interval time.Duration, cronExpr string) string {
	if cronExpr != "" {
		return cronExpr
	}
	return "@every " + interval.String()
}

// NewScheduler creates a scheduler firing runner on spec. A trigger that
// lands while a cycle is still running is dropped.
func NewScheduler(runner Runner, spec string, runOnStart bool, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		runner:     runner,
		spec:       spec,
		runOnStart: runOnStart,
		logger:     logger,
	}
}

// Run optionally runs one immediate cycle, then fires on the schedule. It
// returns nil when ctx is cancelled (graceful shutdown), after the running
// cycle, if any, has returned.
func (s *Scheduler) Run(ctx context.Context) error {
	c := cron.New()
	if _, err := c.AddFunc(s.spec, func() { s.tick(ctx) }); err != nil {
		return fmt.Errorf("invalid schedule %q: %w", s.spec, err)
	}

	s.logger.Info("starting scheduler", "schedule", s.spec, "run_on_start", s.runOnStart)

	if s.runOnStart {
		s.tick(ctx)
	}

	c.Start()
	<-ctx.Done()
	s.logger.Info("shutting down scheduler")
	<-c.Stop().Done()
	return nil
}

func (s *Scheduler) tick(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	report, err := s.runner.RunCycle(ctx)
	switch {
	case errors.Is(err, model.ErrCycleInFlight):
		s.logger.Info("previous cycle still running, trigger skipped")
	case errors.Is(err, context.Canceled):
		s.logger.Info("cycle interrupted by shutdown")
	case err != nil:
		s.logger.Error("cycle failed", "error", err)
	case report.EmitError != nil:
		s.logger.Warn("cycle finished with emit error", "cycle_id", report.ID, "error", report.EmitError)
	}
}
