// Package scheduler triggers the daily run from an in-process cron, for
// deployments without an external scheduler.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/johnayoung/go-ohlcv-forecaster/internal/models"
	"github.com/johnayoung/go-ohlcv-forecaster/internal/pipeline"
	"github.com/robfig/cron/v3"
)

// DailyRunner is the job the scheduler fires.
type DailyRunner interface {
	RunDaily(ctx context.Context, horizonHours int) (*models.CollectionReport, []pipeline.Outcome, error)
}

// Scheduler owns the cron and the daily job.
type Scheduler struct {
	cron         *cron.Cron
	runner       DailyRunner
	horizonHours int
	logger       *slog.Logger

	ctx     context.Context
	running sync.Mutex
	entry   cron.EntryID
}

// New creates a scheduler. Specs use six fields, seconds first. Runs that
// would overlap a still running job are skipped.
func New(ctx context.Context, runner DailyRunner, horizonHours int, logger *slog.Logger, opts ...cron.Option) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "scheduler")

	options := append([]cron.Option{
		cron.WithSeconds(),
		cron.WithLogger(cron.DiscardLogger),
	}, opts...)

	return &Scheduler{
		cron:         cron.New(options...),
		runner:       runner,
		horizonHours: horizonHours,
		logger:       logger,
		ctx:          ctx,
	}
}

// Register adds the daily job under spec.
func (s *Scheduler) Register(spec string) error {
	id, err := s.cron.AddFunc(spec, s.runOnce)
	if err != nil {
		return fmt.Errorf("register daily job %q: %w", spec, err)
	}
	s.entry = id
	return nil
}

// Start starts the cron in its own goroutine.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info("scheduler started", "next_run", s.cron.Entry(s.entry).Next)
}

// Stop stops the cron and waits for a running job to finish or for ctx.
func (s *Scheduler) Stop(ctx context.Context) {
	done := s.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
		s.logger.Warn("scheduler stopped before the running job finished")
	}
	s.logger.Info("scheduler stopped")
}

// RunNow executes the daily job immediately (manual trigger / run on start).
func (s *Scheduler) RunNow() {
	s.runOnce()
}

func (s *Scheduler) runOnce() {
	if !s.running.TryLock() {
		s.logger.Warn("previous daily run still in progress, skipping")
		return
	}
	defer s.running.Unlock()

	if err := s.ctx.Err(); err != nil {
		return
	}

	s.logger.Info("running daily job")
	report, outcomes, err := s.runner.RunDaily(s.ctx, s.horizonHours)
	if err != nil {
		s.logger.Error("daily job failed", "error", err)
		return
	}

	failed := 0
	for _, o := range outcomes {
		if o.Err != nil {
			failed++
		}
	}
	s.logger.Info("daily job finished",
		"run_id", report.RunID,
		"collected", report.Succeeded(),
		"collect_failed", report.Failed(),
		"forecasts", len(outcomes)-failed,
		"forecast_failed", failed,
		"next_run", s.cron.Entry(s.entry).Next)
}
