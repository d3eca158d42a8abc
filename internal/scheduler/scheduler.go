package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"flood_etl/internal/domain"
)

// Syncer defines the interface for sync operations.
type Syncer interface {
	Sync(ctx context.Context) (*domain.RunStats, error)
}

type Scheduler struct {
	syncer     Syncer
	spec       string
	runTimeout time.Duration
	logger     *slog.Logger
}

// NewScheduler builds a scheduler for a robfig/cron spec such as
// "0 * * * *" or "@every 1h".
func NewScheduler(syncer Syncer, spec string, runTimeout time.Duration, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		syncer:     syncer,
		spec:       spec,
		runTimeout: runTimeout,
		logger:     logger,
	}
}

// Start runs the syncer once, then on every tick of the schedule until ctx
// is cancelled. A tick that fires while a run is still going is skipped.
func (s *Scheduler) Start(ctx context.Context) error {
	schedule, err := cron.ParseStandard(s.spec)
	if err != nil {
		return fmt.Errorf("parse schedule %q: %w", s.spec, err)
	}

	s.logger.Info("scheduler started", "schedule", s.spec, "run_timeout", s.runTimeout)

	s.runSync(ctx)

	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	c.Schedule(schedule, cron.FuncJob(func() { s.runSync(ctx) }))
	c.Start()

	<-ctx.Done()
	<-c.Stop().Done()

	s.logger.Info("scheduler stopped")
	return ctx.Err()
}

func (s *Scheduler) runSync(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}

	syncCtx, cancel := context.WithTimeout(ctx, s.runTimeout)
	defer cancel()

	if _, err := s.syncer.Sync(syncCtx); err != nil {
		s.logger.Error("sync failed", "error", err)
	}
}
