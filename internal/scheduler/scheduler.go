// Package scheduler runs reconciliation on a cron schedule.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/azizikri/coupon-issuer/internal/domain"
	"github.com/robfig/cron/v3"
)

// Reconciler is one full reconciliation pass.
type Reconciler interface {
	Run(ctx context.Context) ([]domain.CampaignDrift, error)
}

type Scheduler struct {
	cron     *cron.Cron
	job      Reconciler
	schedule string
	timeout  time.Duration
	logger   *slog.Logger
	ctx      context.Context
	cancel   context.CancelFunc
}

// New builds a scheduler whose runs never overlap: a tick that fires while
// the previous pass is still going is skipped.
func New(job Reconciler, schedule string, timeout time.Duration, logger *slog.Logger) *Scheduler {
	cronLogger := cron.PrintfLogger(slog.NewLogLogger(logger.Handler(), slog.LevelInfo))
	c := cron.New(cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)))

	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron:     c,
		job:      job,
		schedule: schedule,
		timeout:  timeout,
		logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
	}
}

func (s *Scheduler) Start() error {
	if _, err := s.cron.AddFunc(s.schedule, s.RunOnce); err != nil {
		return fmt.Errorf("schedule reconciliation %q: %w", s.schedule, err)
	}
	s.logger.Info("scheduled reconciliation", "schedule", s.schedule)
	s.cron.Start()
	return nil
}

// RunOnce performs one pass and logs its outcome.
func (s *Scheduler) RunOnce() {
	ctx := s.ctx
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	start := time.Now()
	drifts, err := s.job.Run(ctx)
	changed := 0
	for _, d := range drifts {
		if d.Changed() {
			changed++
		}
	}
	if err != nil {
		s.logger.Error("reconciliation finished with errors", "campaigns", len(drifts), "changed", changed, "error", err)
		return
	}
	s.logger.Debug("reconciliation finished", "campaigns", len(drifts), "changed", changed, "took", time.Since(start))
}

// Stop cancels a running pass and waits for it to return.
func (s *Scheduler) Stop() {
	s.cancel()
	<-s.cron.Stop().Done()
}
