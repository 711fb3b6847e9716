// Package scheduler triggers acceptance runs on a cron schedule. Only the
// acceptance stage is scheduled; QA, sign-off and production are always
// operator-initiated.
package scheduler

import (
	"context"
	"errors"
	"log/slog"

	"github.com/robfig/cron/v3"

	"github.com/shipway/shipway/internal/core/promotion"
	"github.com/shipway/shipway/internal/shell/promoter"
)

// =============================================================================
// Acceptance Trigger
// =============================================================================

// AcceptanceRunner is the slice of the coordinator the scheduler drives.
type AcceptanceRunner interface {
	RunAcceptance(ctx context.Context, force bool) (promotion.StageResult, error)
}

// =============================================================================
// Service
// =============================================================================

// Service runs the acceptance stage on a cron schedule.
type Service struct {
	runner   AcceptanceRunner
	schedule string
	cron     *cron.Cron
	logger   *slog.Logger
}

// NewService creates a scheduler for the given cron expression. An empty
// schedule disables scheduling entirely.
func NewService(runner AcceptanceRunner, schedule string, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		runner:   runner,
		schedule: schedule,
		cron:     cron.New(),
		logger:   logger.With("component", "scheduler"),
	}
}

// Enabled reports whether a schedule is configured.
func (s *Service) Enabled() bool {
	return s.schedule != ""
}

// Start registers the acceptance job and starts the cron loop.
func (s *Service) Start(ctx context.Context) error {
	if !s.Enabled() {
		s.logger.Info("scheduler disabled: no schedule configured")
		return nil
	}

	if _, err := s.cron.AddFunc(s.schedule, func() { s.run(ctx) }); err != nil {
		return err
	}

	s.cron.Start()
	s.logger.Info("scheduler started", "schedule", s.schedule)
	return nil
}

// Stop halts the cron loop and waits for an in-flight run to finish.
func (s *Service) Stop() {
	if !s.Enabled() {
		return
	}
	<-s.cron.Stop().Done()
	s.logger.Info("scheduler stopped")
}

// run executes one scheduled acceptance pass. A busy acceptance
// environment means a previous run is still going; that is a skip, not
// an error.
func (s *Service) run(ctx context.Context) {
	result, err := s.runner.RunAcceptance(ctx, false)
	if err != nil {
		if errors.Is(err, promoter.ErrEnvironmentBusy) {
			s.logger.Info("skipped scheduled acceptance: previous run still in flight")
			return
		}
		if errors.Is(err, promoter.ErrNothingToPromote) {
			s.logger.Info("skipped scheduled acceptance: no artifact published yet")
			return
		}
		s.logger.Error("scheduled acceptance failed", "error", err)
		return
	}
	if result.Failed() {
		s.logger.Warn("scheduled acceptance run failed; see journal for diagnostics")
	}
}
