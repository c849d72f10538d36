package usecase

import (
	"context"
	"time"

	"github.com/wekeepgrowing/entitlement-service/internal/domain/entity"
	"github.com/wekeepgrowing/entitlement-service/internal/domain/repository"
	"github.com/wekeepgrowing/entitlement-service/internal/infrastructure/metrics"
	"go.uber.org/zap"
)

// SweeperConfig holds the sweeper's tunables
type SweeperConfig struct {
	Interval        time.Duration
	Timeout         time.Duration
	BatchSize       int
	PeriodEndLeeway time.Duration
	DedupWindow     time.Duration
}

// SweepReport summarizes one sweeper pass.
type SweepReport struct {
	Expired    int   `json:"expired"`
	Reconciled int   `json:"reconciled"`
	Failed     int   `json:"failed"`
	Pruned     int64 `json:"pruned"`
}

// Sweeper periodically expires canceled rows, reconciles overdue scheduled
// cancellations and prunes the dedup ledger.
type Sweeper struct {
	service *EntitlementService
	repo    repository.EntitlementRepository
	ledger  repository.EventLedger
	logger  *zap.Logger
	cfg     SweeperConfig
	now     func() time.Time
}

// NewSweeper creates a new sweeper
func NewSweeper(
	service *EntitlementService,
	repo repository.EntitlementRepository,
	ledger repository.EventLedger,
	logger *zap.Logger,
	cfg SweeperConfig,
) *Sweeper {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = time.Minute
	}
	return &Sweeper{
		service: service,
		repo:    repo,
		ledger:  ledger,
		logger:  logger,
		cfg:     cfg,
		now:     time.Now,
	}
}

// WithClock replaces the sweeper clock. It is meant for tests.
func (s *Sweeper) WithClock(now func() time.Time) *Sweeper {
	s.now = now
	return s
}

// Run blocks until ctx is canceled. A zero interval disables the loop.
func (s *Sweeper) Run(ctx context.Context) error {
	if s.cfg.Interval <= 0 {
		s.logger.Info("Sweeper disabled")
		<-ctx.Done()
		return nil
	}

	s.logger.Info("Sweeper started", zap.Duration("interval", s.cfg.Interval))
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Sweeper stopped")
			return nil
		case <-ticker.C:
			if _, err := s.RunOnce(ctx); err != nil && ctx.Err() == nil {
				s.logger.Error("Sweeper pass failed", zap.Error(err))
			}
		}
	}
}

// RunOnce performs a single pass under the configured deadline.
func (s *Sweeper) RunOnce(ctx context.Context) (SweepReport, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	var report SweepReport
	now := s.now().UTC()

	if err := s.expireCanceled(ctx, now, &report); err != nil {
		metrics.SweeperRunsTotal.WithLabelValues("error").Inc()
		return report, err
	}
	if err := s.reconcileOverdue(ctx, now, &report); err != nil {
		metrics.SweeperRunsTotal.WithLabelValues("error").Inc()
		return report, err
	}

	if s.ledger != nil && s.cfg.DedupWindow > 0 {
		pruned, err := s.ledger.Prune(ctx, now.Add(-s.cfg.DedupWindow))
		if err != nil {
			metrics.SweeperRunsTotal.WithLabelValues("error").Inc()
			return report, err
		}
		report.Pruned = pruned
		metrics.SweeperRowsTotal.WithLabelValues("pruned").Add(float64(pruned))
	}

	metrics.SweeperRunsTotal.WithLabelValues("ok").Inc()
	if report.Expired > 0 || report.Reconciled > 0 || report.Failed > 0 || report.Pruned > 0 {
		s.logger.Info("Sweeper pass finished",
			zap.Int("expired", report.Expired),
			zap.Int("reconciled", report.Reconciled),
			zap.Int("failed", report.Failed),
			zap.Int64("pruned", report.Pruned))
	}
	return report, nil
}

// expireCanceled and reconcileOverdue only list rows that are already due, so
// a batch of rows with later deadlines can never crowd out overdue ones.
func (s *Sweeper) expireCanceled(ctx context.Context, now time.Time, report *SweepReport) error {
	rows, err := s.repo.ListDue(ctx, entity.StatusCanceled, now.Add(-s.service.cfg.Retention), s.cfg.BatchSize)
	if err != nil {
		return err
	}
	for _, row := range rows {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		_, changed, err := s.service.ExpireCanceled(ctx, row.UserID, now)
		if err != nil {
			report.Failed++
			s.logger.Error("Failed to expire entitlement",
				zap.String("user_id", row.UserID.String()),
				zap.Error(err))
			continue
		}
		if changed {
			report.Expired++
			metrics.SweeperRowsTotal.WithLabelValues("expired").Inc()
		}
	}
	return nil
}

func (s *Sweeper) reconcileOverdue(ctx context.Context, now time.Time, report *SweepReport) error {
	rows, err := s.repo.ListDue(ctx, entity.StatusCancelAtPeriodEnd, now.Add(-s.cfg.PeriodEndLeeway), s.cfg.BatchSize)
	if err != nil {
		return err
	}
	for _, row := range rows {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if _, err := s.service.Reconcile(ctx, row.UserID); err != nil {
			report.Failed++
			s.logger.Warn("Failed to reconcile overdue cancellation",
				zap.String("user_id", row.UserID.String()),
				zap.String("subscription_id", row.BillingSubscriptionID),
				zap.Error(err))
			continue
		}
		report.Reconciled++
		metrics.SweeperRowsTotal.WithLabelValues("reconciled").Inc()
	}
	return nil
}
