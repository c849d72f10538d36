package usecase

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/wekeepgrowing/entitlement-service/internal/catalog"
	"github.com/wekeepgrowing/entitlement-service/internal/domain/entity"
	domainErrors "github.com/wekeepgrowing/entitlement-service/internal/domain/errors"
	"github.com/wekeepgrowing/entitlement-service/internal/domain/repository"
	"github.com/wekeepgrowing/entitlement-service/internal/infrastructure/metrics"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// Access decision reasons.
const (
	ReasonGranted          = "granted"
	ReasonNotInTier        = "feature_not_in_tier"
	ReasonStoreUnavailable = "store_unavailable"
	ReasonTimeout          = "timeout"
)

// AccessGateConfig holds the gate's tunables
type AccessGateConfig struct {
	ReadTimeout     time.Duration
	AllowPastDue    bool
	PeriodEndLeeway time.Duration
}

// Decision is the result of an access check.
type Decision struct {
	Allowed bool            `json:"allowed"`
	Tier    entity.PlanTier `json:"tier"`
	Status  entity.Status   `json:"status"`
	Reason  string          `json:"reason"`
}

// AccessGate answers feature checks from the store alone and fails closed.
type AccessGate struct {
	repo    repository.EntitlementRepository
	catalog *catalog.Catalog
	logger  *zap.Logger
	cfg     AccessGateConfig
	group   singleflight.Group
	now     func() time.Time
}

// NewAccessGate creates a new access gate
func NewAccessGate(repo repository.EntitlementRepository, plans *catalog.Catalog, logger *zap.Logger, cfg AccessGateConfig) *AccessGate {
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 250 * time.Millisecond
	}
	return &AccessGate{
		repo:    repo,
		catalog: plans,
		logger:  logger,
		cfg:     cfg,
		now:     time.Now,
	}
}

// WithClock replaces the gate clock. It is meant for tests.
func (g *AccessGate) WithClock(now func() time.Time) *AccessGate {
	g.now = now
	return g
}

// IsEntitled reports whether the user may use feature right now.
func (g *AccessGate) IsEntitled(ctx context.Context, userID uuid.UUID, feature string) bool {
	return g.Check(ctx, userID, feature).Allowed
}

// Check returns the full access decision for feature.
func (g *AccessGate) Check(ctx context.Context, userID uuid.UUID, feature string) Decision {
	e, reason, err := g.load(ctx, userID)
	if err != nil {
		g.logger.Warn("Access check failed closed",
			zap.String("user_id", userID.String()),
			zap.String("feature", feature),
			zap.String("reason", reason),
			zap.Error(err))
		return g.record(Decision{Tier: entity.PlanTierFree, Reason: reason})
	}

	tier := g.EffectiveTier(e)
	d := Decision{Tier: tier, Status: e.Status, Reason: ReasonNotInTier}
	if g.catalog.Allows(tier, feature) {
		d.Allowed = true
		d.Reason = ReasonGranted
	}
	return g.record(d)
}

// EffectiveTier is the tier the row grants at this moment.
func (g *AccessGate) EffectiveTier(e entity.Entitlement) entity.PlanTier {
	switch e.Status {
	case entity.StatusActive:
		return e.PlanTier
	case entity.StatusPastDue:
		if g.cfg.AllowPastDue {
			return e.PlanTier
		}
	case entity.StatusCancelAtPeriodEnd:
		if e.CurrentPeriodEnd != nil && g.now().Before(e.CurrentPeriodEnd.Add(g.cfg.PeriodEndLeeway)) {
			return e.PlanTier
		}
	}
	return entity.PlanTierFree
}

// load reads the row with the gate's deadline; concurrent reads for one user
// share a single store call.
func (g *AccessGate) load(ctx context.Context, userID uuid.UUID) (entity.Entitlement, string, error) {
	ch := g.group.DoChan(userID.String(), func() (interface{}, error) {
		readCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), g.cfg.ReadTimeout)
		defer cancel()
		return g.repo.Get(readCtx, userID)
	})

	timer := time.NewTimer(g.cfg.ReadTimeout)
	defer timer.Stop()

	select {
	case res := <-ch:
		if errors.Is(res.Err, domainErrors.ErrEntitlementNotFound) {
			return entity.NewEntitlement(userID), "", nil
		}
		if errors.Is(res.Err, context.DeadlineExceeded) {
			return entity.Entitlement{}, ReasonTimeout, res.Err
		}
		if res.Err != nil {
			return entity.Entitlement{}, ReasonStoreUnavailable, res.Err
		}
		return res.Val.(entity.Entitlement), "", nil
	case <-timer.C:
		return entity.Entitlement{}, ReasonTimeout, context.DeadlineExceeded
	case <-ctx.Done():
		return entity.Entitlement{}, ReasonTimeout, ctx.Err()
	}
}

func (g *AccessGate) record(d Decision) Decision {
	metrics.AccessDecisionsTotal.WithLabelValues(strconv.FormatBool(d.Allowed), d.Reason).Inc()
	return d
}
