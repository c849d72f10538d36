package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"github.com/wekeepgrowing/entitlement-service/internal/catalog"
	"github.com/wekeepgrowing/entitlement-service/internal/domain/entity"
	domainErrors "github.com/wekeepgrowing/entitlement-service/internal/domain/errors"
	"github.com/wekeepgrowing/entitlement-service/internal/domain/lifecycle"
	"github.com/wekeepgrowing/entitlement-service/internal/domain/provider"
	"github.com/wekeepgrowing/entitlement-service/internal/domain/repository"
	"github.com/wekeepgrowing/entitlement-service/internal/infrastructure/metrics"
	"go.uber.org/zap"
)

const publishTimeout = 2 * time.Second

// ChangePublisher receives every committed transition.
type ChangePublisher interface {
	Publish(ctx context.Context, msg entity.EntitlementChanged) error
}

// EntitlementServiceConfig holds the service's tunables
type EntitlementServiceConfig struct {
	// MaxRetries bounds how often a write is retried after ErrConcurrentModification
	MaxRetries      int
	Retention       time.Duration
	SuccessURL      string
	CancelURL       string
	PortalReturnURL string
}

// CheckoutInput identifies the plan a user wants to buy. Either PlanCode or
// PriceID must be set; empty URLs fall back to the configured ones.
type CheckoutInput struct {
	UserID     uuid.UUID
	Email      string
	PlanCode   string
	PriceID    string
	SuccessURL string
	CancelURL  string
}

// ApplyResult reports what a webhook event did to the entitlement
type ApplyResult struct {
	Entitlement entity.Entitlement
	Changed     bool
	Reason      string
}

// EntitlementService owns every state change of an entitlement. Provider
// calls happen outside the store's lock; only confirmed provider responses
// and verified webhook events reach Upsert.
type EntitlementService struct {
	repo      repository.EntitlementRepository
	billing   provider.BillingProvider
	catalog   *catalog.Catalog
	publisher ChangePublisher
	logger    *zap.Logger
	cfg       EntitlementServiceConfig
	now       func() time.Time
}

// NewEntitlementService creates a new entitlement service
func NewEntitlementService(
	repo repository.EntitlementRepository,
	billing provider.BillingProvider,
	plans *catalog.Catalog,
	publisher ChangePublisher,
	logger *zap.Logger,
	cfg EntitlementServiceConfig,
) *EntitlementService {
	if cfg.MaxRetries < 1 {
		cfg.MaxRetries = 1
	}
	return &EntitlementService{
		repo:      repo,
		billing:   billing,
		catalog:   plans,
		publisher: publisher,
		logger:    logger,
		cfg:       cfg,
		now:       time.Now,
	}
}

// WithClock replaces the service clock. It is meant for tests.
func (s *EntitlementService) WithClock(now func() time.Time) *EntitlementService {
	s.now = now
	return s
}

// Get returns the user's entitlement. A user without a row is none/free.
func (s *EntitlementService) Get(ctx context.Context, userID uuid.UUID) (entity.Entitlement, error) {
	e, err := s.repo.Get(ctx, userID)
	if errors.Is(err, domainErrors.ErrEntitlementNotFound) {
		return entity.NewEntitlement(userID), nil
	}
	if err != nil {
		return entity.Entitlement{}, fmt.Errorf("failed to get entitlement: %w", err)
	}
	return e, nil
}

// StartCheckout opens a provider checkout for a paid plan and materializes
// the user's row on first use.
func (s *EntitlementService) StartCheckout(ctx context.Context, in CheckoutInput) (*entity.CheckoutSession, error) {
	plan, err := s.resolvePlan(in)
	if err != nil {
		return nil, err
	}

	current, err := s.Get(ctx, in.UserID)
	if err != nil {
		return nil, err
	}
	if _, _, err := lifecycle.BeginCheckout(current, ""); err != nil {
		return nil, err
	}

	successURL, cancelURL := in.SuccessURL, in.CancelURL
	if successURL == "" {
		successURL = s.cfg.SuccessURL
	}
	if cancelURL == "" {
		cancelURL = s.cfg.CancelURL
	}

	session, err := s.billing.CreateCheckoutSession(ctx, provider.CheckoutRequest{
		UserID:     in.UserID,
		Email:      in.Email,
		CustomerID: current.BillingCustomerID,
		PriceID:    plan.PriceID,
		PlanCode:   plan.Code,
		SuccessURL: successURL,
		CancelURL:  cancelURL,
	})
	if err != nil {
		return nil, err
	}

	_, _, err = s.upsert(ctx, in.UserID, repository.Cause{Trigger: repository.TriggerCheckout, Actor: in.UserID.String()},
		func(cur entity.Entitlement) (entity.Entitlement, bool, error) {
			return lifecycle.BeginCheckout(cur, "")
		})
	switch {
	case errors.Is(err, domainErrors.ErrAlreadySubscribed):
		// A webhook activated the user while the session was being created.
		s.logger.Info("Entitlement became live during checkout",
			zap.String("user_id", in.UserID.String()),
			zap.String("session_id", session.ID))
	case err != nil:
		return nil, err
	}

	s.logger.Info("Checkout session created",
		zap.String("user_id", in.UserID.String()),
		zap.String("plan", plan.Code),
		zap.String("price_id", plan.PriceID),
		zap.String("session_id", session.ID))
	return session, nil
}

func (s *EntitlementService) resolvePlan(in CheckoutInput) (catalog.Plan, error) {
	switch {
	case in.PlanCode != "":
		return s.catalog.PlanByCode(in.PlanCode)
	case in.PriceID != "":
		return s.catalog.PlanByPrice(in.PriceID)
	default:
		return catalog.Plan{}, domainErrors.ErrUnknownPlan
	}
}

// OpenBillingPortal returns the provider's self-service portal URL
func (s *EntitlementService) OpenBillingPortal(ctx context.Context, userID uuid.UUID, returnURL string) (string, error) {
	current, err := s.Get(ctx, userID)
	if err != nil {
		return "", err
	}
	if current.BillingCustomerID == "" {
		return "", domainErrors.ErrNoBillingCustomer
	}
	if returnURL == "" {
		returnURL = s.cfg.PortalReturnURL
	}
	return s.billing.CreatePortalSession(ctx, current.BillingCustomerID, returnURL)
}

// RequestCancellation schedules the user's subscription to end with the
// current period. When the provider no longer knows the subscription the
// row is reconciled to canceled and returned with ErrSubscriptionNotFound.
func (s *EntitlementService) RequestCancellation(ctx context.Context, userID uuid.UUID) (entity.Entitlement, error) {
	current, err := s.Get(ctx, userID)
	if err != nil {
		return entity.Entitlement{}, err
	}
	if current.Status != entity.StatusActive {
		return current, domainErrors.ErrNoActiveSubscription
	}

	subID := current.BillingSubscriptionID
	confirmed, err := s.billing.CancelSubscription(ctx, subID)
	if err != nil {
		return s.handleProviderFailure(ctx, current, err)
	}

	next, _, err := s.upsert(ctx, userID, repository.Cause{Trigger: repository.TriggerUserCancel, Actor: userID.String()},
		func(cur entity.Entitlement) (entity.Entitlement, bool, error) {
			if cur.BillingSubscriptionID != subID {
				return cur, false, nil
			}
			next, changed, err := lifecycle.RequestCancel(cur, *confirmed)
			if errors.Is(err, domainErrors.ErrNoActiveSubscription) {
				return cur, false, nil
			}
			return next, changed, err
		})
	if err != nil {
		return current, err
	}
	return next, nil
}

// Reactivate clears a scheduled cancellation
func (s *EntitlementService) Reactivate(ctx context.Context, userID uuid.UUID) (entity.Entitlement, error) {
	current, err := s.Get(ctx, userID)
	if err != nil {
		return entity.Entitlement{}, err
	}
	if current.Status != entity.StatusCancelAtPeriodEnd {
		return current, domainErrors.ErrNoPendingCancellation
	}

	subID := current.BillingSubscriptionID
	confirmed, err := s.billing.ResumeSubscription(ctx, subID)
	if err != nil {
		return s.handleProviderFailure(ctx, current, err)
	}

	next, _, err := s.upsert(ctx, userID, repository.Cause{Trigger: repository.TriggerUserResume, Actor: userID.String()},
		func(cur entity.Entitlement) (entity.Entitlement, bool, error) {
			if cur.BillingSubscriptionID != subID {
				return cur, false, nil
			}
			next, changed, err := lifecycle.Reactivate(cur, *confirmed)
			if errors.Is(err, domainErrors.ErrNoPendingCancellation) {
				return cur, false, nil
			}
			return next, changed, err
		})
	if err != nil {
		return current, err
	}
	return next, nil
}

// handleProviderFailure leaves the row untouched unless the provider reports
// the subscription gone, in which case the row is reconciled to canceled.
func (s *EntitlementService) handleProviderFailure(ctx context.Context, current entity.Entitlement, err error) (entity.Entitlement, error) {
	if !errors.Is(err, domainErrors.ErrSubscriptionNotFound) {
		return current, err
	}

	s.logger.Warn("Subscription missing at provider, reconciling locally",
		zap.String("user_id", current.UserID.String()),
		zap.String("subscription_id", current.BillingSubscriptionID))

	reconciled, rerr := s.markMissing(ctx, current.UserID, current.BillingSubscriptionID)
	if rerr != nil {
		return current, fmt.Errorf("failed to reconcile missing subscription: %w", rerr)
	}
	return reconciled, err
}

func (s *EntitlementService) markMissing(ctx context.Context, userID uuid.UUID, subID string) (entity.Entitlement, error) {
	next, _, err := s.upsert(ctx, userID, repository.Cause{Trigger: repository.TriggerProviderGone},
		func(cur entity.Entitlement) (entity.Entitlement, bool, error) {
			if cur.BillingSubscriptionID != subID {
				return cur, false, nil
			}
			return lifecycle.MarkMissing(cur, s.now().UTC())
		})
	return next, err
}

// ApplyWebhookEvent applies a verified provider event to the user's row.
// No-ops (duplicate, stale, foreign subscription) are not errors.
func (s *EntitlementService) ApplyWebhookEvent(ctx context.Context, userID uuid.UUID, ev entity.BillingEvent) (ApplyResult, error) {
	reason := lifecycle.ReasonNotApplicable
	next, changed, err := s.upsert(ctx, userID, repository.Cause{Trigger: repository.TriggerWebhook, EventID: ev.ID},
		func(cur entity.Entitlement) (entity.Entitlement, bool, error) {
			res, err := lifecycle.ApplyEvent(cur, ev, s.catalog)
			reason = res.Reason
			return res.Next, res.Changed, err
		})
	if err != nil {
		return ApplyResult{Entitlement: next, Reason: reason}, err
	}

	if !changed {
		s.logger.Info("Webhook event not applied",
			zap.String("user_id", userID.String()),
			zap.String("event_id", ev.ID),
			zap.String("event_type", ev.Type),
			zap.String("reason", reason),
			zap.Int64("sequence", ev.Sequence),
			zap.Int64("last_event_at", next.LastEventAt))
	}
	return ApplyResult{Entitlement: next, Changed: changed, Reason: reason}, nil
}

// Reconcile re-reads the subscription from the provider and applies it
func (s *EntitlementService) Reconcile(ctx context.Context, userID uuid.UUID) (entity.Entitlement, error) {
	current, err := s.Get(ctx, userID)
	if err != nil {
		return entity.Entitlement{}, err
	}
	if current.BillingSubscriptionID == "" {
		return current, nil
	}

	subID := current.BillingSubscriptionID
	sub, err := s.billing.RetrieveSubscription(ctx, subID)
	if errors.Is(err, domainErrors.ErrSubscriptionNotFound) {
		return s.markMissing(ctx, userID, subID)
	}
	if err != nil {
		return current, err
	}

	next, _, err := s.upsert(ctx, userID, repository.Cause{Trigger: repository.TriggerReconcile},
		func(cur entity.Entitlement) (entity.Entitlement, bool, error) {
			return lifecycle.ApplySnapshot(cur, *sub, s.catalog, s.now().UTC())
		})
	if err != nil {
		return current, err
	}
	return next, nil
}

// ExpireCanceled moves a canceled row past its retention window to expired
func (s *EntitlementService) ExpireCanceled(ctx context.Context, userID uuid.UUID, now time.Time) (entity.Entitlement, bool, error) {
	return s.upsert(ctx, userID, repository.Cause{Trigger: repository.TriggerExpiry},
		func(cur entity.Entitlement) (entity.Entitlement, bool, error) {
			return lifecycle.Expire(cur, now, s.cfg.Retention)
		})
}

// upsert runs fn through the store, retrying on concurrent modification, and
// records every committed change.
func (s *EntitlementService) upsert(ctx context.Context, userID uuid.UUID, cause repository.Cause, fn repository.TransitionFunc) (entity.Entitlement, bool, error) {
	var (
		before  entity.Entitlement
		lastErr error
	)
	capture := func(cur entity.Entitlement) (entity.Entitlement, bool, error) {
		before = cur.Clone()
		return fn(cur)
	}

	for attempt := 0; attempt <= s.cfg.MaxRetries; attempt++ {
		next, changed, err := s.repo.Upsert(ctx, userID, cause, capture)
		if errors.Is(err, domainErrors.ErrConcurrentModification) {
			lastErr = err
			metrics.ConcurrentRetriesTotal.WithLabelValues(string(cause.Trigger)).Inc()
			s.logger.Debug("Concurrent entitlement write, retrying",
				zap.String("user_id", userID.String()),
				zap.String("trigger", string(cause.Trigger)),
				zap.Int("attempt", attempt+1))
			continue
		}
		if err != nil {
			s.logger.Warn("Entitlement transition rejected",
				zap.String("user_id", userID.String()),
				zap.String("trigger", string(cause.Trigger)),
				zap.String("event_id", cause.EventID),
				zap.String("status", string(before.Status)),
				zap.Int64("revision", before.Revision),
				zap.Error(err))
			return next, false, err
		}
		if changed {
			s.recordChange(ctx, before, next, cause)
		}
		return next, changed, nil
	}

	s.logger.Error("Entitlement write retries exhausted",
		zap.String("user_id", userID.String()),
		zap.String("trigger", string(cause.Trigger)),
		zap.Error(lastErr))
	return entity.Entitlement{}, false, lastErr
}

func (s *EntitlementService) recordChange(ctx context.Context, before, after entity.Entitlement, cause repository.Cause) {
	s.logger.Info("Entitlement transitioned",
		zap.String("user_id", after.UserID.String()),
		zap.String("trigger", string(cause.Trigger)),
		zap.String("event_id", cause.EventID),
		zap.String("from_status", string(before.Status)),
		zap.String("to_status", string(after.Status)),
		zap.String("from_tier", string(before.PlanTier)),
		zap.String("to_tier", string(after.PlanTier)),
		zap.Bool("pending_optimistic", after.PendingOptimistic),
		zap.Int64("revision", after.Revision))

	metrics.TransitionsTotal.WithLabelValues(string(cause.Trigger), string(before.Status), string(after.Status)).Inc()

	if s.publisher == nil {
		return
	}
	msg := entity.EntitlementChanged{
		MessageID:  ulid.Make().String(),
		UserID:     after.UserID.String(),
		Trigger:    string(cause.Trigger),
		EventID:    cause.EventID,
		Revision:   after.Revision,
		Before:     before,
		After:      after,
		OccurredAt: s.now().UTC(),
	}

	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()
	if err := s.publisher.Publish(pubCtx, msg); err != nil {
		metrics.PublishFailuresTotal.WithLabelValues(string(cause.Trigger)).Inc()
		s.logger.Warn("Failed to publish entitlement change",
			zap.String("user_id", msg.UserID),
			zap.String("message_id", msg.MessageID),
			zap.Error(err))
	}
}
