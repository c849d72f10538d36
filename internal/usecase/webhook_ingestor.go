package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/wekeepgrowing/entitlement-service/internal/domain/entity"
	domainErrors "github.com/wekeepgrowing/entitlement-service/internal/domain/errors"
	"github.com/wekeepgrowing/entitlement-service/internal/domain/lifecycle"
	"github.com/wekeepgrowing/entitlement-service/internal/domain/provider"
	"github.com/wekeepgrowing/entitlement-service/internal/domain/repository"
	"github.com/wekeepgrowing/entitlement-service/internal/infrastructure/metrics"
	"go.uber.org/zap"
)

// Webhook outcomes reported to the provider and recorded in the ledger.
const (
	OutcomeApplied             = lifecycle.ReasonApplied
	OutcomeDuplicate           = lifecycle.ReasonDuplicate
	OutcomeStale               = lifecycle.ReasonStale
	OutcomeForeignSubscription = lifecycle.ReasonForeignSubscription
	OutcomeNotApplicable       = lifecycle.ReasonNotApplicable
	OutcomeIgnored             = "ignored"
	OutcomeUnresolved          = "unresolved"
	OutcomeRejected            = "rejected"
	OutcomeMalformed           = "malformed"
	OutcomeInvalidSignature    = "invalid_signature"
)

// WebhookResult is acknowledged back to the provider.
type WebhookResult struct {
	EventID   string `json:"event_id,omitempty"`
	EventType string `json:"event_type,omitempty"`
	Outcome   string `json:"outcome"`
}

// WebhookIngestor verifies, deduplicates and applies provider events.
type WebhookIngestor struct {
	parser  provider.WebhookParser
	billing provider.BillingProvider
	ledger  repository.EventLedger
	repo    repository.EntitlementRepository
	service *EntitlementService
	logger  *zap.Logger
}

// NewWebhookIngestor creates a new webhook ingestor
func NewWebhookIngestor(
	parser provider.WebhookParser,
	billing provider.BillingProvider,
	ledger repository.EventLedger,
	repo repository.EntitlementRepository,
	service *EntitlementService,
	logger *zap.Logger,
) *WebhookIngestor {
	return &WebhookIngestor{
		parser:  parser,
		billing: billing,
		ledger:  ledger,
		repo:    repo,
		service: service,
		logger:  logger,
	}
}

// Handle processes one raw webhook delivery. A non-nil error other than
// ErrInvalidSignature means the delivery should be retried by the provider.
func (w *WebhookIngestor) Handle(ctx context.Context, payload []byte, signature string) (WebhookResult, error) {
	start := time.Now()

	ev, err := w.parser.ParseWebhook(payload, signature)
	if err != nil {
		if errors.Is(err, domainErrors.ErrInvalidSignature) {
			metrics.WebhookEventsTotal.WithLabelValues("unknown", OutcomeInvalidSignature).Inc()
			return WebhookResult{Outcome: OutcomeInvalidSignature}, err
		}
		// Verified but undecodable: recorded and acked so the provider stops
		// redelivering.
		w.logger.Error("Failed to decode verified webhook event",
			zap.String("event_id", ev.ID),
			zap.String("event_type", ev.Type),
			zap.Error(err))
		result := WebhookResult{EventID: ev.ID, EventType: ev.Type, Outcome: OutcomeMalformed}
		if ev.ID != "" {
			if err := w.markProcessed(ctx, ev, OutcomeMalformed); err != nil {
				w.observe(ev.Type, "error", start)
				return result, err
			}
		}
		w.observe(ev.Type, OutcomeMalformed, start)
		return result, nil
	}

	result := WebhookResult{EventID: ev.ID, EventType: ev.Type}
	outcome, err := w.process(ctx, ev)
	if err != nil {
		w.logger.Error("Failed to process webhook event",
			zap.String("event_id", ev.ID),
			zap.String("event_type", ev.Type),
			zap.Error(err))
		w.observe(ev.Type, "error", start)
		return result, err
	}

	result.Outcome = outcome
	w.observe(ev.Type, outcome, start)
	return result, nil
}

func (w *WebhookIngestor) process(ctx context.Context, ev entity.BillingEvent) (string, error) {
	seen, err := w.ledger.Seen(ctx, ev.ID)
	if err != nil {
		return "", fmt.Errorf("failed to check event ledger: %w", err)
	}
	if seen {
		w.logger.Debug("Duplicate webhook event", zap.String("event_id", ev.ID))
		return OutcomeDuplicate, nil
	}

	if !ev.Handled() {
		w.logger.Debug("Ignoring webhook event",
			zap.String("event_id", ev.ID),
			zap.String("event_type", ev.Type))
		return OutcomeIgnored, w.markProcessed(ctx, ev, OutcomeIgnored)
	}

	if ev.Kind == entity.EventCheckoutCompleted && ev.Subscription == nil && ev.SubscriptionID != "" {
		sub, err := w.billing.RetrieveSubscription(ctx, ev.SubscriptionID)
		switch {
		case err == nil:
			ev.Subscription = sub
		case errors.Is(err, domainErrors.ErrSubscriptionNotFound):
			w.logger.Warn("Checkout subscription not found at provider",
				zap.String("event_id", ev.ID),
				zap.String("subscription_id", ev.SubscriptionID))
		default:
			return "", fmt.Errorf("failed to retrieve checkout subscription: %w", err)
		}
	}

	userID, ok, err := w.resolveUser(ctx, ev)
	if err != nil {
		return "", err
	}
	if !ok {
		w.logger.Warn("Webhook event has no resolvable user",
			zap.String("event_id", ev.ID),
			zap.String("event_type", ev.Type),
			zap.String("subscription_id", ev.SubscriptionID),
			zap.String("customer_id", ev.CustomerID))
		return OutcomeUnresolved, nil
	}

	ev, err = w.prepareAdoption(ctx, userID, ev)
	if err != nil {
		return "", err
	}

	res, err := w.service.ApplyWebhookEvent(ctx, userID, ev)
	if errors.Is(err, domainErrors.ErrInvalidTransition) {
		w.logger.Error("Webhook event would violate entitlement invariants",
			zap.String("event_id", ev.ID),
			zap.String("user_id", userID.String()),
			zap.Error(err))
		return OutcomeRejected, w.markProcessed(ctx, ev, OutcomeRejected)
	}
	if err != nil {
		return "", fmt.Errorf("failed to apply webhook event: %w", err)
	}

	return res.Reason, w.markProcessed(ctx, ev, res.Reason)
}

// prepareAdoption readies an event for a subscription the user's row does not
// track. A live row is reconciled first, because the tracked subscription may
// have ended at the provider before its deletion event arrived. If the row can
// then take a new subscription and the event carries no snapshot (invoices),
// the snapshot is fetched so the event can be applied instead of dropped.
func (w *WebhookIngestor) prepareAdoption(ctx context.Context, userID uuid.UUID, ev entity.BillingEvent) (entity.BillingEvent, error) {
	subID := eventSubscriptionID(ev)
	if subID == "" || ev.Kind == entity.EventSubscriptionDeleted {
		return ev, nil
	}
	if ev.Subscription != nil {
		if status := lifecycle.MapProviderStatus(*ev.Subscription); status == "" || status.IsFree() {
			return ev, nil
		}
	}

	cur, err := w.service.Get(ctx, userID)
	if err != nil {
		return ev, err
	}
	if cur.BillingSubscriptionID == subID || cur.HasApplied(ev.ID) || ev.Sequence < cur.LastEventAt {
		return ev, nil
	}

	if !cur.Status.CanStartSubscription() {
		w.logger.Info("Event for another subscription on a live row, reconciling tracked subscription",
			zap.String("event_id", ev.ID),
			zap.String("user_id", userID.String()),
			zap.String("tracked_subscription_id", cur.BillingSubscriptionID),
			zap.String("subscription_id", subID))
		cur, err = w.service.Reconcile(ctx, userID)
		if err != nil {
			return ev, fmt.Errorf("failed to reconcile tracked subscription: %w", err)
		}
		if !cur.Status.CanStartSubscription() {
			return ev, nil
		}
	}

	if ev.Subscription != nil {
		return ev, nil
	}
	sub, err := w.billing.RetrieveSubscription(ctx, subID)
	switch {
	case err == nil:
		ev.Subscription = sub
	case errors.Is(err, domainErrors.ErrSubscriptionNotFound):
		w.logger.Warn("Event subscription not found at provider",
			zap.String("event_id", ev.ID),
			zap.String("subscription_id", subID))
	default:
		return ev, fmt.Errorf("failed to retrieve event subscription: %w", err)
	}
	return ev, nil
}

func eventSubscriptionID(ev entity.BillingEvent) string {
	if ev.SubscriptionID == "" && ev.Subscription != nil {
		return ev.Subscription.ID
	}
	return ev.SubscriptionID
}

// resolveUser prefers the user id echoed back by the provider and falls back
// to the row that tracks the subscription.
func (w *WebhookIngestor) resolveUser(ctx context.Context, ev entity.BillingEvent) (uuid.UUID, bool, error) {
	if ev.UserRef != "" {
		if id, err := uuid.Parse(ev.UserRef); err == nil {
			return id, true, nil
		}
		w.logger.Warn("Ignoring malformed user reference",
			zap.String("event_id", ev.ID),
			zap.String("user_ref", ev.UserRef))
	}

	subID := eventSubscriptionID(ev)
	if subID == "" {
		return uuid.Nil, false, nil
	}

	e, err := w.repo.GetBySubscriptionID(ctx, subID)
	if errors.Is(err, domainErrors.ErrEntitlementNotFound) {
		return uuid.Nil, false, nil
	}
	if err != nil {
		return uuid.Nil, false, fmt.Errorf("failed to resolve user by subscription: %w", err)
	}
	return e.UserID, true, nil
}

func (w *WebhookIngestor) markProcessed(ctx context.Context, ev entity.BillingEvent, outcome string) error {
	if err := w.ledger.MarkProcessed(ctx, ev, outcome); err != nil {
		return fmt.Errorf("failed to mark event processed: %w", err)
	}
	return nil
}

func (w *WebhookIngestor) observe(eventType, outcome string, start time.Time) {
	if eventType == "" {
		eventType = "unknown"
	}
	metrics.WebhookEventsTotal.WithLabelValues(eventType, outcome).Inc()
	metrics.WebhookDuration.WithLabelValues(eventType).Observe(time.Since(start).Seconds())
}
