// Package lifecycle holds the entitlement state machine. Every function here is
// pure: it takes the current row and returns the next one without I/O, so the
// store can re-run it under its lock or on retry.
package lifecycle

import (
	"fmt"
	"time"

	"github.com/wekeepgrowing/entitlement-service/internal/domain/entity"
	domainErrors "github.com/wekeepgrowing/entitlement-service/internal/domain/errors"
)

// TierResolver maps a provider price to a plan tier.
type TierResolver interface {
	TierForPrice(priceID string) entity.PlanTier
}

// Outcome reasons reported by ApplyEvent.
const (
	ReasonApplied             = "applied"
	ReasonDuplicate           = "duplicate"
	ReasonStale               = "stale"
	ReasonForeignSubscription = "foreign_subscription"
	ReasonNotApplicable       = "not_applicable"
)

// Result is the outcome of applying one provider event.
type Result struct {
	Next    entity.Entitlement
	Changed bool
	Reason  string
}

// ApplyEvent applies a verified provider event. Provider events are
// authoritative and override any pending optimistic state. Duplicates, events
// older than the last applied one, and events for a subscription the row
// cannot adopt are no-ops.
func ApplyEvent(cur entity.Entitlement, ev entity.BillingEvent, tiers TierResolver) (Result, error) {
	noop := func(reason string) (Result, error) {
		return Result{Next: cur, Reason: reason}, nil
	}

	if !ev.Handled() {
		return noop(ReasonNotApplicable)
	}
	if cur.HasApplied(ev.ID) {
		return noop(ReasonDuplicate)
	}

	subID := ev.SubscriptionID
	if subID == "" && ev.Subscription != nil {
		subID = ev.Subscription.ID
	}
	if subID == "" {
		return noop(ReasonNotApplicable)
	}

	// The provider's declared order is tracked per user, across subscriptions,
	// so a late event for a replaced subscription can never win.
	if ev.Sequence < cur.LastEventAt {
		return noop(ReasonStale)
	}

	next := cur.Clone()
	if cur.BillingSubscriptionID == subID {
		if cur.Status == entity.StatusExpired {
			return noop(ReasonNotApplicable)
		}
	} else {
		// Only a row that grants nothing may switch subscriptions. A dead one is
		// adopted too, so a deletion that overtakes its creation still lands.
		switch {
		case establishesLive(ev) && cur.Status.CanStartSubscription():
		case endsSubscription(ev) && cur.Status.IsFree():
		default:
			return noop(ReasonForeignSubscription)
		}
		next.BillingSubscriptionID = subID
		next.CanceledAt = nil
	}

	switch ev.Kind {
	case entity.EventSubscriptionCreated, entity.EventSubscriptionUpdated, entity.EventCheckoutCompleted:
		applyAttached(&next, ev, tiers)

	case entity.EventSubscriptionDeleted:
		canceledAt := ev.OccurredAt
		if ev.Subscription != nil {
			if ev.Subscription.CanceledAt != nil {
				canceledAt = *ev.Subscription.CanceledAt
			}
			if !ev.Subscription.CurrentPeriodEnd.IsZero() {
				end := ev.Subscription.CurrentPeriodEnd
				next.CurrentPeriodEnd = &end
			}
		}
		markCanceled(&next, canceledAt)

	case entity.EventPaymentFailed:
		applyAttached(&next, ev, tiers)
		if next.Status == entity.StatusActive || next.Status == entity.StatusCancelAtPeriodEnd {
			next.Status = entity.StatusPastDue
		}

	case entity.EventPaymentSucceeded:
		applyAttached(&next, ev, tiers)
		if next.Status == entity.StatusPastDue {
			next.Status = entity.StatusActive
		}
		if ev.PeriodEnd != nil && !next.Status.IsFree() &&
			(next.CurrentPeriodEnd == nil || ev.PeriodEnd.After(*next.CurrentPeriodEnd)) {
			end := *ev.PeriodEnd
			next.CurrentPeriodEnd = &end
		}
	}

	if ev.CustomerID != "" {
		next.BillingCustomerID = ev.CustomerID
	}
	next.PendingOptimistic = false
	next.RecordEvent(ev.ID, ev.Sequence)

	if err := next.Validate(); err != nil {
		return Result{Next: cur}, fmt.Errorf("%w: %v", domainErrors.ErrInvalidTransition, err)
	}
	return Result{Next: next, Changed: true, Reason: ReasonApplied}, nil
}

// applyAttached applies the subscription snapshot carried by, or fetched
// for, the event. Invoice events only carry one when the row did not track
// their subscription yet.
func applyAttached(next *entity.Entitlement, ev entity.BillingEvent, tiers TierResolver) {
	if ev.Subscription == nil {
		return
	}
	if status := MapProviderStatus(*ev.Subscription); status != "" {
		applySubscription(next, *ev.Subscription, status, tiers, ev.OccurredAt)
	}
}

func establishesLive(ev entity.BillingEvent) bool {
	if ev.Subscription == nil || ev.Kind == entity.EventSubscriptionDeleted {
		return false
	}
	status := MapProviderStatus(*ev.Subscription)
	return status != "" && !status.IsFree()
}

func endsSubscription(ev entity.BillingEvent) bool {
	if ev.Kind == entity.EventSubscriptionDeleted {
		return true
	}
	return ev.Subscription != nil && MapProviderStatus(*ev.Subscription) == entity.StatusCanceled
}

// MapProviderStatus translates a provider subscription status. An empty result
// means the status carries no entitlement decision (incomplete, paused, unknown).
func MapProviderStatus(sub entity.ExternalSubscription) entity.Status {
	switch sub.Status {
	case "active", "trialing":
		if sub.CancelAtPeriodEnd {
			return entity.StatusCancelAtPeriodEnd
		}
		return entity.StatusActive
	case "past_due", "unpaid":
		return entity.StatusPastDue
	case "canceled", "incomplete_expired":
		return entity.StatusCanceled
	default:
		return ""
	}
}

func applySubscription(next *entity.Entitlement, sub entity.ExternalSubscription, status entity.Status, tiers TierResolver, at time.Time) {
	if status.IsFree() {
		canceledAt := at
		if sub.CanceledAt != nil {
			canceledAt = *sub.CanceledAt
		}
		markCanceled(next, canceledAt)
	} else {
		next.Status = status
		next.PlanTier = tiers.TierForPrice(sub.PriceID)
		next.CanceledAt = nil
	}
	if !sub.CurrentPeriodEnd.IsZero() {
		end := sub.CurrentPeriodEnd
		next.CurrentPeriodEnd = &end
	}
	if sub.CustomerID != "" {
		next.BillingCustomerID = sub.CustomerID
	}
}

func markCanceled(next *entity.Entitlement, at time.Time) {
	if next.Status != entity.StatusCanceled || next.CanceledAt == nil {
		t := at
		next.CanceledAt = &t
	}
	next.Status = entity.StatusCanceled
	next.PlanTier = entity.PlanTierFree
}

// RequestCancel records a provider-confirmed cancel-at-period-end. The result
// stays optimistic until a webhook confirms or corrects it.
func RequestCancel(cur entity.Entitlement, confirmed entity.ExternalSubscription) (entity.Entitlement, bool, error) {
	if cur.Status != entity.StatusActive {
		return cur, false, domainErrors.ErrNoActiveSubscription
	}
	next := cur.Clone()
	next.Status = entity.StatusCancelAtPeriodEnd
	next.PendingOptimistic = true
	if !confirmed.CurrentPeriodEnd.IsZero() {
		end := confirmed.CurrentPeriodEnd
		next.CurrentPeriodEnd = &end
	}
	return validated(cur, next)
}

// Reactivate records a provider-confirmed resume of a scheduled cancellation.
// A resumed subscription the provider reports as past due is left for the
// payment webhook; user actions never move a row into past_due.
func Reactivate(cur entity.Entitlement, confirmed entity.ExternalSubscription) (entity.Entitlement, bool, error) {
	if cur.Status != entity.StatusCancelAtPeriodEnd {
		return cur, false, domainErrors.ErrNoPendingCancellation
	}
	if MapProviderStatus(confirmed) == entity.StatusPastDue {
		return cur, false, nil
	}
	next := cur.Clone()
	next.Status = entity.StatusActive
	next.PendingOptimistic = true
	if !confirmed.CurrentPeriodEnd.IsZero() {
		end := confirmed.CurrentPeriodEnd
		next.CurrentPeriodEnd = &end
	}
	return validated(cur, next)
}

// ApplySnapshot reconciles the row against a subscription read from the
// provider. Snapshots for another subscription, or with an undecidable status,
// leave the row untouched. The event ordering key is not moved.
func ApplySnapshot(cur entity.Entitlement, sub entity.ExternalSubscription, tiers TierResolver, now time.Time) (entity.Entitlement, bool, error) {
	if sub.ID == "" || sub.ID != cur.BillingSubscriptionID || cur.Status == entity.StatusExpired {
		return cur, false, nil
	}
	status := MapProviderStatus(sub)
	if status == "" {
		return cur, false, nil
	}
	next := cur.Clone()
	applySubscription(&next, sub, status, tiers, now)
	next.PendingOptimistic = false
	if next.SameState(cur) {
		return cur, false, nil
	}
	return validated(cur, next)
}

// MarkMissing reconciles a paid row whose subscription no longer exists at the
// provider.
func MarkMissing(cur entity.Entitlement, now time.Time) (entity.Entitlement, bool, error) {
	if cur.Status.IsFree() {
		return cur, false, nil
	}
	next := cur.Clone()
	markCanceled(&next, now)
	next.PendingOptimistic = false
	return validated(cur, next)
}

// Expire moves a canceled row to EXPIRED once the retention window has passed.
func Expire(cur entity.Entitlement, now time.Time, retention time.Duration) (entity.Entitlement, bool, error) {
	if cur.Status != entity.StatusCanceled {
		return cur, false, nil
	}
	since := cur.UpdatedAt
	if cur.CanceledAt != nil {
		since = *cur.CanceledAt
	}
	if now.Before(since.Add(retention)) {
		return cur, false, nil
	}
	next := cur.Clone()
	next.Status = entity.StatusExpired
	next.PendingOptimistic = false
	return validated(cur, next)
}

// BeginCheckout validates that a new subscription may start and materializes
// the row on first checkout.
func BeginCheckout(cur entity.Entitlement, customerID string) (entity.Entitlement, bool, error) {
	if !cur.Status.CanStartSubscription() {
		return cur, false, domainErrors.ErrAlreadySubscribed
	}
	next := cur.Clone()
	if customerID != "" {
		next.BillingCustomerID = customerID
	}
	if cur.IsPersisted() && next.BillingCustomerID == cur.BillingCustomerID {
		return cur, false, nil
	}
	return validated(cur, next)
}

func validated(cur, next entity.Entitlement) (entity.Entitlement, bool, error) {
	if err := next.Validate(); err != nil {
		return cur, false, fmt.Errorf("%w: %v", domainErrors.ErrInvalidTransition, err)
	}
	return next, true, nil
}
