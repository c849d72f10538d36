package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/wekeepgrowing/entitlement-service/internal/domain/entity"
)

// Trigger identifies what caused a transition, for audit and metrics.
type Trigger string

const (
	TriggerWebhook      Trigger = "webhook"
	TriggerUserCancel   Trigger = "user_cancel"
	TriggerUserResume   Trigger = "user_reactivate"
	TriggerCheckout     Trigger = "checkout"
	TriggerReconcile    Trigger = "reconcile"
	TriggerExpiry       Trigger = "expiry"
	TriggerProviderGone Trigger = "provider_not_found"
)

// Cause describes the origin of an Upsert so the store can audit it.
type Cause struct {
	Trigger Trigger
	EventID string
	Actor   string
}

// TransitionFunc computes the next state from the current one. It must be pure:
// it may be called more than once when the store retries. Returning changed=false
// or an error leaves the row untouched.
type TransitionFunc func(current entity.Entitlement) (next entity.Entitlement, changed bool, err error)

// EntitlementRepository is the single owner of entitlement rows.
type EntitlementRepository interface {
	// Get returns ErrEntitlementNotFound when the user has no row.
	Get(ctx context.Context, userID uuid.UUID) (entity.Entitlement, error)
	GetBySubscriptionID(ctx context.Context, subscriptionID string) (entity.Entitlement, error)
	// ListDue returns up to limit rows in status whose DueAt is before cutoff,
	// earliest first.
	ListDue(ctx context.Context, status entity.Status, cutoff time.Time, limit int) ([]entity.Entitlement, error)
	// Upsert applies fn atomically per user. A missing row is passed to fn as
	// entity.NewEntitlement(userID). Fails with ErrConcurrentModification when
	// the row changed underneath the write.
	Upsert(ctx context.Context, userID uuid.UUID, cause Cause, fn TransitionFunc) (entity.Entitlement, bool, error)
}
