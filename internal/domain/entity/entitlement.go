package entity

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// PlanTier is the access level granted by an entitlement.
type PlanTier string

const (
	PlanTierFree       PlanTier = "free"
	PlanTierPro        PlanTier = "pro"
	PlanTierEnterprise PlanTier = "enterprise"
)

// Valid reports whether t is a known tier.
func (t PlanTier) Valid() bool {
	switch t {
	case PlanTierFree, PlanTierPro, PlanTierEnterprise:
		return true
	}
	return false
}

// IsPaid reports whether t requires a billing subscription.
func (t PlanTier) IsPaid() bool {
	return t == PlanTierPro || t == PlanTierEnterprise
}

// Status is the entitlement lifecycle state.
type Status string

const (
	StatusNone              Status = "none"
	StatusActive            Status = "active"
	StatusPastDue           Status = "past_due"
	StatusCancelAtPeriodEnd Status = "cancel_at_period_end"
	StatusCanceled          Status = "canceled"
	StatusExpired           Status = "expired"
)

// AllStatuses lists every status in lifecycle order.
var AllStatuses = []Status{
	StatusNone,
	StatusActive,
	StatusPastDue,
	StatusCancelAtPeriodEnd,
	StatusCanceled,
	StatusExpired,
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	for _, known := range AllStatuses {
		if s == known {
			return true
		}
	}
	return false
}

// IsFree reports whether s carries no paid access.
func (s Status) IsFree() bool {
	return s == StatusNone || s == StatusCanceled || s == StatusExpired
}

// CanStartSubscription reports whether a new checkout may begin from s.
func (s Status) CanStartSubscription() bool {
	return s.IsFree()
}

// maxAppliedEventIDs bounds the per-row idempotency ring.
const maxAppliedEventIDs = 32

// Entitlement is the per-user record of what billing currently grants.
// Rows are only mutated through lifecycle transitions applied by the store's Upsert.
type Entitlement struct {
	UserID                uuid.UUID  `json:"user_id"`
	PlanTier              PlanTier   `json:"plan_tier"`
	BillingSubscriptionID string     `json:"billing_subscription_id,omitempty"`
	BillingCustomerID     string     `json:"billing_customer_id,omitempty"`
	Status                Status     `json:"status"`
	CurrentPeriodEnd      *time.Time `json:"current_period_end,omitempty"`
	LastReconciledEventID string     `json:"last_reconciled_event_id,omitempty"`
	// LastEventAt is the provider-declared ordering key (event "created") of the
	// last applied event, tracked across subscriptions.
	LastEventAt       int64      `json:"last_event_at,omitempty"`
	AppliedEventIDs   []string   `json:"applied_event_ids,omitempty"`
	Revision          int64      `json:"revision"`
	PendingOptimistic bool       `json:"pending_optimistic"`
	CanceledAt        *time.Time `json:"canceled_at,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// NewEntitlement returns the implicit state of a user who never subscribed.
func NewEntitlement(userID uuid.UUID) Entitlement {
	return Entitlement{
		UserID:   userID,
		PlanTier: PlanTierFree,
		Status:   StatusNone,
	}
}

// IsPersisted reports whether the row has been written at least once.
func (e Entitlement) IsPersisted() bool {
	return e.Revision > 0
}

// HasApplied reports whether eventID was already applied to this row.
func (e Entitlement) HasApplied(eventID string) bool {
	if eventID == "" {
		return false
	}
	if e.LastReconciledEventID == eventID {
		return true
	}
	for _, id := range e.AppliedEventIDs {
		if id == eventID {
			return true
		}
	}
	return false
}

// Clone returns a deep copy so transitions never alias the caller's slices or pointers.
func (e Entitlement) Clone() Entitlement {
	cp := e
	if e.AppliedEventIDs != nil {
		cp.AppliedEventIDs = append([]string(nil), e.AppliedEventIDs...)
	}
	if e.CurrentPeriodEnd != nil {
		t := *e.CurrentPeriodEnd
		cp.CurrentPeriodEnd = &t
	}
	if e.CanceledAt != nil {
		t := *e.CanceledAt
		cp.CanceledAt = &t
	}
	return cp
}

// RecordEvent marks eventID as applied and advances the ordering key.
func (e *Entitlement) RecordEvent(eventID string, sequence int64) {
	e.LastReconciledEventID = eventID
	if sequence > e.LastEventAt {
		e.LastEventAt = sequence
	}
	e.AppliedEventIDs = append(e.AppliedEventIDs, eventID)
	if n := len(e.AppliedEventIDs); n > maxAppliedEventIDs {
		e.AppliedEventIDs = append([]string(nil), e.AppliedEventIDs[n-maxAppliedEventIDs:]...)
	}
}

// Validate checks the tier/status/subscription invariants.
func (e Entitlement) Validate() error {
	if e.UserID == uuid.Nil {
		return fmt.Errorf("entitlement: user id is required")
	}
	if !e.Status.Valid() {
		return fmt.Errorf("entitlement: unknown status %q", e.Status)
	}
	if !e.PlanTier.Valid() {
		return fmt.Errorf("entitlement: unknown plan tier %q", e.PlanTier)
	}
	if (e.PlanTier == PlanTierFree) != e.Status.IsFree() {
		return fmt.Errorf("entitlement: tier %s is inconsistent with status %s", e.PlanTier, e.Status)
	}
	if (e.BillingSubscriptionID != "") != (e.Status != StatusNone) {
		return fmt.Errorf("entitlement: subscription id presence is inconsistent with status %s", e.Status)
	}
	return nil
}

// DueAt is the deadline the sweeper orders rows by: the period end of a
// scheduled cancellation, otherwise the cancellation time (or last update).
// A scheduled cancellation without a period end is never due.
func (e Entitlement) DueAt() (time.Time, bool) {
	if e.Status == StatusCancelAtPeriodEnd {
		if e.CurrentPeriodEnd == nil {
			return time.Time{}, false
		}
		return *e.CurrentPeriodEnd, true
	}
	if e.CanceledAt != nil {
		return *e.CanceledAt, true
	}
	return e.UpdatedAt, true
}

// SameState reports whether two rows are identical in every field a transition can change.
func (e Entitlement) SameState(o Entitlement) bool {
	return e.PlanTier == o.PlanTier &&
		e.Status == o.Status &&
		e.BillingSubscriptionID == o.BillingSubscriptionID &&
		e.BillingCustomerID == o.BillingCustomerID &&
		e.PendingOptimistic == o.PendingOptimistic &&
		e.LastReconciledEventID == o.LastReconciledEventID &&
		e.LastEventAt == o.LastEventAt &&
		timeEqual(e.CurrentPeriodEnd, o.CurrentPeriodEnd) &&
		timeEqual(e.CanceledAt, o.CanceledAt)
}

func timeEqual(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}
