package entity

import "time"

// EventKind is a provider event normalized to what the lifecycle understands.
type EventKind string

const (
	EventCheckoutCompleted   EventKind = "checkout_completed"
	EventSubscriptionCreated EventKind = "subscription_created"
	EventSubscriptionUpdated EventKind = "subscription_updated"
	EventSubscriptionDeleted EventKind = "subscription_deleted"
	EventPaymentFailed       EventKind = "payment_failed"
	EventPaymentSucceeded    EventKind = "payment_succeeded"
	EventUnhandled           EventKind = "unhandled"
)

// BillingEvent is a verified inbound provider event. It is never persisted
// beyond the dedup ledger.
type BillingEvent struct {
	ID             string
	Type           string
	Kind           EventKind
	SubscriptionID string
	CustomerID     string
	OccurredAt     time.Time
	// Sequence is the provider-declared ordering key.
	Sequence int64
	// Subscription is set when the event carries a subscription snapshot.
	Subscription *ExternalSubscription
	// PeriodEnd is the billed period end carried by invoice events.
	PeriodEnd *time.Time
	// UserRef is the user id the provider echoes back (metadata or client reference).
	UserRef string
	Payload []byte
}

// Handled reports whether the lifecycle has a transition for this event.
func (e BillingEvent) Handled() bool {
	return e.Kind != "" && e.Kind != EventUnhandled
}

// EntitlementChanged is published after every committed transition.
type EntitlementChanged struct {
	MessageID  string      `json:"message_id"`
	UserID     string      `json:"user_id"`
	Trigger    string      `json:"trigger"`
	EventID    string      `json:"event_id,omitempty"`
	Revision   int64       `json:"revision"`
	Before     Entitlement `json:"before"`
	After      Entitlement `json:"after"`
	OccurredAt time.Time   `json:"occurred_at"`
}
