package errors

import "errors"

var (
	// ErrNoActiveSubscription indicates the entitlement is not ACTIVE, so it cannot be canceled
	ErrNoActiveSubscription = errors.New("no active subscription found")

	// ErrNoPendingCancellation indicates the entitlement is not scheduled to cancel, so it cannot be reactivated
	ErrNoPendingCancellation = errors.New("subscription is not pending cancellation")

	// ErrAlreadySubscribed indicates a checkout was requested while a paid subscription is live
	ErrAlreadySubscribed = errors.New("user already has a live subscription")

	// ErrInvalidTransition indicates a transition would leave the entitlement outside its invariants
	ErrInvalidTransition = errors.New("invalid entitlement transition")

	// ErrSubscriptionNotFound indicates the subscription no longer exists at the billing provider
	ErrSubscriptionNotFound = errors.New("subscription not found")

	// ErrNoBillingCustomer indicates the user has never been linked to a provider customer
	ErrNoBillingCustomer = errors.New("no billing customer for user")

	// ErrUnknownPlan indicates the requested plan or price is not in the catalog
	ErrUnknownPlan = errors.New("unknown plan")
)
