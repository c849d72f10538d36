package errors

import "errors"

var (
	// ErrEntitlementNotFound indicates no entitlement row exists for the user
	ErrEntitlementNotFound = errors.New("entitlement not found")

	// ErrConcurrentModification indicates the row changed between read and write; the caller retries
	ErrConcurrentModification = errors.New("entitlement was modified concurrently")

	// ErrInvalidSignature indicates a webhook payload failed signature verification
	ErrInvalidSignature = errors.New("invalid webhook signature")
)
