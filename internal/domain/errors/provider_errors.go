package errors

import (
	"errors"
	"fmt"
)

var (
	// ErrProviderUnavailable is a transient provider failure (network, timeout, 5xx, rate limit).
	// Callers may retry with backoff; the service never retries on its own.
	ErrProviderUnavailable = errors.New("billing provider unavailable")

	// ErrProviderRejected is a business-rule rejection from the provider (4xx)
	ErrProviderRejected = errors.New("billing provider rejected the request")
)

// ProviderError carries the classification and raw details of a failed provider call.
// Kind is one of ErrProviderUnavailable, ErrProviderRejected or ErrSubscriptionNotFound.
type ProviderError struct {
	Kind       error
	Op         string
	StatusCode int
	Code       string
	Message    string
	Err        error
}

func (e *ProviderError) Error() string {
	msg := fmt.Sprintf("%s: %v", e.Op, e.Kind)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (status %d)", e.StatusCode)
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	return msg
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// Is matches the error's classification so errors.Is(err, ErrProviderUnavailable) works.
func (e *ProviderError) Is(target error) bool {
	return e.Kind == target
}

// UserMessage returns the provider's message when it is safe to show, or a generic one.
func (e *ProviderError) UserMessage() string {
	if errors.Is(e.Kind, ErrProviderRejected) && e.Message != "" {
		return e.Message
	}
	return e.Kind.Error()
}
