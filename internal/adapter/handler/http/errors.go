package http

import (
	"errors"

	"github.com/labstack/echo/v4"
	domainErrors "github.com/wekeepgrowing/entitlement-service/internal/domain/errors"
	pkgErrors "github.com/wekeepgrowing/entitlement-service/pkg/errors"
	"go.uber.org/zap"
)

// Client-facing reasons returned in the "code" field.
const (
	ReasonNoActiveSubscription   = "NO_ACTIVE_SUBSCRIPTION"
	ReasonNoPendingCancellation  = "NO_PENDING_CANCELLATION"
	ReasonAlreadySubscribed      = "ALREADY_SUBSCRIBED"
	ReasonInvalidTransition      = "INVALID_TRANSITION"
	ReasonConcurrentModification = "CONCURRENT_MODIFICATION"
	ReasonSubscriptionNotFound   = "SUBSCRIPTION_NOT_FOUND"
	ReasonNoBillingCustomer      = "NO_BILLING_CUSTOMER"
	ReasonProviderRejected       = "PROVIDER_REJECTED"
	ReasonProviderUnavailable    = "PROVIDER_UNAVAILABLE"
	ReasonUnknownPlan            = "UNKNOWN_PLAN"
	ReasonInvalidRequest         = "INVALID_REQUEST"
	ReasonInvalidSignature       = "INVALID_SIGNATURE"
	ReasonEntitlementNotFound    = "ENTITLEMENT_NOT_FOUND"
)

// ToAppError translates a domain error into its transport representation.
func ToAppError(err error) *pkgErrors.AppError {
	var appErr *pkgErrors.AppError
	if errors.As(err, &appErr) {
		return appErr
	}

	conflict := func(reason, msg string) *pkgErrors.AppError {
		return pkgErrors.NewAppError(pkgErrors.ErrConflict, msg, err).WithReason(reason)
	}

	switch {
	case errors.Is(err, domainErrors.ErrNoActiveSubscription):
		return conflict(ReasonNoActiveSubscription, "No active subscription to cancel")
	case errors.Is(err, domainErrors.ErrNoPendingCancellation):
		return conflict(ReasonNoPendingCancellation, "Subscription is not scheduled to cancel")
	case errors.Is(err, domainErrors.ErrAlreadySubscribed):
		return conflict(ReasonAlreadySubscribed, "User already has a live subscription")
	case errors.Is(err, domainErrors.ErrInvalidTransition):
		return conflict(ReasonInvalidTransition, "Entitlement transition is not allowed")
	case errors.Is(err, domainErrors.ErrConcurrentModification):
		return conflict(ReasonConcurrentModification, "Entitlement was modified concurrently, please retry")
	case errors.Is(err, domainErrors.ErrSubscriptionNotFound):
		return pkgErrors.NewAppError(pkgErrors.ErrNotFound, "Subscription no longer exists at the billing provider", err).
			WithReason(ReasonSubscriptionNotFound)
	case errors.Is(err, domainErrors.ErrNoBillingCustomer):
		return pkgErrors.NewAppError(pkgErrors.ErrNotFound, "No billing account for user", err).
			WithReason(ReasonNoBillingCustomer)
	case errors.Is(err, domainErrors.ErrEntitlementNotFound):
		return pkgErrors.NewAppError(pkgErrors.ErrNotFound, "Entitlement not found", err).
			WithReason(ReasonEntitlementNotFound)
	case errors.Is(err, domainErrors.ErrProviderRejected):
		msg := "Billing provider rejected the request"
		var pe *domainErrors.ProviderError
		if errors.As(err, &pe) {
			msg = pe.UserMessage()
		}
		return pkgErrors.NewAppError(pkgErrors.ErrUnprocessable, msg, err).WithReason(ReasonProviderRejected)
	case errors.Is(err, domainErrors.ErrProviderUnavailable):
		return pkgErrors.NewAppError(pkgErrors.ErrUnavailable, "Billing provider is temporarily unavailable", err).
			WithReason(ReasonProviderUnavailable)
	case errors.Is(err, domainErrors.ErrUnknownPlan):
		return pkgErrors.NewAppError(pkgErrors.ErrInvalidArgument, "Unknown plan", err).WithReason(ReasonUnknownPlan)
	case errors.Is(err, domainErrors.ErrInvalidSignature):
		return pkgErrors.NewAppError(pkgErrors.ErrInvalidArgument, "Invalid webhook signature", err).
			WithReason(ReasonInvalidSignature)
	default:
		return pkgErrors.NewAppError(pkgErrors.ErrInternal, "Internal server error", err)
	}
}

// invalidRequest wraps a bind or validation failure.
func invalidRequest(err error) *pkgErrors.AppError {
	return pkgErrors.NewAppError(pkgErrors.ErrInvalidArgument, "Invalid request: "+err.Error(), err).
		WithReason(ReasonInvalidRequest)
}

// respondError logs err and writes the {"error","code"} body.
func respondError(c echo.Context, logger *zap.Logger, err error, msg string, fields ...zap.Field) error {
	appErr := ToAppError(err)
	fields = append(fields,
		zap.String("path", c.Request().URL.Path),
		zap.String("method", c.Request().Method))
	pkgErrors.LogError(logger, appErr, msg, fields...)
	return pkgErrors.WriteJSON(c, appErr)
}
