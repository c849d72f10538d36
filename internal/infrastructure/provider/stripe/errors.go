package stripe

import (
	"context"
	"errors"
	"net/http"

	stripego "github.com/stripe/stripe-go/v79"
	domainErrors "github.com/wekeepgrowing/entitlement-service/internal/domain/errors"
)

// classify turns an SDK error into a *ProviderError: transport failures,
// timeouts, 5xx and 429 are unavailable; 404 and resource_missing are not
// found; any other 4xx is a rejection whose message may be shown to the user.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}

	var stripeErr *stripego.Error
	if !errors.As(err, &stripeErr) {
		return &domainErrors.ProviderError{
			Kind: domainErrors.ErrProviderUnavailable,
			Op:   op,
			Err:  err,
		}
	}

	pe := &domainErrors.ProviderError{
		Op:         op,
		StatusCode: stripeErr.HTTPStatusCode,
		Code:       string(stripeErr.Code),
		Message:    stripeErr.Msg,
		Err:        err,
	}
	switch {
	case stripeErr.Code == stripego.ErrorCodeResourceMissing || stripeErr.HTTPStatusCode == http.StatusNotFound:
		pe.Kind = domainErrors.ErrSubscriptionNotFound
	case stripeErr.HTTPStatusCode == http.StatusTooManyRequests,
		stripeErr.HTTPStatusCode >= http.StatusInternalServerError,
		stripeErr.HTTPStatusCode == 0:
		pe.Kind = domainErrors.ErrProviderUnavailable
	default:
		pe.Kind = domainErrors.ErrProviderRejected
	}
	return pe
}

func resultLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, domainErrors.ErrSubscriptionNotFound):
		return "not_found"
	case errors.Is(err, domainErrors.ErrProviderRejected):
		return "rejected"
	default:
		return "unavailable"
	}
}
