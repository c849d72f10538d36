package provider

import (
	"context"

	"github.com/google/uuid"
	"github.com/wekeepgrowing/entitlement-service/internal/domain/entity"
)

// BillingProvider is the outbound contract to the subscription-billing system.
// Failures are *errors.ProviderError classified as unavailable, rejected or not found.
type BillingProvider interface {
	// CreateCheckoutSession starts a hosted subscription checkout
	CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (*entity.CheckoutSession, error)

	// CreatePortalSession returns a self-service billing portal URL
	CreatePortalSession(ctx context.Context, customerID, returnURL string) (string, error)

	// CancelSubscription schedules cancellation at the end of the current period
	CancelSubscription(ctx context.Context, subscriptionID string) (*entity.ExternalSubscription, error)

	// ResumeSubscription clears a scheduled cancellation
	ResumeSubscription(ctx context.Context, subscriptionID string) (*entity.ExternalSubscription, error)

	// RetrieveSubscription reads the provider's current view
	RetrieveSubscription(ctx context.Context, subscriptionID string) (*entity.ExternalSubscription, error)

	// ListPrices returns active recurring prices
	ListPrices(ctx context.Context) ([]entity.Price, error)

	// Name returns the provider name
	Name() string
}

// WebhookParser verifies and decodes inbound provider events.
type WebhookParser interface {
	// ParseWebhook returns errors.ErrInvalidSignature when verification fails
	ParseWebhook(payload []byte, signatureHeader string) (entity.BillingEvent, error)
}

// CheckoutRequest represents a provider-agnostic subscription checkout request
type CheckoutRequest struct {
	UserID     uuid.UUID `json:"user_id"`
	Email      string    `json:"email,omitempty"`
	CustomerID string    `json:"customer_id,omitempty"`
	PriceID    string    `json:"price_id"`
	PlanCode   string    `json:"plan_code,omitempty"`
	SuccessURL string    `json:"success_url"`
	CancelURL  string    `json:"cancel_url"`
}

// ProviderType represents the type of billing provider
type ProviderType string

const (
	ProviderTypeStripe ProviderType = "stripe"
)
