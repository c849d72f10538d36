package provider

import (
	"fmt"

	"github.com/wekeepgrowing/entitlement-service/internal/config"
	"github.com/wekeepgrowing/entitlement-service/internal/domain/provider"
	stripeProvider "github.com/wekeepgrowing/entitlement-service/internal/infrastructure/provider/stripe"
	"go.uber.org/zap"
)

// Billing is a provider client that also verifies its own webhooks.
type Billing interface {
	provider.BillingProvider
	provider.WebhookParser
}

// Factory creates billing providers from configuration
type Factory struct {
	config config.BillingConfig
	logger *zap.Logger
}

// NewFactory creates a new provider factory
func NewFactory(cfg config.BillingConfig, logger *zap.Logger) *Factory {
	return &Factory{
		config: cfg,
		logger: logger,
	}
}

// Create returns the configured billing provider
func (f *Factory) Create() (Billing, error) {
	switch provider.ProviderType(f.config.Provider) {
	case provider.ProviderTypeStripe:
		return f.createStripeProvider()
	default:
		return nil, fmt.Errorf("unsupported billing provider: %s", f.config.Provider)
	}
}

// createStripeProvider creates a new Stripe provider instance
func (f *Factory) createStripeProvider() (Billing, error) {
	if f.config.SecretKey == "" {
		return nil, fmt.Errorf("Stripe secret key not configured")
	}
	if f.config.WebhookSecret == "" {
		return nil, fmt.Errorf("Stripe webhook secret not configured")
	}

	return stripeProvider.NewClient(stripeProvider.Config{
		SecretKey:      f.config.SecretKey,
		WebhookSecret:  f.config.WebhookSecret,
		RequestTimeout: f.config.RequestTimeout,
		BaseURL:        f.config.BaseURL,
	}, f.logger), nil
}
