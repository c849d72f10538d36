package stripe

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	stripego "github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/client"
	"github.com/wekeepgrowing/entitlement-service/internal/domain/entity"
	"github.com/wekeepgrowing/entitlement-service/internal/domain/provider"
	"github.com/wekeepgrowing/entitlement-service/internal/infrastructure/metrics"
	"go.uber.org/zap"
)

// Config holds the Stripe client settings
type Config struct {
	SecretKey      string
	WebhookSecret  string
	RequestTimeout time.Duration
	// BaseURL overrides the API endpoint, used to point the client at a fake.
	BaseURL    string
	HTTPClient *http.Client
}

// Client implements provider.BillingProvider and provider.WebhookParser on
// top of an explicitly constructed stripe-go client. The SDK's own network
// retries are disabled: callers decide whether to retry.
type Client struct {
	api           *client.API
	webhookSecret string
	timeout       time.Duration
	logger        *zap.Logger
}

var (
	_ provider.BillingProvider = (*Client)(nil)
	_ provider.WebhookParser   = (*Client)(nil)
)

// NewClient creates a Stripe billing provider
func NewClient(cfg Config, logger *zap.Logger) *Client {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 80 * time.Second}
	}
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	backendConfig := &stripego.BackendConfig{
		HTTPClient:        httpClient,
		MaxNetworkRetries: stripego.Int64(0),
		LeveledLogger:     newLeveledLogger(logger),
		EnableTelemetry:   stripego.Bool(false),
	}
	if cfg.BaseURL != "" {
		backendConfig.URL = stripego.String(cfg.BaseURL)
	}
	backend := stripego.GetBackendWithConfig(stripego.APIBackend, backendConfig)

	return &Client{
		api:           client.New(cfg.SecretKey, &stripego.Backends{API: backend, Connect: backend, Uploads: backend}),
		webhookSecret: cfg.WebhookSecret,
		timeout:       timeout,
		logger:        logger,
	}
}

// Name returns the provider name
func (c *Client) Name() string {
	return string(provider.ProviderTypeStripe)
}

func (c *Client) CreateCheckoutSession(ctx context.Context, req provider.CheckoutRequest) (*entity.CheckoutSession, error) {
	ctx, done := c.begin(ctx, "create_checkout_session")
	userID := req.UserID.String()

	params := &stripego.CheckoutSessionParams{
		Mode: stripego.String(string(stripego.CheckoutSessionModeSubscription)),
		LineItems: []*stripego.CheckoutSessionLineItemParams{
			{
				Price:    stripego.String(req.PriceID),
				Quantity: stripego.Int64(1),
			},
		},
		SuccessURL:        stripego.String(req.SuccessURL),
		CancelURL:         stripego.String(req.CancelURL),
		ClientReferenceID: stripego.String(userID),
		SubscriptionData: &stripego.CheckoutSessionSubscriptionDataParams{
			Metadata: map[string]string{
				metadataUserID: userID,
				metadataPlan:   req.PlanCode,
			},
		},
	}
	params.Context = ctx
	params.AddMetadata(metadataUserID, userID)
	if req.CustomerID != "" {
		params.Customer = stripego.String(req.CustomerID)
	} else if req.Email != "" {
		params.CustomerEmail = stripego.String(req.Email)
	}

	s, err := c.api.CheckoutSessions.New(params)
	if err != nil {
		return nil, done(classify("create_checkout_session", err))
	}
	done(nil)

	c.logger.Info("Checkout session created",
		zap.String("session_id", s.ID),
		zap.String("user_id", userID),
		zap.String("price_id", req.PriceID))

	return &entity.CheckoutSession{ID: s.ID, URL: s.URL}, nil
}

func (c *Client) CreatePortalSession(ctx context.Context, customerID, returnURL string) (string, error) {
	ctx, done := c.begin(ctx, "create_portal_session")

	params := &stripego.BillingPortalSessionParams{
		Customer:  stripego.String(customerID),
		ReturnURL: stripego.String(returnURL),
	}
	params.Context = ctx

	ps, err := c.api.BillingPortalSessions.New(params)
	if err != nil {
		return "", done(classify("create_portal_session", err))
	}
	done(nil)
	return ps.URL, nil
}

func (c *Client) CancelSubscription(ctx context.Context, subscriptionID string) (*entity.ExternalSubscription, error) {
	return c.updateCancelAtPeriodEnd(ctx, "cancel_subscription", subscriptionID, true)
}

func (c *Client) ResumeSubscription(ctx context.Context, subscriptionID string) (*entity.ExternalSubscription, error) {
	return c.updateCancelAtPeriodEnd(ctx, "resume_subscription", subscriptionID, false)
}

func (c *Client) updateCancelAtPeriodEnd(ctx context.Context, op, subscriptionID string, cancel bool) (*entity.ExternalSubscription, error) {
	ctx, done := c.begin(ctx, op)

	params := &stripego.SubscriptionParams{
		CancelAtPeriodEnd: stripego.Bool(cancel),
	}
	params.Context = ctx

	sub, err := c.api.Subscriptions.Update(subscriptionID, params)
	if err != nil {
		return nil, done(classify(op, err))
	}
	done(nil)

	c.logger.Info("Subscription cancel_at_period_end updated",
		zap.String("subscription_id", subscriptionID),
		zap.Bool("cancel_at_period_end", sub.CancelAtPeriodEnd),
		zap.String("status", string(sub.Status)))

	return toExternalSubscription(sub), nil
}

func (c *Client) RetrieveSubscription(ctx context.Context, subscriptionID string) (*entity.ExternalSubscription, error) {
	ctx, done := c.begin(ctx, "retrieve_subscription")

	params := &stripego.SubscriptionParams{}
	params.Context = ctx

	sub, err := c.api.Subscriptions.Get(subscriptionID, params)
	if err != nil {
		return nil, done(classify("retrieve_subscription", err))
	}
	done(nil)
	return toExternalSubscription(sub), nil
}

func (c *Client) ListPrices(ctx context.Context) ([]entity.Price, error) {
	ctx, done := c.begin(ctx, "list_prices")

	params := &stripego.PriceListParams{
		Active: stripego.Bool(true),
		Type:   stripego.String(string(stripego.PriceTypeRecurring)),
	}
	params.Context = ctx
	params.Limit = stripego.Int64(100)

	var prices []entity.Price
	iter := c.api.Prices.List(params)
	for iter.Next() {
		prices = append(prices, toPrice(iter.Price()))
	}
	if err := iter.Err(); err != nil {
		return nil, done(classify("list_prices", err))
	}
	done(nil)
	return prices, nil
}

// begin bounds the call with the request timeout and returns a finisher that
// records metrics and passes the error through.
func (c *Client) begin(ctx context.Context, op string) (context.Context, func(error) error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	start := time.Now()
	return ctx, func(err error) error {
		cancel()
		metrics.ProviderDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
		metrics.ProviderRequestsTotal.WithLabelValues(op, resultLabel(err)).Inc()
		if err != nil {
			c.logger.Warn("Billing provider request failed",
				zap.String("operation", op),
				zap.Error(err))
		}
		return err
	}
}

func toExternalSubscription(sub *stripego.Subscription) *entity.ExternalSubscription {
	out := &entity.ExternalSubscription{
		ID:                sub.ID,
		Status:            string(sub.Status),
		CancelAtPeriodEnd: sub.CancelAtPeriodEnd,
		Metadata:          sub.Metadata,
	}
	if sub.Customer != nil {
		out.CustomerID = sub.Customer.ID
	}
	if sub.CurrentPeriodEnd > 0 {
		out.CurrentPeriodEnd = time.Unix(sub.CurrentPeriodEnd, 0).UTC()
	}
	if sub.CanceledAt > 0 {
		t := time.Unix(sub.CanceledAt, 0).UTC()
		out.CanceledAt = &t
	}
	if sub.Items != nil {
		for _, item := range sub.Items.Data {
			if item == nil || item.Price == nil {
				continue
			}
			out.PriceID = item.Price.ID
			break
		}
	}
	return out
}

// zeroDecimalCurrencies are charged in whole units.
var zeroDecimalCurrencies = map[string]bool{
	"bif": true, "clp": true, "djf": true, "gnf": true, "jpy": true, "kmf": true,
	"krw": true, "mga": true, "pyg": true, "rwf": true, "ugx": true, "vnd": true,
	"vuv": true, "xaf": true, "xof": true, "xpf": true,
}

// minorToAmount converts a provider amount in minor units to a decimal amount.
func minorToAmount(amount int64, currency string) decimal.Decimal {
	if zeroDecimalCurrencies[strings.ToLower(currency)] {
		return decimal.NewFromInt(amount)
	}
	return decimal.New(amount, -2)
}

func toPrice(p *stripego.Price) entity.Price {
	out := entity.Price{
		ID:       p.ID,
		Nickname: p.Nickname,
		Currency: strings.ToUpper(string(p.Currency)),
		Amount:   minorToAmount(p.UnitAmount, string(p.Currency)),
		Active:   p.Active,
	}
	if p.Product != nil {
		out.ProductID = p.Product.ID
	}
	if p.Recurring != nil {
		out.Interval = string(p.Recurring.Interval)
		out.IntervalCount = p.Recurring.IntervalCount
	}
	return out
}
