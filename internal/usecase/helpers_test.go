package usecase_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/wekeepgrowing/entitlement-service/internal/adapter/repository"
	"github.com/wekeepgrowing/entitlement-service/internal/catalog"
	"github.com/wekeepgrowing/entitlement-service/internal/domain/entity"
	"github.com/wekeepgrowing/entitlement-service/internal/domain/provider"
	"github.com/wekeepgrowing/entitlement-service/internal/usecase"
)

const testPlans = `
default_paid_tier: pro
tiers:
  free:
    features: [budgets]
  pro:
    inherits: free
    features: [bank_sync]
  enterprise:
    inherits: pro
    features: [api_access]
plans:
  - code: pro_monthly
    price_id: price_pro
    tier: pro
    display_name: Pro
    interval: month
    amount: "9.99"
    currency: usd
  - code: enterprise_monthly
    price_id: price_ent
    tier: enterprise
    display_name: Enterprise
    interval: month
    amount: "49.00"
    currency: usd
`

var base = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// MockBillingProvider is a mock implementation of provider.BillingProvider
type MockBillingProvider struct {
	mock.Mock
}

func (m *MockBillingProvider) CreateCheckoutSession(ctx context.Context, req provider.CheckoutRequest) (*entity.CheckoutSession, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entity.CheckoutSession), args.Error(1)
}

func (m *MockBillingProvider) CreatePortalSession(ctx context.Context, customerID, returnURL string) (string, error) {
	args := m.Called(ctx, customerID, returnURL)
	return args.String(0), args.Error(1)
}

func (m *MockBillingProvider) CancelSubscription(ctx context.Context, subscriptionID string) (*entity.ExternalSubscription, error) {
	return m.subscription(m.Called(ctx, subscriptionID))
}

func (m *MockBillingProvider) ResumeSubscription(ctx context.Context, subscriptionID string) (*entity.ExternalSubscription, error) {
	return m.subscription(m.Called(ctx, subscriptionID))
}

func (m *MockBillingProvider) RetrieveSubscription(ctx context.Context, subscriptionID string) (*entity.ExternalSubscription, error) {
	return m.subscription(m.Called(ctx, subscriptionID))
}

func (m *MockBillingProvider) ListPrices(ctx context.Context) ([]entity.Price, error) {
	args := m.Called(ctx)
	return args.Get(0).([]entity.Price), args.Error(1)
}

func (m *MockBillingProvider) Name() string {
	return "mock"
}

func (m *MockBillingProvider) subscription(args mock.Arguments) (*entity.ExternalSubscription, error) {
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entity.ExternalSubscription), args.Error(1)
}

// MockWebhookParser returns canned events keyed by payload
type MockWebhookParser struct {
	mock.Mock
}

func (m *MockWebhookParser) ParseWebhook(payload []byte, signatureHeader string) (entity.BillingEvent, error) {
	args := m.Called(string(payload), signatureHeader)
	return args.Get(0).(entity.BillingEvent), args.Error(1)
}

type recordingPublisher struct {
	mu       sync.Mutex
	messages []entity.EntitlementChanged
	err      error
}

func (p *recordingPublisher) Publish(_ context.Context, msg entity.EntitlementChanged) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.messages = append(p.messages, msg)
	return p.err
}

func (p *recordingPublisher) all() []entity.EntitlementChanged {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]entity.EntitlementChanged(nil), p.messages...)
}

type fixture struct {
	repo      *repository.MemoryEntitlementRepository
	ledger    *repository.MemoryEventLedger
	billing   *MockBillingProvider
	parser    *MockWebhookParser
	publisher *recordingPublisher
	catalog   *catalog.Catalog
	service   *usecase.EntitlementService
	ingestor  *usecase.WebhookIngestor
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	plans, err := catalog.Parse([]byte(testPlans))
	require.NoError(t, err)

	f := &fixture{
		repo:      repository.NewMemoryEntitlementRepository(),
		ledger:    repository.NewMemoryEventLedger(),
		billing:   new(MockBillingProvider),
		parser:    new(MockWebhookParser),
		publisher: &recordingPublisher{},
		catalog:   plans,
	}
	f.service = usecase.NewEntitlementService(f.repo, f.billing, plans, f.publisher, zap.NewNop(), usecase.EntitlementServiceConfig{
		MaxRetries:      3,
		Retention:       24 * time.Hour,
		SuccessURL:      "https://app.example.com/billing/success",
		CancelURL:       "https://app.example.com/billing/cancel",
		PortalReturnURL: "https://app.example.com/billing",
	}).WithClock(func() time.Time { return base })
	f.ingestor = usecase.NewWebhookIngestor(f.parser, f.billing, f.ledger, f.repo, f.service, zap.NewNop())
	return f
}

func subscriptionEvent(id string, kind entity.EventKind, seq int64, subID, status string, cancelAtPeriodEnd bool) entity.BillingEvent {
	return entity.BillingEvent{
		ID:             id,
		Type:           "customer.subscription.updated",
		Kind:           kind,
		SubscriptionID: subID,
		CustomerID:     "cus_1",
		Sequence:       seq,
		OccurredAt:     base.Add(time.Duration(seq) * time.Second),
		Subscription: &entity.ExternalSubscription{
			ID:                subID,
			CustomerID:        "cus_1",
			Status:            status,
			PriceID:           "price_pro",
			CancelAtPeriodEnd: cancelAtPeriodEnd,
			CurrentPeriodEnd:  base.Add(30 * 24 * time.Hour),
		},
	}
}

func invoiceEvent(id string, kind entity.EventKind, seq int64, subID string) entity.BillingEvent {
	end := base.Add(60 * 24 * time.Hour)
	return entity.BillingEvent{
		ID:             id,
		Type:           "invoice.paid",
		Kind:           kind,
		SubscriptionID: subID,
		CustomerID:     "cus_1",
		Sequence:       seq,
		OccurredAt:     base.Add(time.Duration(seq) * time.Second),
		PeriodEnd:      &end,
	}
}

// seedActive gives userID a confirmed active pro subscription sub_1.
func seedActive(t *testing.T, f *fixture, userID uuid.UUID) entity.Entitlement {
	t.Helper()
	res, err := f.service.ApplyWebhookEvent(context.Background(), userID,
		subscriptionEvent("evt_seed", entity.EventSubscriptionCreated, 100, "sub_1", "active", false))
	require.NoError(t, err)
	require.True(t, res.Changed)
	return res.Entitlement
}
