package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/wekeepgrowing/entitlement-service/internal/adapter/repository"
	"github.com/wekeepgrowing/entitlement-service/internal/catalog"
	"github.com/wekeepgrowing/entitlement-service/internal/domain/entity"
	domainErrors "github.com/wekeepgrowing/entitlement-service/internal/domain/errors"
	"github.com/wekeepgrowing/entitlement-service/internal/domain/provider"
	"github.com/wekeepgrowing/entitlement-service/internal/middleware/auth"
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
plans:
  - code: pro_monthly
    price_id: price_pro
    tier: pro
    display_name: Pro
    interval: month
    amount: "9.99"
    currency: usd
    sort_order: 1
  - code: pro_yearly
    price_id: price_pro_year
    tier: pro
    display_name: Pro (yearly)
    interval: year
    amount: "99.00"
    currency: usd
    sort_order: 2
`

var base = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type mockBilling struct {
	mock.Mock
}

func (m *mockBilling) CreateCheckoutSession(ctx context.Context, req provider.CheckoutRequest) (*entity.CheckoutSession, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entity.CheckoutSession), args.Error(1)
}

func (m *mockBilling) CreatePortalSession(ctx context.Context, customerID, returnURL string) (string, error) {
	args := m.Called(ctx, customerID, returnURL)
	return args.String(0), args.Error(1)
}

func (m *mockBilling) CancelSubscription(ctx context.Context, subscriptionID string) (*entity.ExternalSubscription, error) {
	return m.subscription(m.Called(ctx, subscriptionID))
}

func (m *mockBilling) ResumeSubscription(ctx context.Context, subscriptionID string) (*entity.ExternalSubscription, error) {
	return m.subscription(m.Called(ctx, subscriptionID))
}

func (m *mockBilling) RetrieveSubscription(ctx context.Context, subscriptionID string) (*entity.ExternalSubscription, error) {
	return m.subscription(m.Called(ctx, subscriptionID))
}

func (m *mockBilling) ListPrices(ctx context.Context) ([]entity.Price, error) {
	args := m.Called(ctx)
	return args.Get(0).([]entity.Price), args.Error(1)
}

func (m *mockBilling) Name() string { return "mock" }

func (m *mockBilling) subscription(args mock.Arguments) (*entity.ExternalSubscription, error) {
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entity.ExternalSubscription), args.Error(1)
}

type mockParser struct {
	mock.Mock
}

func (m *mockParser) ParseWebhook(payload []byte, signatureHeader string) (entity.BillingEvent, error) {
	args := m.Called(string(payload), signatureHeader)
	return args.Get(0).(entity.BillingEvent), args.Error(1)
}

type nopPublisher struct{}

func (nopPublisher) Publish(context.Context, entity.EntitlementChanged) error { return nil }

type testServer struct {
	e       *echo.Echo
	repo    *repository.MemoryEntitlementRepository
	billing *mockBilling
	parser  *mockParser
	service *usecase.EntitlementService
}

const testUserHeader = "X-Test-User"

// newTestServer wires the handlers the way the HTTP server does, with the
// JWT middleware replaced by a header carrying the user id.
func newTestServer(t *testing.T) *testServer {
	t.Helper()
	plans, err := catalog.Parse([]byte(testPlans))
	require.NoError(t, err)

	ts := &testServer{
		repo:    repository.NewMemoryEntitlementRepository(),
		billing: new(mockBilling),
		parser:  new(mockParser),
	}
	logger := zap.NewNop()
	clock := func() time.Time { return base }

	ts.service = usecase.NewEntitlementService(ts.repo, ts.billing, plans, nopPublisher{}, logger, usecase.EntitlementServiceConfig{
		MaxRetries:      3,
		SuccessURL:      "https://app.example.com/billing/success",
		CancelURL:       "https://app.example.com/billing/cancel",
		PortalReturnURL: "https://app.example.com/billing",
	}).WithClock(clock)
	gate := usecase.NewAccessGate(ts.repo, plans, logger, usecase.AccessGateConfig{AllowPastDue: true}).WithClock(clock)
	ingestor := usecase.NewWebhookIngestor(ts.parser, ts.billing, repository.NewMemoryEventLedger(), ts.repo, ts.service, logger)

	ts.e = echo.New()
	ts.e.Validator = NewRequestValidator()

	ts.e.POST("/webhook", NewWebhookHandler(logger, ingestor).HandleWebhook)
	ts.e.GET("/api/v1/plans", NewPlansHandler(logger, plans).GetPlans)

	v1 := ts.e.Group("/api/v1", injectUser)
	entitlements := NewEntitlementHandler(logger, ts.service, gate, plans)
	v1.GET("/entitlements/me", entitlements.GetMine)
	v1.GET("/entitlements/me/features/:feature", entitlements.CheckFeature)
	v1.GET("/internal/entitlements/:userId", entitlements.GetForUser)
	v1.POST("/internal/entitlements/:userId/reconcile", entitlements.Reconcile)

	subscriptions := NewSubscriptionHandler(logger, ts.service, gate, plans)
	v1.POST("/subscriptions/checkout", subscriptions.Checkout)
	v1.POST("/subscriptions/cancel", subscriptions.Cancel)
	v1.POST("/subscriptions/reactivate", subscriptions.Reactivate)
	v1.POST("/subscriptions/portal", subscriptions.Portal)

	return ts
}

func injectUser(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if id := c.Request().Header.Get(testUserHeader); id != "" {
			user := &auth.AuthUser{UserID: uuid.MustParse(id), Email: "user@example.com", Role: "authenticated"}
			c.SetRequest(c.Request().WithContext(auth.WithUser(c.Request().Context(), user)))
		}
		return next(c)
	}
}

func (ts *testServer) do(method, path, body string, userID uuid.UUID) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if userID != uuid.Nil {
		req.Header.Set(testUserHeader, userID.String())
	}
	rec := httptest.NewRecorder()
	ts.e.ServeHTTP(rec, req)
	return rec
}

// seedActive gives userID an active pro subscription sub_1 owned by cus_1.
func (ts *testServer) seedActive(t *testing.T, userID uuid.UUID) {
	t.Helper()
	_, err := ts.service.ApplyWebhookEvent(context.Background(), userID, entity.BillingEvent{
		ID:             "evt_seed",
		Type:           "customer.subscription.created",
		Kind:           entity.EventSubscriptionCreated,
		SubscriptionID: "sub_1",
		CustomerID:     "cus_1",
		Sequence:       100,
		Subscription:   activeSubscription(false),
	})
	require.NoError(t, err)
}

func activeSubscription(cancelAtPeriodEnd bool) *entity.ExternalSubscription {
	return &entity.ExternalSubscription{
		ID:                "sub_1",
		CustomerID:        "cus_1",
		Status:            "active",
		PriceID:           "price_pro",
		CancelAtPeriodEnd: cancelAtPeriodEnd,
		CurrentPeriodEnd:  base.Add(30 * 24 * time.Hour),
	}
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestEntitlementHandler_GetMine(t *testing.T) {
	ts := newTestServer(t)

	t.Run("user without a row is free", func(t *testing.T) {
		rec := ts.do(http.MethodGet, "/api/v1/entitlements/me", "", uuid.New())

		require.Equal(t, http.StatusOK, rec.Code)
		body := decode(t, rec)
		assert.Equal(t, "none", body["status"])
		assert.Equal(t, "free", body["effective_tier"])
		assert.Equal(t, []interface{}{"budgets"}, body["features"])
	})

	t.Run("subscriber", func(t *testing.T) {
		userID := uuid.New()
		ts.seedActive(t, userID)

		rec := ts.do(http.MethodGet, "/api/v1/entitlements/me", "", userID)

		require.Equal(t, http.StatusOK, rec.Code)
		body := decode(t, rec)
		assert.Equal(t, "active", body["status"])
		assert.Equal(t, "pro", body["effective_tier"])
		assert.ElementsMatch(t, []interface{}{"budgets", "bank_sync"}, body["features"])
	})

	t.Run("unauthenticated", func(t *testing.T) {
		rec := ts.do(http.MethodGet, "/api/v1/entitlements/me", "", uuid.Nil)

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Contains(t, rec.Body.String(), "AUTH_REQUIRED")
	})
}

func TestEntitlementHandler_CheckFeature(t *testing.T) {
	ts := newTestServer(t)
	paid := uuid.New()
	ts.seedActive(t, paid)

	tests := []struct {
		name    string
		userID  uuid.UUID
		feature string
		allowed bool
		reason  string
	}{
		{"paid feature for subscriber", paid, "bank_sync", true, usecase.ReasonGranted},
		{"paid feature for free user", uuid.New(), "bank_sync", false, usecase.ReasonNotInTier},
		{"free feature for free user", uuid.New(), "budgets", true, usecase.ReasonGranted},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := ts.do(http.MethodGet, "/api/v1/entitlements/me/features/"+tt.feature, "", tt.userID)

			require.Equal(t, http.StatusOK, rec.Code)
			body := decode(t, rec)
			assert.Equal(t, tt.allowed, body["allowed"])
			assert.Equal(t, tt.reason, body["reason"])
			assert.Equal(t, tt.feature, body["feature"])
		})
	}
}

func TestSubscriptionHandler_Checkout(t *testing.T) {
	ts := newTestServer(t)
	subscriber := uuid.New()
	ts.seedActive(t, subscriber)

	ts.billing.On("CreateCheckoutSession", mock.Anything, mock.MatchedBy(func(req provider.CheckoutRequest) bool {
		return req.PriceID == "price_pro" && req.PlanCode == "pro_monthly" && req.Email == "user@example.com"
	})).Return(&entity.CheckoutSession{ID: "cs_1", URL: "https://checkout.example.com/cs_1"}, nil)

	tests := []struct {
		name   string
		userID uuid.UUID
		body   string
		status int
		code   string
	}{
		{"by plan code", uuid.New(), `{"plan":"pro_monthly"}`, http.StatusOK, ""},
		{"by price id", uuid.New(), `{"price_id":"price_pro"}`, http.StatusOK, ""},
		{"missing plan", uuid.New(), `{}`, http.StatusBadRequest, ReasonInvalidRequest},
		{"bad success url", uuid.New(), `{"plan":"pro_monthly","success_url":"not a url"}`, http.StatusBadRequest, ReasonInvalidRequest},
		{"malformed json", uuid.New(), `{"plan":`, http.StatusBadRequest, ReasonInvalidRequest},
		{"unknown plan", uuid.New(), `{"plan":"gold"}`, http.StatusBadRequest, ReasonUnknownPlan},
		{"already subscribed", subscriber, `{"plan":"pro_monthly"}`, http.StatusConflict, ReasonAlreadySubscribed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := ts.do(http.MethodPost, "/api/v1/subscriptions/checkout", tt.body, tt.userID)

			require.Equal(t, tt.status, rec.Code, rec.Body.String())
			body := decode(t, rec)
			if tt.code != "" {
				assert.Equal(t, tt.code, body["code"])
				return
			}
			assert.Equal(t, "cs_1", body["session_id"])
			assert.Equal(t, "https://checkout.example.com/cs_1", body["url"])
		})
	}
}

func TestSubscriptionHandler_Cancel(t *testing.T) {
	t.Run("scheduled", func(t *testing.T) {
		ts := newTestServer(t)
		userID := uuid.New()
		ts.seedActive(t, userID)
		ts.billing.On("CancelSubscription", mock.Anything, "sub_1").Return(activeSubscription(true), nil).Once()

		rec := ts.do(http.MethodPost, "/api/v1/subscriptions/cancel", "", userID)

		require.Equal(t, http.StatusOK, rec.Code)
		body := decode(t, rec)
		assert.Equal(t, "cancel_at_period_end", body["status"])
		assert.Equal(t, "pro", body["effective_tier"])
		assert.Equal(t, true, body["pending_confirmation"])
	})

	t.Run("no subscription", func(t *testing.T) {
		ts := newTestServer(t)

		rec := ts.do(http.MethodPost, "/api/v1/subscriptions/cancel", "", uuid.New())

		assert.Equal(t, http.StatusConflict, rec.Code)
		assert.Equal(t, ReasonNoActiveSubscription, decode(t, rec)["code"])
		ts.billing.AssertNotCalled(t, "CancelSubscription", mock.Anything, mock.Anything)
	})

	t.Run("provider unavailable", func(t *testing.T) {
		ts := newTestServer(t)
		userID := uuid.New()
		ts.seedActive(t, userID)
		ts.billing.On("CancelSubscription", mock.Anything, "sub_1").
			Return(nil, &domainErrors.ProviderError{Kind: domainErrors.ErrProviderUnavailable, Op: "cancel", StatusCode: 503}).Once()

		rec := ts.do(http.MethodPost, "/api/v1/subscriptions/cancel", "", userID)

		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
		assert.Equal(t, ReasonProviderUnavailable, decode(t, rec)["code"])
		assert.NotEmpty(t, rec.Header().Get("Retry-After"))

		e, err := ts.repo.Get(context.Background(), userID)
		require.NoError(t, err)
		assert.Equal(t, entity.StatusActive, e.Status)
	})

	t.Run("provider rejected", func(t *testing.T) {
		ts := newTestServer(t)
		userID := uuid.New()
		ts.seedActive(t, userID)
		ts.billing.On("CancelSubscription", mock.Anything, "sub_1").
			Return(nil, &domainErrors.ProviderError{
				Kind:       domainErrors.ErrProviderRejected,
				Op:         "cancel",
				StatusCode: 400,
				Message:    "Subscription is locked by an open invoice",
			}).Once()

		rec := ts.do(http.MethodPost, "/api/v1/subscriptions/cancel", "", userID)

		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
		body := decode(t, rec)
		assert.Equal(t, ReasonProviderRejected, body["code"])
		assert.Equal(t, "Subscription is locked by an open invoice", body["error"])
	})

	t.Run("subscription gone at provider", func(t *testing.T) {
		ts := newTestServer(t)
		userID := uuid.New()
		ts.seedActive(t, userID)
		ts.billing.On("CancelSubscription", mock.Anything, "sub_1").
			Return(nil, &domainErrors.ProviderError{Kind: domainErrors.ErrSubscriptionNotFound, Op: "cancel", StatusCode: 404}).Once()

		rec := ts.do(http.MethodPost, "/api/v1/subscriptions/cancel", "", userID)

		assert.Equal(t, http.StatusNotFound, rec.Code)
		assert.Equal(t, ReasonSubscriptionNotFound, decode(t, rec)["code"])
	})
}

func TestSubscriptionHandler_Reactivate(t *testing.T) {
	ts := newTestServer(t)
	userID := uuid.New()
	ts.seedActive(t, userID)

	rec := ts.do(http.MethodPost, "/api/v1/subscriptions/reactivate", "", userID)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, ReasonNoPendingCancellation, decode(t, rec)["code"])

	ts.billing.On("CancelSubscription", mock.Anything, "sub_1").Return(activeSubscription(true), nil).Once()
	ts.billing.On("ResumeSubscription", mock.Anything, "sub_1").Return(activeSubscription(false), nil).Once()
	require.Equal(t, http.StatusOK, ts.do(http.MethodPost, "/api/v1/subscriptions/cancel", "", userID).Code)

	rec = ts.do(http.MethodPost, "/api/v1/subscriptions/reactivate", "", userID)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "active", decode(t, rec)["status"])
	ts.billing.AssertExpectations(t)
}

func TestSubscriptionHandler_Portal(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(http.MethodPost, "/api/v1/subscriptions/portal", "", uuid.New())
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, ReasonNoBillingCustomer, decode(t, rec)["code"])

	userID := uuid.New()
	ts.seedActive(t, userID)
	ts.billing.On("CreatePortalSession", mock.Anything, "cus_1", "https://app.example.com/settings").
		Return("https://billing.example.com/p/1", nil).Once()

	rec = ts.do(http.MethodPost, "/api/v1/subscriptions/portal", `{"return_url":"https://app.example.com/settings"}`, userID)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "https://billing.example.com/p/1", decode(t, rec)["url"])
}

func TestWebhookHandler(t *testing.T) {
	userID := uuid.New()
	verified := entity.BillingEvent{
		ID:             "evt_1",
		Type:           "customer.subscription.created",
		Kind:           entity.EventSubscriptionCreated,
		SubscriptionID: "sub_1",
		CustomerID:     "cus_1",
		Sequence:       10,
		UserRef:        userID.String(),
		Subscription:   activeSubscription(false),
	}

	t.Run("invalid signature", func(t *testing.T) {
		ts := newTestServer(t)
		ts.parser.On("ParseWebhook", `{"id":"evt_1"}`, "t=1,v1=bad").
			Return(entity.BillingEvent{}, domainErrors.ErrInvalidSignature)

		req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(`{"id":"evt_1"}`))
		req.Header.Set(SignatureHeader, "t=1,v1=bad")
		rec := httptest.NewRecorder()
		ts.e.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, ReasonInvalidSignature, decode(t, rec)["code"])
	})

	t.Run("applies then acknowledges duplicates", func(t *testing.T) {
		ts := newTestServer(t)
		ts.parser.On("ParseWebhook", `{"id":"evt_1"}`, "t=1,v1=ok").Return(verified, nil)

		for _, want := range []string{usecase.OutcomeApplied, usecase.OutcomeDuplicate} {
			req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(`{"id":"evt_1"}`))
			req.Header.Set(SignatureHeader, "t=1,v1=ok")
			rec := httptest.NewRecorder()
			ts.e.ServeHTTP(rec, req)

			require.Equal(t, http.StatusOK, rec.Code)
			body := decode(t, rec)
			assert.Equal(t, true, body["received"])
			assert.Equal(t, want, body["outcome"])
		}

		e, err := ts.repo.Get(context.Background(), userID)
		require.NoError(t, err)
		assert.Equal(t, entity.StatusActive, e.Status)
		assert.Equal(t, int64(1), e.Revision)
	})
}

func TestPlansHandler_GetPlans(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(http.MethodGet, "/api/v1/plans", "", uuid.Nil)

	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, float64(2), body["count"])
	plans := body["plans"].([]interface{})
	first := plans[0].(map[string]interface{})
	assert.Equal(t, "pro_monthly", first["code"])
	assert.Equal(t, "9.99", first["amount"])
	assert.ElementsMatch(t, []interface{}{"budgets", "bank_sync"}, first["features"])
}

func TestEntitlementHandler_Internal(t *testing.T) {
	ts := newTestServer(t)
	userID := uuid.New()
	ts.seedActive(t, userID)

	t.Run("bad user id", func(t *testing.T) {
		rec := ts.do(http.MethodGet, "/api/v1/internal/entitlements/not-a-uuid", "", uuid.New())
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, ReasonInvalidRequest, decode(t, rec)["code"])
	})

	t.Run("lookup", func(t *testing.T) {
		rec := ts.do(http.MethodGet, "/api/v1/internal/entitlements/"+userID.String(), "", uuid.New())
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "sub_1", decode(t, rec)["billing_subscription_id"])
	})

	t.Run("reconcile", func(t *testing.T) {
		canceled := activeSubscription(false)
		canceled.Status = "canceled"
		ts.billing.On("RetrieveSubscription", mock.Anything, "sub_1").Return(canceled, nil).Once()

		rec := ts.do(http.MethodPost, "/api/v1/internal/entitlements/"+userID.String()+"/reconcile", "", uuid.New())

		require.Equal(t, http.StatusOK, rec.Code)
		body := decode(t, rec)
		assert.Equal(t, "canceled", body["status"])
		assert.Equal(t, "free", body["effective_tier"])
	})
}

func TestToAppError(t *testing.T) {
	tests := []struct {
		err    error
		status int
		reason string
	}{
		{domainErrors.ErrNoActiveSubscription, http.StatusConflict, ReasonNoActiveSubscription},
		{domainErrors.ErrNoPendingCancellation, http.StatusConflict, ReasonNoPendingCancellation},
		{domainErrors.ErrAlreadySubscribed, http.StatusConflict, ReasonAlreadySubscribed},
		{domainErrors.ErrInvalidTransition, http.StatusConflict, ReasonInvalidTransition},
		{domainErrors.ErrConcurrentModification, http.StatusConflict, ReasonConcurrentModification},
		{domainErrors.ErrSubscriptionNotFound, http.StatusNotFound, ReasonSubscriptionNotFound},
		{domainErrors.ErrNoBillingCustomer, http.StatusNotFound, ReasonNoBillingCustomer},
		{domainErrors.ErrProviderRejected, http.StatusUnprocessableEntity, ReasonProviderRejected},
		{domainErrors.ErrProviderUnavailable, http.StatusServiceUnavailable, ReasonProviderUnavailable},
		{domainErrors.ErrUnknownPlan, http.StatusBadRequest, ReasonUnknownPlan},
		{domainErrors.ErrInvalidSignature, http.StatusBadRequest, ReasonInvalidSignature},
		{errors.New("disk on fire"), http.StatusInternalServerError, "INTERNAL"},
	}

	for _, tt := range tests {
		t.Run(tt.reason, func(t *testing.T) {
			e := echo.New()
			rec := httptest.NewRecorder()
			c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec)

			wrapped := fmt.Errorf("failed to do work: %w", tt.err)
			require.NoError(t, respondError(c, zap.NewNop(), wrapped, "failed"))

			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, tt.reason, decode(t, rec)["code"])
		})
	}
}
