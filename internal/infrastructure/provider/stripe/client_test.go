package stripe

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	domainErrors "github.com/wekeepgrowing/entitlement-service/internal/domain/errors"
	"github.com/wekeepgrowing/entitlement-service/internal/domain/provider"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(Config{
		SecretKey:      "sk_test_123",
		WebhookSecret:  testWebhookSecret,
		RequestTimeout: time.Second,
		BaseURL:        srv.URL,
		HTTPClient:     srv.Client(),
	}, zap.NewNop())
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func stripeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]interface{}{
		"error": map[string]interface{}{
			"type":    "invalid_request_error",
			"code":    code,
			"message": message,
		},
	})
}

func subscriptionJSON(cancelAtPeriodEnd bool) map[string]interface{} {
	return map[string]interface{}{
		"id":                   "sub_1",
		"object":               "subscription",
		"customer":             "cus_1",
		"status":               "active",
		"cancel_at_period_end": cancelAtPeriodEnd,
		"current_period_end":   1767225600,
		"metadata":             map[string]string{"user_id": "u1"},
		"items": map[string]interface{}{
			"object": "list",
			"data": []interface{}{
				map[string]interface{}{"id": "si_1", "object": "subscription_item", "price": map[string]interface{}{"id": "price_pro", "object": "price"}},
			},
		},
	}
}

func TestClient_CancelSubscription(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/subscriptions/sub_1", r.URL.Path)
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "true", r.PostForm.Get("cancel_at_period_end"))
		assert.Equal(t, "Bearer sk_test_123", r.Header.Get("Authorization"))
		writeJSON(w, http.StatusOK, subscriptionJSON(true))
	})

	sub, err := c.CancelSubscription(context.Background(), "sub_1")
	require.NoError(t, err)
	assert.True(t, sub.CancelAtPeriodEnd)
	assert.Equal(t, "cus_1", sub.CustomerID)
	assert.Equal(t, "price_pro", sub.PriceID)
	assert.Equal(t, time.Unix(1767225600, 0).UTC(), sub.CurrentPeriodEnd)
}

func TestClient_ResumeSubscription(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "false", r.PostForm.Get("cancel_at_period_end"))
		writeJSON(w, http.StatusOK, subscriptionJSON(false))
	})

	sub, err := c.ResumeSubscription(context.Background(), "sub_1")
	require.NoError(t, err)
	assert.False(t, sub.CancelAtPeriodEnd)
}

func TestClient_ErrorClassification(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		code     string
		wantKind error
		wantMsg  string
	}{
		{"not found", http.StatusNotFound, "resource_missing", domainErrors.ErrSubscriptionNotFound, ""},
		{"rejected", http.StatusBadRequest, "parameter_invalid", domainErrors.ErrProviderRejected, "This subscription cannot be updated."},
		{"rate limited", http.StatusTooManyRequests, "rate_limit", domainErrors.ErrProviderUnavailable, ""},
		{"server error", http.StatusInternalServerError, "", domainErrors.ErrProviderUnavailable, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				calls++
				stripeError(w, tt.status, tt.code, "This subscription cannot be updated.")
			})

			_, err := c.CancelSubscription(context.Background(), "sub_1")
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.wantKind)
			assert.Equal(t, 1, calls, "the client must not retry on its own")

			var pe *domainErrors.ProviderError
			require.True(t, errors.As(err, &pe))
			assert.Equal(t, tt.status, pe.StatusCode)
			if tt.wantMsg != "" {
				assert.Equal(t, tt.wantMsg, pe.UserMessage())
			}
		})
	}
}

func TestClient_TimeoutIsUnavailable(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	c := NewClient(Config{SecretKey: "sk_test", RequestTimeout: 50 * time.Millisecond, BaseURL: srv.URL}, zap.NewNop())

	_, err := c.RetrieveSubscription(context.Background(), "sub_1")
	require.Error(t, err)
	assert.ErrorIs(t, err, domainErrors.ErrProviderUnavailable)
}

func TestClient_CreateCheckoutSession(t *testing.T) {
	userID := uuid.MustParse("550e8400-e29b-41d4-a716-446655440000")

	t.Run("new customer", func(t *testing.T) {
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/v1/checkout/sessions", r.URL.Path)
			require.NoError(t, r.ParseForm())
			form := r.PostForm
			assert.Equal(t, "subscription", form.Get("mode"))
			assert.Equal(t, userID.String(), form.Get("client_reference_id"))
			assert.Equal(t, "price_pro", form.Get("line_items[0][price]"))
			assert.Equal(t, userID.String(), form.Get("subscription_data[metadata][user_id]"))
			assert.Equal(t, "pro_monthly", form.Get("subscription_data[metadata][plan]"))
			assert.Equal(t, "a@example.com", form.Get("customer_email"))
			assert.Empty(t, form.Get("customer"))
			writeJSON(w, http.StatusOK, map[string]interface{}{"id": "cs_1", "object": "checkout.session", "url": "https://checkout.test/cs_1"})
		})

		s, err := c.CreateCheckoutSession(context.Background(), provider.CheckoutRequest{
			UserID: userID, Email: "a@example.com", PriceID: "price_pro", PlanCode: "pro_monthly",
			SuccessURL: "https://app/success", CancelURL: "https://app/cancel",
		})
		require.NoError(t, err)
		assert.Equal(t, "cs_1", s.ID)
		assert.Equal(t, "https://checkout.test/cs_1", s.URL)
	})

	t.Run("known customer", func(t *testing.T) {
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			require.NoError(t, r.ParseForm())
			assert.Equal(t, "cus_1", r.PostForm.Get("customer"))
			assert.Empty(t, r.PostForm.Get("customer_email"))
			writeJSON(w, http.StatusOK, map[string]interface{}{"id": "cs_2", "object": "checkout.session", "url": "https://checkout.test/cs_2"})
		})

		_, err := c.CreateCheckoutSession(context.Background(), provider.CheckoutRequest{
			UserID: userID, Email: "a@example.com", CustomerID: "cus_1", PriceID: "price_pro",
		})
		require.NoError(t, err)
	})
}

func TestClient_CreatePortalSession(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/billing_portal/sessions", r.URL.Path)
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "cus_1", r.PostForm.Get("customer"))
		writeJSON(w, http.StatusOK, map[string]interface{}{"id": "bps_1", "object": "billing_portal.session", "url": "https://portal.test"})
	})

	u, err := c.CreatePortalSession(context.Background(), "cus_1", "https://app/settings")
	require.NoError(t, err)
	assert.Equal(t, "https://portal.test", u)
}

func TestClient_ListPrices(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/prices", r.URL.Path)
		q, _ := url.ParseQuery(r.URL.RawQuery)
		assert.Equal(t, "true", q.Get("active"))
		assert.Equal(t, "recurring", q.Get("type"))
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"object":   "list",
			"url":      "/v1/prices",
			"has_more": false,
			"data": []interface{}{
				map[string]interface{}{"id": "price_usd", "object": "price", "currency": "usd", "unit_amount": 999, "active": true, "product": "prod_1",
					"recurring": map[string]interface{}{"interval": "month", "interval_count": 1}},
				map[string]interface{}{"id": "price_jpy", "object": "price", "currency": "jpy", "unit_amount": 1200, "active": true, "product": "prod_1",
					"recurring": map[string]interface{}{"interval": "year", "interval_count": 1}},
			},
		})
	})

	prices, err := c.ListPrices(context.Background())
	require.NoError(t, err)
	require.Len(t, prices, 2)
	assert.True(t, prices[0].Amount.Equal(decimal.RequireFromString("9.99")))
	assert.Equal(t, "USD", prices[0].Currency)
	assert.Equal(t, "month", prices[0].Interval)
	assert.Equal(t, "prod_1", prices[0].ProductID)
	assert.True(t, prices[1].Amount.Equal(decimal.NewFromInt(1200)))
}
