package http

import (
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/wekeepgrowing/entitlement-service/internal/catalog"
	"github.com/wekeepgrowing/entitlement-service/internal/domain/entity"
)

// CheckoutRequest selects a plan either by catalog code or by price id.
type CheckoutRequest struct {
	Plan       string `json:"plan" validate:"required_without=PriceID"`
	PriceID    string `json:"price_id" validate:"required_without=Plan"`
	SuccessURL string `json:"success_url" validate:"omitempty,url"`
	CancelURL  string `json:"cancel_url" validate:"omitempty,url"`
}

type CheckoutResponse struct {
	SessionID string `json:"session_id"`
	URL       string `json:"url"`
}

type PortalRequest struct {
	ReturnURL string `json:"return_url" validate:"omitempty,url"`
}

type PortalResponse struct {
	URL string `json:"url"`
}

// EntitlementResponse is the client view of an entitlement. EffectiveTier is
// what the access gate grants right now and may differ from PlanTier.
type EntitlementResponse struct {
	UserID                uuid.UUID       `json:"user_id"`
	PlanTier              entity.PlanTier `json:"plan_tier"`
	EffectiveTier         entity.PlanTier `json:"effective_tier"`
	Status                entity.Status   `json:"status"`
	BillingSubscriptionID string          `json:"billing_subscription_id,omitempty"`
	CurrentPeriodEnd      *time.Time      `json:"current_period_end,omitempty"`
	CanceledAt            *time.Time      `json:"canceled_at,omitempty"`
	PendingConfirmation   bool            `json:"pending_confirmation"`
	Features              []string        `json:"features"`
	Revision              int64           `json:"revision"`
	UpdatedAt             *time.Time      `json:"updated_at,omitempty"`
}

// FeatureResponse answers a single feature check.
type FeatureResponse struct {
	Feature string          `json:"feature"`
	Allowed bool            `json:"allowed"`
	Tier    entity.PlanTier `json:"tier"`
	Reason  string          `json:"reason"`
}

type PlanResponse struct {
	catalog.Plan
	Features []string `json:"features"`
}

// bindAndValidate binds the JSON body into req and runs its validate tags.
// An empty body is accepted for requests whose fields are all optional.
func bindAndValidate(c echo.Context, req interface{}) error {
	if c.Request().ContentLength != 0 {
		if err := c.Bind(req); err != nil {
			return invalidRequest(err)
		}
	}
	if err := c.Validate(req); err != nil {
		return invalidRequest(err)
	}
	return nil
}
