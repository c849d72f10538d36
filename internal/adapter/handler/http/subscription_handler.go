package http

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/wekeepgrowing/entitlement-service/internal/catalog"
	"github.com/wekeepgrowing/entitlement-service/internal/middleware/auth"
	"github.com/wekeepgrowing/entitlement-service/internal/usecase"
	pkgErrors "github.com/wekeepgrowing/entitlement-service/pkg/errors"
	"go.uber.org/zap"
)

type SubscriptionHandler struct {
	logger  *zap.Logger
	service *usecase.EntitlementService
	gate    *usecase.AccessGate
	catalog *catalog.Catalog
}

func NewSubscriptionHandler(
	logger *zap.Logger,
	service *usecase.EntitlementService,
	gate *usecase.AccessGate,
	plans *catalog.Catalog,
) *SubscriptionHandler {
	return &SubscriptionHandler{
		logger:  logger,
		service: service,
		gate:    gate,
		catalog: plans,
	}
}

// Checkout starts a hosted checkout for the requested plan.
func (h *SubscriptionHandler) Checkout(c echo.Context) error {
	user, err := auth.RequireAuth(c)
	if err != nil {
		return err
	}

	var req CheckoutRequest
	if err := bindAndValidate(c, &req); err != nil {
		return pkgErrors.WriteJSON(c, err)
	}

	session, err := h.service.StartCheckout(c.Request().Context(), usecase.CheckoutInput{
		UserID:     user.UserID,
		Email:      user.Email,
		PlanCode:   req.Plan,
		PriceID:    req.PriceID,
		SuccessURL: req.SuccessURL,
		CancelURL:  req.CancelURL,
	})
	if err != nil {
		return respondError(c, h.logger, err, "Failed to start checkout",
			zap.String("user_id", user.UserID.String()),
			zap.String("plan", req.Plan),
			zap.String("price_id", req.PriceID))
	}

	return c.JSON(http.StatusOK, CheckoutResponse{
		SessionID: session.ID,
		URL:       session.URL,
	})
}

// Cancel schedules the caller's subscription to end at period end.
func (h *SubscriptionHandler) Cancel(c echo.Context) error {
	user, err := auth.RequireAuth(c)
	if err != nil {
		return err
	}

	e, err := h.service.RequestCancellation(c.Request().Context(), user.UserID)
	if err != nil {
		return respondError(c, h.logger, err, "Failed to cancel subscription",
			zap.String("user_id", user.UserID.String()))
	}

	h.logger.Info("Subscription cancellation requested",
		zap.String("user_id", user.UserID.String()),
		zap.String("subscription_id", e.BillingSubscriptionID))
	return c.JSON(http.StatusOK, toEntitlementResponse(e, h.gate.EffectiveTier(e), h.catalog))
}

// Reactivate undoes a scheduled cancellation.
func (h *SubscriptionHandler) Reactivate(c echo.Context) error {
	user, err := auth.RequireAuth(c)
	if err != nil {
		return err
	}

	e, err := h.service.Reactivate(c.Request().Context(), user.UserID)
	if err != nil {
		return respondError(c, h.logger, err, "Failed to reactivate subscription",
			zap.String("user_id", user.UserID.String()))
	}

	h.logger.Info("Subscription reactivated",
		zap.String("user_id", user.UserID.String()),
		zap.String("subscription_id", e.BillingSubscriptionID))
	return c.JSON(http.StatusOK, toEntitlementResponse(e, h.gate.EffectiveTier(e), h.catalog))
}

// Portal returns a billing portal URL for the caller.
func (h *SubscriptionHandler) Portal(c echo.Context) error {
	user, err := auth.RequireAuth(c)
	if err != nil {
		return err
	}

	var req PortalRequest
	if err := bindAndValidate(c, &req); err != nil {
		return pkgErrors.WriteJSON(c, err)
	}

	url, err := h.service.OpenBillingPortal(c.Request().Context(), user.UserID, req.ReturnURL)
	if err != nil {
		return respondError(c, h.logger, err, "Failed to create portal session",
			zap.String("user_id", user.UserID.String()))
	}
	return c.JSON(http.StatusOK, PortalResponse{URL: url})
}
