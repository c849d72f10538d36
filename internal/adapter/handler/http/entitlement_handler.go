package http

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/wekeepgrowing/entitlement-service/internal/catalog"
	"github.com/wekeepgrowing/entitlement-service/internal/domain/entity"
	"github.com/wekeepgrowing/entitlement-service/internal/middleware/auth"
	"github.com/wekeepgrowing/entitlement-service/internal/usecase"
	pkgErrors "github.com/wekeepgrowing/entitlement-service/pkg/errors"
	"go.uber.org/zap"
)

type EntitlementHandler struct {
	logger  *zap.Logger
	service *usecase.EntitlementService
	gate    *usecase.AccessGate
	catalog *catalog.Catalog
}

func NewEntitlementHandler(
	logger *zap.Logger,
	service *usecase.EntitlementService,
	gate *usecase.AccessGate,
	plans *catalog.Catalog,
) *EntitlementHandler {
	return &EntitlementHandler{
		logger:  logger,
		service: service,
		gate:    gate,
		catalog: plans,
	}
}

// GetMine returns the caller's entitlement.
func (h *EntitlementHandler) GetMine(c echo.Context) error {
	user, err := auth.RequireAuth(c)
	if err != nil {
		return err // RequireAuth already returns the JSON error response
	}

	e, err := h.service.Get(c.Request().Context(), user.UserID)
	if err != nil {
		return respondError(c, h.logger, err, "Failed to get entitlement",
			zap.String("user_id", user.UserID.String()))
	}
	return c.JSON(http.StatusOK, h.toResponse(e))
}

// CheckFeature runs the access gate for one feature of the caller.
func (h *EntitlementHandler) CheckFeature(c echo.Context) error {
	user, err := auth.RequireAuth(c)
	if err != nil {
		return err
	}

	feature := c.Param("feature")
	d := h.gate.Check(c.Request().Context(), user.UserID, feature)
	return c.JSON(http.StatusOK, FeatureResponse{
		Feature: feature,
		Allowed: d.Allowed,
		Tier:    d.Tier,
		Reason:  d.Reason,
	})
}

// GetForUser is the internal lookup by user id.
func (h *EntitlementHandler) GetForUser(c echo.Context) error {
	userID, err := uuid.Parse(c.Param("userId"))
	if err != nil {
		return pkgErrors.WriteJSON(c, invalidRequest(err))
	}

	e, err := h.service.Get(c.Request().Context(), userID)
	if err != nil {
		return respondError(c, h.logger, err, "Failed to get entitlement",
			zap.String("user_id", userID.String()))
	}
	return c.JSON(http.StatusOK, h.toResponse(e))
}

// Reconcile pulls the provider's view of the user's subscription and
// converges the row to it.
func (h *EntitlementHandler) Reconcile(c echo.Context) error {
	userID, err := uuid.Parse(c.Param("userId"))
	if err != nil {
		return pkgErrors.WriteJSON(c, invalidRequest(err))
	}

	h.logger.Info("Manual reconcile requested",
		zap.String("user_id", userID.String()),
		zap.Any("requested_by", c.Get("user_id")))

	e, err := h.service.Reconcile(c.Request().Context(), userID)
	if err != nil {
		return respondError(c, h.logger, err, "Reconcile failed",
			zap.String("user_id", userID.String()))
	}
	return c.JSON(http.StatusOK, h.toResponse(e))
}

func (h *EntitlementHandler) toResponse(e entity.Entitlement) EntitlementResponse {
	return toEntitlementResponse(e, h.gate.EffectiveTier(e), h.catalog)
}

func toEntitlementResponse(e entity.Entitlement, effective entity.PlanTier, plans *catalog.Catalog) EntitlementResponse {
	resp := EntitlementResponse{
		UserID:                e.UserID,
		PlanTier:              e.PlanTier,
		EffectiveTier:         effective,
		Status:                e.Status,
		BillingSubscriptionID: e.BillingSubscriptionID,
		CurrentPeriodEnd:      e.CurrentPeriodEnd,
		CanceledAt:            e.CanceledAt,
		PendingConfirmation:   e.PendingOptimistic,
		Features:              plans.Features(effective),
		Revision:              e.Revision,
	}
	if resp.Features == nil {
		resp.Features = []string{}
	}
	if !e.UpdatedAt.IsZero() {
		updated := e.UpdatedAt
		resp.UpdatedAt = &updated
	}
	return resp
}
