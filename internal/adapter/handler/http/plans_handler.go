package http

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/wekeepgrowing/entitlement-service/internal/catalog"
	"go.uber.org/zap"
)

type PlansHandler struct {
	logger  *zap.Logger
	catalog *catalog.Catalog
}

func NewPlansHandler(logger *zap.Logger, plans *catalog.Catalog) *PlansHandler {
	return &PlansHandler{logger: logger, catalog: plans}
}

// GetPlans lists the purchasable plans with the features each one grants.
func (h *PlansHandler) GetPlans(c echo.Context) error {
	plans := h.catalog.Plans()
	resp := make([]PlanResponse, 0, len(plans))
	for _, p := range plans {
		features := h.catalog.Features(p.Tier)
		if features == nil {
			features = []string{}
		}
		resp = append(resp, PlanResponse{Plan: p, Features: features})
	}

	h.logger.Debug("Plans listed", zap.Int("count", len(resp)))
	return c.JSON(http.StatusOK, echo.Map{
		"plans": resp,
		"count": len(resp),
	})
}
