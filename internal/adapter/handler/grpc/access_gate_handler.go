package grpc

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/wekeepgrowing/entitlement-service/internal/catalog"
	"github.com/wekeepgrowing/entitlement-service/internal/usecase"
	pkgErrors "github.com/wekeepgrowing/entitlement-service/pkg/errors"
	"go.uber.org/zap"
)

// AccessGateHandler serves entitlement checks to other services.
type AccessGateHandler struct {
	gate    *usecase.AccessGate
	service *usecase.EntitlementService
	catalog *catalog.Catalog
	logger  *zap.Logger
}

func NewAccessGateHandler(gate *usecase.AccessGate, service *usecase.EntitlementService, plans *catalog.Catalog, logger *zap.Logger) *AccessGateHandler {
	return &AccessGateHandler{
		gate:    gate,
		service: service,
		catalog: plans,
		logger:  logger,
	}
}

// IsEntitled never fails on store errors; the decision comes back denied
// with the reason instead.
func (h *AccessGateHandler) IsEntitled(ctx context.Context, req *IsEntitledRequest) (*IsEntitledResponse, error) {
	userID, err := parseUserID(req.UserID)
	if err != nil {
		return nil, err
	}
	if req.Feature == "" {
		return nil, pkgErrors.ToGRPCStatus(pkgErrors.NewAppError(pkgErrors.ErrInvalidArgument, "feature is required", nil))
	}

	d := h.gate.Check(ctx, userID, req.Feature)
	return &IsEntitledResponse{
		Allowed: d.Allowed,
		Tier:    string(d.Tier),
		Status:  string(d.Status),
		Reason:  d.Reason,
	}, nil
}

func (h *AccessGateHandler) GetEntitlement(ctx context.Context, req *GetEntitlementRequest) (*GetEntitlementResponse, error) {
	userID, err := parseUserID(req.UserID)
	if err != nil {
		return nil, err
	}

	e, err := h.service.Get(ctx, userID)
	if err != nil {
		h.logger.Error("Failed to get entitlement",
			zap.String("user_id", userID.String()),
			zap.Error(err))
		code := pkgErrors.ErrInternal
		if errors.Is(err, context.DeadlineExceeded) {
			code = pkgErrors.ErrTimeout
		}
		return nil, pkgErrors.ToGRPCStatus(pkgErrors.NewAppError(code, "failed to read entitlement", err))
	}

	effective := h.gate.EffectiveTier(e)
	features := h.catalog.Features(effective)
	if features == nil {
		features = []string{}
	}
	return &GetEntitlementResponse{
		UserID:                e.UserID.String(),
		PlanTier:              string(e.PlanTier),
		EffectiveTier:         string(effective),
		Status:                string(e.Status),
		BillingSubscriptionID: e.BillingSubscriptionID,
		CurrentPeriodEnd:      e.CurrentPeriodEnd,
		Features:              features,
		Revision:              e.Revision,
	}, nil
}

func parseUserID(raw string) (uuid.UUID, error) {
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, pkgErrors.ToGRPCStatus(pkgErrors.NewAppError(pkgErrors.ErrInvalidArgument, "user_id must be a UUID", err))
	}
	return id, nil
}
