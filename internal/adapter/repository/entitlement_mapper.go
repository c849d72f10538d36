package repository

import (
	"encoding/json"

	"github.com/wekeepgrowing/entitlement-service/internal/domain/entity"
	"github.com/wekeepgrowing/entitlement-service/internal/domain/model"
	"github.com/wekeepgrowing/entitlement-service/internal/domain/repository"
	"gorm.io/datatypes"
)

// modelToEntity converts a model.Entitlement to entity.Entitlement
func modelToEntity(m *model.Entitlement) entity.Entitlement {
	e := entity.Entitlement{
		UserID:            m.UserID,
		PlanTier:          entity.PlanTier(m.PlanTier),
		Status:            entity.Status(m.Status),
		CurrentPeriodEnd:  m.CurrentPeriodEnd,
		LastEventAt:       m.LastEventAt,
		Revision:          m.Revision,
		PendingOptimistic: m.PendingOptimistic,
		CanceledAt:        m.CanceledAt,
		CreatedAt:         m.CreatedAt,
		UpdatedAt:         m.UpdatedAt,
	}
	if m.BillingSubscriptionID != nil {
		e.BillingSubscriptionID = *m.BillingSubscriptionID
	}
	if m.BillingCustomerID != nil {
		e.BillingCustomerID = *m.BillingCustomerID
	}
	if m.LastReconciledEventID != nil {
		e.LastReconciledEventID = *m.LastReconciledEventID
	}
	if len(m.AppliedEventIDs) > 0 {
		e.AppliedEventIDs = append([]string(nil), m.AppliedEventIDs...)
	}
	return e
}

// entityToModel converts an entity.Entitlement to model.Entitlement
func entityToModel(e entity.Entitlement) *model.Entitlement {
	applied := e.AppliedEventIDs
	if applied == nil {
		applied = []string{}
	}
	return &model.Entitlement{
		UserID:                e.UserID,
		PlanTier:              string(e.PlanTier),
		Status:                string(e.Status),
		BillingSubscriptionID: nullable(e.BillingSubscriptionID),
		BillingCustomerID:     nullable(e.BillingCustomerID),
		CurrentPeriodEnd:      e.CurrentPeriodEnd,
		LastReconciledEventID: nullable(e.LastReconciledEventID),
		LastEventAt:           e.LastEventAt,
		AppliedEventIDs:       datatypes.JSONSlice[string](applied),
		Revision:              e.Revision,
		PendingOptimistic:     e.PendingOptimistic,
		CanceledAt:            e.CanceledAt,
		CreatedAt:             e.CreatedAt,
		UpdatedAt:             e.UpdatedAt,
	}
}

func auditRecord(before, after entity.Entitlement, cause repository.Cause) (*model.EntitlementAuditLog, error) {
	afterJSON, err := json.Marshal(after)
	if err != nil {
		return nil, err
	}
	var beforeJSON datatypes.JSON
	if before.IsPersisted() {
		if beforeJSON, err = json.Marshal(before); err != nil {
			return nil, err
		}
	}
	return &model.EntitlementAuditLog{
		UserID:     after.UserID,
		Trigger:    string(cause.Trigger),
		EventID:    nullable(cause.EventID),
		Actor:      nullable(cause.Actor),
		FromStatus: string(before.Status),
		ToStatus:   string(after.Status),
		Revision:   after.Revision,
		Before:     beforeJSON,
		After:      datatypes.JSON(afterJSON),
		CreatedAt:  after.UpdatedAt,
	}, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
