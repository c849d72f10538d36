package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// Entitlement is the persisted per-user entitlement row
type Entitlement struct {
	UserID                uuid.UUID                   `gorm:"column:user_id;type:uuid;primaryKey" json:"user_id"`
	PlanTier              string                      `gorm:"size:20;not null;default:'free'" json:"plan_tier"`
	Status                string                      `gorm:"size:32;not null;default:'none';index:idx_entitlements_status_updated,priority:1" json:"status"`
	BillingSubscriptionID *string                     `gorm:"size:255;index" json:"billing_subscription_id,omitempty"`
	BillingCustomerID     *string                     `gorm:"size:255;index" json:"billing_customer_id,omitempty"`
	CurrentPeriodEnd      *time.Time                  `json:"current_period_end,omitempty"`
	LastReconciledEventID *string                     `gorm:"size:255" json:"last_reconciled_event_id,omitempty"`
	LastEventAt           int64                       `gorm:"not null;default:0" json:"last_event_at"`
	AppliedEventIDs       datatypes.JSONSlice[string] `gorm:"type:jsonb" json:"applied_event_ids"`
	Revision              int64                       `gorm:"not null;default:0" json:"revision"`
	PendingOptimistic     bool                        `gorm:"not null;default:false" json:"pending_optimistic"`
	CanceledAt            *time.Time                  `json:"canceled_at,omitempty"`
	CreatedAt             time.Time                   `gorm:"not null" json:"created_at"`
	UpdatedAt             time.Time                   `gorm:"not null;index:idx_entitlements_status_updated,priority:2" json:"updated_at"`
}

// TableName specifies the table name for GORM
func (Entitlement) TableName() string {
	return "entitlements"
}
