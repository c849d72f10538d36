package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// EntitlementAuditLog records one committed entitlement transition
type EntitlementAuditLog struct {
	ID         int64          `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID     uuid.UUID      `gorm:"type:uuid;not null;index:idx_audit_user_created,priority:1" json:"user_id"`
	Trigger    string         `gorm:"size:40;not null;index" json:"trigger"`
	EventID    *string        `gorm:"size:255" json:"event_id,omitempty"`
	Actor      *string        `gorm:"size:255" json:"actor,omitempty"`
	FromStatus string         `gorm:"size:32;not null" json:"from_status"`
	ToStatus   string         `gorm:"size:32;not null" json:"to_status"`
	Revision   int64          `gorm:"not null" json:"revision"`
	Before     datatypes.JSON `gorm:"type:jsonb" json:"before"`
	After      datatypes.JSON `gorm:"type:jsonb;not null" json:"after"`
	CreatedAt  time.Time      `gorm:"default:now();index:idx_audit_user_created,priority:2" json:"created_at"`
}

// TableName specifies the table name for GORM
func (EntitlementAuditLog) TableName() string {
	return "entitlement_audit_logs"
}
