package model

import "time"

// ProcessedWebhookEvent is a dedup ledger entry for a handled provider event
type ProcessedWebhookEvent struct {
	EventID           string     `gorm:"primaryKey;size:255" json:"event_id"`
	EventType         string     `gorm:"size:100;not null;index" json:"event_type"`
	SubscriptionID    *string    `gorm:"size:255" json:"subscription_id,omitempty"`
	Outcome           string     `gorm:"size:40;not null" json:"outcome"`
	ProviderCreatedAt *time.Time `json:"provider_created_at,omitempty"`
	ProcessedAt       time.Time  `gorm:"not null;index" json:"processed_at"`
}

// TableName specifies the table name for GORM
func (ProcessedWebhookEvent) TableName() string {
	return "processed_webhook_events"
}

// All returns every model managed by migrations, in dependency order.
func All() []interface{} {
	return []interface{}{
		&Entitlement{},
		&EntitlementAuditLog{},
		&ProcessedWebhookEvent{},
	}
}
