package repository

import (
	"context"
	"time"

	"github.com/wekeepgrowing/entitlement-service/internal/domain/entity"
)

// EventLedger remembers processed webhook event ids for the dedup window.
type EventLedger interface {
	Seen(ctx context.Context, eventID string) (bool, error)
	MarkProcessed(ctx context.Context, event entity.BillingEvent, outcome string) error
	// Prune drops entries processed before the cutoff and returns how many were removed.
	// Stores with native expiry may return 0.
	Prune(ctx context.Context, before time.Time) (int64, error)
}
