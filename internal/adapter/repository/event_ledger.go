package repository

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/wekeepgrowing/entitlement-service/internal/domain/entity"
	"github.com/wekeepgrowing/entitlement-service/internal/domain/model"
	"github.com/wekeepgrowing/entitlement-service/internal/domain/repository"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type eventLedger struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewEventLedger creates a Postgres-backed webhook dedup ledger
func NewEventLedger(db *gorm.DB, logger *zap.Logger) repository.EventLedger {
	return &eventLedger{db: db, logger: logger}
}

func (l *eventLedger) Seen(ctx context.Context, eventID string) (bool, error) {
	var count int64
	err := l.db.WithContext(ctx).Model(&model.ProcessedWebhookEvent{}).
		Where("event_id = ?", eventID).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("failed to check webhook ledger: %w", err)
	}
	return count > 0, nil
}

func (l *eventLedger) MarkProcessed(ctx context.Context, event entity.BillingEvent, outcome string) error {
	record := &model.ProcessedWebhookEvent{
		EventID:        event.ID,
		EventType:      event.Type,
		SubscriptionID: nullable(event.SubscriptionID),
		Outcome:        outcome,
		ProcessedAt:    time.Now().UTC(),
	}
	if !event.OccurredAt.IsZero() {
		created := event.OccurredAt.UTC()
		record.ProviderCreatedAt = &created
	}

	err := l.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(record).Error
	if err != nil {
		l.logger.Error("Failed to record webhook event",
			zap.String("event_id", event.ID),
			zap.String("event_type", event.Type),
			zap.Error(err))
		return fmt.Errorf("failed to record webhook event: %w", err)
	}
	return nil
}

func (l *eventLedger) Prune(ctx context.Context, before time.Time) (int64, error) {
	res := l.db.WithContext(ctx).
		Where("processed_at < ?", before).
		Delete(&model.ProcessedWebhookEvent{})
	if res.Error != nil {
		return 0, fmt.Errorf("failed to prune webhook ledger: %w", res.Error)
	}
	return res.RowsAffected, nil
}

const redisLedgerPrefix = "entitlement:webhook:"

type redisEventLedger struct {
	client redis.UniversalClient
	ttl    time.Duration
}

// NewRedisEventLedger creates a dedup ledger whose entries expire after ttl
func NewRedisEventLedger(client redis.UniversalClient, ttl time.Duration) repository.EventLedger {
	return &redisEventLedger{client: client, ttl: ttl}
}

func (l *redisEventLedger) Seen(ctx context.Context, eventID string) (bool, error) {
	n, err := l.client.Exists(ctx, redisLedgerPrefix+eventID).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check webhook ledger: %w", err)
	}
	return n > 0, nil
}

func (l *redisEventLedger) MarkProcessed(ctx context.Context, event entity.BillingEvent, outcome string) error {
	if err := l.client.Set(ctx, redisLedgerPrefix+event.ID, outcome, l.ttl).Err(); err != nil {
		return fmt.Errorf("failed to record webhook event: %w", err)
	}
	return nil
}

// Prune is a no-op: entries expire through their TTL.
func (l *redisEventLedger) Prune(context.Context, time.Time) (int64, error) {
	return 0, nil
}

// MemoryEventLedger keeps processed event ids in process memory.
type MemoryEventLedger struct {
	mu      sync.Mutex
	entries map[string]ledgerEntry
}

type ledgerEntry struct {
	outcome string
	at      time.Time
}

// NewMemoryEventLedger creates an empty in-memory ledger
func NewMemoryEventLedger() *MemoryEventLedger {
	return &MemoryEventLedger{entries: make(map[string]ledgerEntry)}
}

func (l *MemoryEventLedger) Seen(_ context.Context, eventID string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.entries[eventID]
	return ok, nil
}

func (l *MemoryEventLedger) MarkProcessed(_ context.Context, event entity.BillingEvent, outcome string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.entries[event.ID]; !ok {
		l.entries[event.ID] = ledgerEntry{outcome: outcome, at: time.Now()}
	}
	return nil
}

func (l *MemoryEventLedger) Prune(_ context.Context, before time.Time) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var n int64
	for id, e := range l.entries {
		if e.at.Before(before) {
			delete(l.entries, id)
			n++
		}
	}
	return n, nil
}

// Outcome returns the recorded outcome of eventID.
func (l *MemoryEventLedger) Outcome(eventID string) (string, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.entries[eventID]
	return e.outcome, ok
}
