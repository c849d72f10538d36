package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/wekeepgrowing/entitlement-service/internal/domain/entity"
	domainErrors "github.com/wekeepgrowing/entitlement-service/internal/domain/errors"
	"github.com/wekeepgrowing/entitlement-service/internal/domain/repository"
)

// AuditEntry is an in-memory audit record.
type AuditEntry struct {
	Before entity.Entitlement
	After  entity.Entitlement
	Cause  repository.Cause
}

// MemoryEntitlementRepository serializes writers with one mutex per user.
type MemoryEntitlementRepository struct {
	mu    sync.RWMutex
	rows  map[uuid.UUID]entity.Entitlement
	locks map[uuid.UUID]*sync.Mutex
	audit []AuditEntry
	now   func() time.Time
}

// NewMemoryEntitlementRepository creates an empty in-memory store
func NewMemoryEntitlementRepository() *MemoryEntitlementRepository {
	return &MemoryEntitlementRepository{
		rows:  make(map[uuid.UUID]entity.Entitlement),
		locks: make(map[uuid.UUID]*sync.Mutex),
		now:   time.Now,
	}
}

func (r *MemoryEntitlementRepository) Get(ctx context.Context, userID uuid.UUID) (entity.Entitlement, error) {
	if err := ctx.Err(); err != nil {
		return entity.Entitlement{}, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	row, ok := r.rows[userID]
	if !ok {
		return entity.Entitlement{}, domainErrors.ErrEntitlementNotFound
	}
	return row.Clone(), nil
}

func (r *MemoryEntitlementRepository) GetBySubscriptionID(ctx context.Context, subscriptionID string) (entity.Entitlement, error) {
	if err := ctx.Err(); err != nil {
		return entity.Entitlement{}, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	var (
		found entity.Entitlement
		ok    bool
	)
	for _, row := range r.rows {
		if row.BillingSubscriptionID == subscriptionID && (!ok || row.UpdatedAt.After(found.UpdatedAt)) {
			found, ok = row, true
		}
	}
	if !ok {
		return entity.Entitlement{}, domainErrors.ErrEntitlementNotFound
	}
	return found.Clone(), nil
}

func (r *MemoryEntitlementRepository) ListDue(ctx context.Context, status entity.Status, cutoff time.Time, limit int) ([]entity.Entitlement, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	out := make([]entity.Entitlement, 0)
	for _, row := range r.rows {
		if row.Status != status {
			continue
		}
		if due, ok := row.DueAt(); ok && due.Before(cutoff) {
			out = append(out, row.Clone())
		}
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		a, _ := out[i].DueAt()
		b, _ := out[j].DueAt()
		return a.Before(b)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *MemoryEntitlementRepository) Upsert(ctx context.Context, userID uuid.UUID, cause repository.Cause, fn repository.TransitionFunc) (entity.Entitlement, bool, error) {
	if err := ctx.Err(); err != nil {
		return entity.Entitlement{}, false, err
	}

	lock := r.userLock(userID)
	lock.Lock()
	defer lock.Unlock()

	r.mu.RLock()
	current, ok := r.rows[userID]
	r.mu.RUnlock()
	if !ok {
		current = entity.NewEntitlement(userID)
	}
	current = current.Clone()

	next, changed, err := fn(current.Clone())
	if err != nil || !changed {
		return current, false, err
	}
	if err := next.Validate(); err != nil {
		return current, false, fmt.Errorf("%w: %v", domainErrors.ErrInvalidTransition, err)
	}

	now := r.now().UTC()
	next.UserID = userID
	next.Revision = current.Revision + 1
	next.UpdatedAt = now
	if !current.IsPersisted() {
		next.CreatedAt = now
	}

	r.mu.Lock()
	r.rows[userID] = next.Clone()
	r.audit = append(r.audit, AuditEntry{Before: current, After: next.Clone(), Cause: cause})
	r.mu.Unlock()

	return next, true, nil
}

// AuditTrail returns the recorded transitions for userID in commit order.
func (r *MemoryEntitlementRepository) AuditTrail(userID uuid.UUID) []AuditEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []AuditEntry
	for _, a := range r.audit {
		if a.After.UserID == userID {
			out = append(out, a)
		}
	}
	return out
}

func (r *MemoryEntitlementRepository) userLock(userID uuid.UUID) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.locks[userID]
	if !ok {
		l = &sync.Mutex{}
		r.locks[userID] = l
	}
	return l
}
