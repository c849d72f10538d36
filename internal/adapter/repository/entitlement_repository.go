package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/wekeepgrowing/entitlement-service/internal/domain/entity"
	domainErrors "github.com/wekeepgrowing/entitlement-service/internal/domain/errors"
	"github.com/wekeepgrowing/entitlement-service/internal/domain/model"
	"github.com/wekeepgrowing/entitlement-service/internal/domain/repository"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type entitlementRepository struct {
	db     *gorm.DB
	logger *zap.Logger
	now    func() time.Time
}

// NewEntitlementRepository creates a Postgres-backed entitlement store
func NewEntitlementRepository(db *gorm.DB, logger *zap.Logger) repository.EntitlementRepository {
	return &entitlementRepository{
		db:     db,
		logger: logger,
		now:    time.Now,
	}
}

func (r *entitlementRepository) Get(ctx context.Context, userID uuid.UUID) (entity.Entitlement, error) {
	var row model.Entitlement
	err := r.db.WithContext(ctx).Where("user_id = ?", userID).Take(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return entity.Entitlement{}, domainErrors.ErrEntitlementNotFound
		}
		return entity.Entitlement{}, fmt.Errorf("failed to get entitlement: %w", err)
	}
	return modelToEntity(&row), nil
}

func (r *entitlementRepository) GetBySubscriptionID(ctx context.Context, subscriptionID string) (entity.Entitlement, error) {
	var row model.Entitlement
	err := r.db.WithContext(ctx).
		Where("billing_subscription_id = ?", subscriptionID).
		Order("updated_at DESC").
		Take(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return entity.Entitlement{}, domainErrors.ErrEntitlementNotFound
		}
		return entity.Entitlement{}, fmt.Errorf("failed to get entitlement by subscription: %w", err)
	}
	return modelToEntity(&row), nil
}

func (r *entitlementRepository) ListDue(ctx context.Context, status entity.Status, cutoff time.Time, limit int) ([]entity.Entitlement, error) {
	// Must match Entitlement.DueAt and the partial indexes in createCustomIndexes.
	due := "COALESCE(canceled_at, updated_at)"
	if status == entity.StatusCancelAtPeriodEnd {
		due = "current_period_end"
	}

	var rows []model.Entitlement
	query := r.db.WithContext(ctx).
		Where("status = ?", string(status)).
		Where(due+" < ?", cutoff).
		Order(due + " ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list entitlements: %w", err)
	}

	out := make([]entity.Entitlement, 0, len(rows))
	for i := range rows {
		out = append(out, modelToEntity(&rows[i]))
	}
	return out, nil
}

// Upsert locks the user's row for the duration of fn. The revision guard on
// UPDATE and the primary key on INSERT catch writers that bypass the lock.
func (r *entitlementRepository) Upsert(ctx context.Context, userID uuid.UUID, cause repository.Cause, fn repository.TransitionFunc) (entity.Entitlement, bool, error) {
	var (
		result  entity.Entitlement
		changed bool
	)

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		current := entity.NewEntitlement(userID)

		var row model.Entitlement
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where("user_id = ?", userID).Take(&row).Error
		switch {
		case err == nil:
			current = modelToEntity(&row)
		case !errors.Is(err, gorm.ErrRecordNotFound):
			return fmt.Errorf("failed to lock entitlement: %w", err)
		}
		result = current

		next, ok, err := fn(current.Clone())
		if err != nil || !ok {
			return err
		}
		if err := next.Validate(); err != nil {
			return fmt.Errorf("%w: %v", domainErrors.ErrInvalidTransition, err)
		}

		now := r.now().UTC()
		next.UserID = userID
		next.Revision = current.Revision + 1
		next.UpdatedAt = now
		if !current.IsPersisted() {
			next.CreatedAt = now
			if err := tx.Create(entityToModel(next)).Error; err != nil {
				if errors.Is(err, gorm.ErrDuplicatedKey) {
					return domainErrors.ErrConcurrentModification
				}
				return fmt.Errorf("failed to create entitlement: %w", err)
			}
		} else {
			res := tx.Model(&model.Entitlement{}).
				Where("user_id = ? AND revision = ?", userID, current.Revision).
				Select("*").
				Updates(entityToModel(next))
			if res.Error != nil {
				return fmt.Errorf("failed to update entitlement: %w", res.Error)
			}
			if res.RowsAffected == 0 {
				return domainErrors.ErrConcurrentModification
			}
		}

		audit, err := auditRecord(current, next, cause)
		if err != nil {
			return fmt.Errorf("failed to encode audit record: %w", err)
		}
		if err := tx.Create(audit).Error; err != nil {
			return fmt.Errorf("failed to write audit record: %w", err)
		}

		result, changed = next, true
		return nil
	})
	if err != nil {
		return result, false, err
	}

	if changed {
		r.logger.Debug("Entitlement persisted",
			zap.String("user_id", userID.String()),
			zap.String("trigger", string(cause.Trigger)),
			zap.Int64("revision", result.Revision))
	}
	return result, changed, nil
}
