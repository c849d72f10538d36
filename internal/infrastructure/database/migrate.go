package database

import (
	"github.com/wekeepgrowing/entitlement-service/internal/domain/model"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Migrate runs database migrations
func Migrate(db *gorm.DB, logger *zap.Logger) error {
	logger.Info("Running database migrations...")

	if err := db.AutoMigrate(model.All()...); err != nil {
		logger.Error("Failed to run migrations", zap.Error(err))
		return err
	}
	logger.Info("GORM auto-migrations completed successfully")

	if err := createCustomIndexes(db); err != nil {
		logger.Error("Failed to create custom indexes", zap.Error(err))
		return err
	}

	logger.Info("Database migrations completed successfully")
	return nil
}

// createCustomIndexes creates custom indexes that GORM doesn't handle automatically
func createCustomIndexes(db *gorm.DB) error {
	// The sweeper lists due rows by deadline, see entitlementRepository.ListDue.
	sweeperIndexes := []string{
		`DROP INDEX IF EXISTS idx_entitlements_sweepable`,
		`CREATE INDEX IF NOT EXISTS idx_entitlements_scheduled_due ON entitlements (current_period_end) WHERE status = 'cancel_at_period_end'`,
		`CREATE INDEX IF NOT EXISTS idx_entitlements_canceled_due ON entitlements ((COALESCE(canceled_at, updated_at))) WHERE status = 'canceled'`,
	}
	for _, stmt := range sweeperIndexes {
		if err := db.Exec(stmt).Error; err != nil {
			return err
		}
	}

	// Enum guard in the database as well as in Entitlement.Validate.
	if err := db.Exec(`DO $$
BEGIN
    IF NOT EXISTS (SELECT 1 FROM pg_constraint WHERE conname = 'chk_entitlements_status') THEN
        ALTER TABLE entitlements ADD CONSTRAINT chk_entitlements_status
            CHECK (status IN ('none', 'active', 'past_due', 'cancel_at_period_end', 'canceled', 'expired'));
    END IF;
END $$;`).Error; err != nil {
		return err
	}

	return nil
}
