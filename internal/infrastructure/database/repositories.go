package database

import (
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/wekeepgrowing/entitlement-service/internal/adapter/repository"
	"github.com/wekeepgrowing/entitlement-service/internal/config"
	domainRepo "github.com/wekeepgrowing/entitlement-service/internal/domain/repository"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Repositories holds all repository instances
type Repositories struct {
	Entitlements domainRepo.EntitlementRepository
	Ledger       domainRepo.EventLedger
}

// NewRepositories wires the store and the dedup ledger selected by config. db
// is nil for the memory driver and redisClient is nil when redis is unused.
func NewRepositories(cfg *config.Config, db *gorm.DB, redisClient *redis.Client, logger *zap.Logger) (*Repositories, error) {
	repos := &Repositories{}

	switch cfg.Database.Driver {
	case config.DriverPostgres:
		if db == nil {
			return nil, fmt.Errorf("postgres driver requires a database connection")
		}
		repos.Entitlements = repository.NewEntitlementRepository(db, logger)
	case config.DriverMemory:
		logger.Warn("Using in-memory entitlement store; state is lost on restart")
		repos.Entitlements = repository.NewMemoryEntitlementRepository()
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", cfg.Database.Driver)
	}

	switch cfg.Webhook.Ledger {
	case config.LedgerDatabase:
		if db == nil {
			return nil, fmt.Errorf("database ledger requires a database connection")
		}
		repos.Ledger = repository.NewEventLedger(db, logger)
	case config.LedgerRedis:
		if redisClient == nil {
			return nil, fmt.Errorf("redis ledger requires a redis connection")
		}
		repos.Ledger = repository.NewRedisEventLedger(redisClient, cfg.Webhook.DedupWindow)
	case config.LedgerMemory:
		repos.Ledger = repository.NewMemoryEventLedger()
	default:
		return nil, fmt.Errorf("unsupported webhook ledger: %s", cfg.Webhook.Ledger)
	}

	return repos, nil
}
