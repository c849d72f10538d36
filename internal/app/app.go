// Package app wires configuration into the store, provider, change feed and
// use cases shared by the server and entitlementctl.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/wekeepgrowing/entitlement-service/internal/catalog"
	"github.com/wekeepgrowing/entitlement-service/internal/config"
	"github.com/wekeepgrowing/entitlement-service/internal/infrastructure/database"
	"github.com/wekeepgrowing/entitlement-service/internal/infrastructure/messaging"
	"github.com/wekeepgrowing/entitlement-service/internal/infrastructure/provider"
	"github.com/wekeepgrowing/entitlement-service/internal/usecase"
	pkgMessaging "github.com/wekeepgrowing/entitlement-service/pkg/messaging"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type App struct {
	Config    *config.Config
	Logger    *zap.Logger
	DB        *gorm.DB
	Redis     *redis.Client
	Repos     *database.Repositories
	Billing   provider.Billing
	Catalog   *catalog.Catalog
	Publisher messaging.Publisher
	Service   *usecase.EntitlementService
	Gate      *usecase.AccessGate
	Ingestor  *usecase.WebhookIngestor
	Sweeper   *usecase.Sweeper
}

// Options adjusts what New connects to.
type Options struct {
	// SkipMigrate leaves the schema alone even when database.auto_migrate is set.
	SkipMigrate bool
}

// New connects every backend the config selects. Close releases them.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger, opts Options) (*App, error) {
	a := &App{Config: cfg, Logger: logger}
	ok := false
	defer func() {
		if !ok {
			a.Close()
		}
	}()

	plans, err := catalog.LoadFile(cfg.PlansFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load plan catalog: %w", err)
	}
	a.Catalog = plans
	logger.Info("Plan catalog loaded",
		zap.String("path", cfg.PlansFile),
		zap.Int("plans", len(plans.Plans())))

	if cfg.Database.Driver == config.DriverPostgres {
		a.DB, err = database.NewConnection(&cfg.Database, logger)
		if err != nil {
			return nil, err
		}
		if cfg.Database.AutoMigrate && !opts.SkipMigrate {
			if err := database.Migrate(a.DB, logger); err != nil {
				return nil, fmt.Errorf("failed to run database migrations: %w", err)
			}
		}
	}

	if cfg.Redis.Addr != "" {
		a.Redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := a.Redis.Ping(pingCtx).Err(); err != nil {
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		logger.Info("Redis connection established", zap.String("addr", cfg.Redis.Addr))
	}

	a.Repos, err = database.NewRepositories(cfg, a.DB, a.Redis, logger)
	if err != nil {
		return nil, err
	}

	a.Billing, err = provider.NewFactory(cfg.Billing, logger).Create()
	if err != nil {
		return nil, fmt.Errorf("failed to create billing provider: %w", err)
	}

	var feed pkgMessaging.RedisClient
	if a.Redis != nil {
		feed = pkgMessaging.FromClient(a.Redis)
	}
	a.Publisher, err = messaging.NewPublisher(*cfg, feed, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create change publisher: %w", err)
	}

	a.Service = usecase.NewEntitlementService(a.Repos.Entitlements, a.Billing, plans, a.Publisher, logger, usecase.EntitlementServiceConfig{
		MaxRetries:      cfg.Store.MaxRetries,
		Retention:       cfg.Sweeper.Retention,
		SuccessURL:      cfg.Billing.SuccessURL,
		CancelURL:       cfg.Billing.CancelURL,
		PortalReturnURL: cfg.Billing.PortalReturnURL,
	})
	a.Gate = usecase.NewAccessGate(a.Repos.Entitlements, plans, logger, usecase.AccessGateConfig{
		ReadTimeout:     cfg.Gate.ReadTimeout,
		AllowPastDue:    cfg.Gate.AllowPastDue,
		PeriodEndLeeway: cfg.Gate.PeriodEndLeeway,
	})
	a.Ingestor = usecase.NewWebhookIngestor(a.Billing, a.Billing, a.Repos.Ledger, a.Repos.Entitlements, a.Service, logger)
	a.Sweeper = usecase.NewSweeper(a.Service, a.Repos.Entitlements, a.Repos.Ledger, logger, usecase.SweeperConfig{
		Interval:        cfg.Sweeper.Interval,
		Timeout:         cfg.Sweeper.Timeout,
		BatchSize:       cfg.Sweeper.BatchSize,
		PeriodEndLeeway: cfg.Gate.PeriodEndLeeway,
		DedupWindow:     cfg.Webhook.DedupWindow,
	})

	ok = true
	return a, nil
}

// Close releases connections in reverse order of creation.
func (a *App) Close() {
	if a.Publisher != nil {
		if err := a.Publisher.Close(); err != nil {
			a.Logger.Error("Failed to close change publisher", zap.Error(err))
		}
	}
	// FromClient does not own the connection, so it is closed here.
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			a.Logger.Error("Failed to close redis connection", zap.Error(err))
		}
	}
	if a.DB != nil {
		if err := database.Close(a.DB, a.Logger); err != nil {
			a.Logger.Error("Failed to close database connection", zap.Error(err))
		}
	}
}
