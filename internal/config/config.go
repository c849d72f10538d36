package config

import (
	"fmt"
	"time"

	pkgconfig "github.com/wekeepgrowing/entitlement-service/pkg/config"
	"github.com/wekeepgrowing/entitlement-service/pkg/logger"
)

// ServiceName is the config file stem and the env prefix (ENTITLEMENT_).
const ServiceName = "entitlement"

type Config struct {
	Service   ServiceConfig  `mapstructure:"service"`
	Server    ServerConfig   `mapstructure:"server"`
	Database  DatabaseConfig `mapstructure:"database"`
	Redis     RedisConfig    `mapstructure:"redis"`
	AMQP      AMQPConfig     `mapstructure:"amqp"`
	Log       logger.Config  `mapstructure:"log"`
	JWT       JWTConfig      `mapstructure:"jwt"`
	Billing   BillingConfig  `mapstructure:"billing"`
	Webhook   WebhookConfig  `mapstructure:"webhook"`
	Gate      GateConfig     `mapstructure:"gate"`
	Sweeper   SweeperConfig  `mapstructure:"sweeper"`
	Store     StoreConfig    `mapstructure:"store"`
	Events    EventsConfig   `mapstructure:"events"`
	PlansFile string         `mapstructure:"plans_file"`
}

// Defaults registers a value for every key so env overrides always apply.
func Defaults() map[string]interface{} {
	return map[string]interface{}{
		"service.name":        ServiceName,
		"service.environment": "dev",
		"service.version":     "dev",
		"service.client_url":  "http://localhost:3000",

		"server.http.host":             "0.0.0.0",
		"server.http.port":             8080,
		"server.http.read_timeout":     15 * time.Second,
		"server.http.write_timeout":    15 * time.Second,
		"server.http.shutdown_timeout": 10 * time.Second,
		"server.grpc.enabled":          true,
		"server.grpc.host":             "0.0.0.0",
		"server.grpc.port":             9090,

		"database.driver":             DriverPostgres,
		"database.host":               "localhost",
		"database.port":               5432,
		"database.name":               "entitlement",
		"database.user":               "postgres",
		"database.password":           "",
		"database.ssl_mode":           "disable",
		"database.max_open_conns":     25,
		"database.max_idle_conns":     5,
		"database.conn_max_lifetime":  30 * time.Minute,
		"database.conn_max_idle_time": 5 * time.Minute,
		"database.log_level":          "warn",
		"database.slow_threshold":     200 * time.Millisecond,
		"database.auto_migrate":       true,

		"redis.addr":     "",
		"redis.password": "",
		"redis.db":       0,

		"amqp.url":   "",
		"amqp.queue": "entitlement.changed",

		"log.level":       "info",
		"log.format":      "json",
		"log.output":      "stdout",
		"log.file_path":   "",
		"log.development": false,

		"jwt.secret":       "",
		"jwt.service_role": "service_role",

		"billing.provider":          "stripe",
		"billing.secret_key":        "",
		"billing.webhook_secret":    "",
		"billing.request_timeout":   10 * time.Second,
		"billing.base_url":          "",
		"billing.success_url":       "",
		"billing.cancel_url":        "",
		"billing.portal_return_url": "",

		"webhook.dedup_window": 72 * time.Hour,
		"webhook.ledger":       LedgerDatabase,
		"webhook.body_limit":   "1M",

		"gate.read_timeout":      250 * time.Millisecond,
		"gate.allow_past_due":    true,
		"gate.period_end_leeway": time.Hour,

		"sweeper.interval":   5 * time.Minute,
		"sweeper.retention":  30 * 24 * time.Hour,
		"sweeper.batch_size": 100,
		"sweeper.timeout":    time.Minute,

		"store.max_retries": 3,

		"events.driver":  EventsNone,
		"events.channel": "entitlement.changed",

		"plans_file": "configs/plans.yaml",
	}
}

// Load reads configs/{APP_ENV}/entitlement.yaml (or CONFIG_PATH) with
// ENTITLEMENT_* env overrides, then validates the result.
func Load() (*Config, error) {
	return LoadFrom("")
}

// LoadFrom is Load with an explicit file or directory.
func LoadFrom(path string) (*Config, error) {
	var cfg Config
	if err := pkgconfig.Load(ServiceName, &cfg, pkgconfig.Options{Defaults: Defaults(), Path: path}); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks required secrets and driver names.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case DriverPostgres, DriverMemory:
	default:
		return fmt.Errorf("database.driver: unsupported driver %q", c.Database.Driver)
	}

	switch c.Webhook.Ledger {
	case LedgerDatabase:
		if c.Database.Driver == DriverMemory {
			return fmt.Errorf("webhook.ledger: %q requires database.driver %q", LedgerDatabase, DriverPostgres)
		}
	case LedgerRedis:
		if c.Redis.Addr == "" {
			return fmt.Errorf("webhook.ledger: redis ledger requires redis.addr")
		}
	case LedgerMemory:
	default:
		return fmt.Errorf("webhook.ledger: unsupported ledger %q", c.Webhook.Ledger)
	}

	switch c.Events.Driver {
	case EventsNone:
	case EventsRedis:
		if c.Redis.Addr == "" {
			return fmt.Errorf("events.driver: redis requires redis.addr")
		}
	case EventsAMQP:
		if c.AMQP.URL == "" {
			return fmt.Errorf("events.driver: amqp requires amqp.url")
		}
	default:
		return fmt.Errorf("events.driver: unsupported driver %q", c.Events.Driver)
	}

	if c.Billing.Provider != "stripe" {
		return fmt.Errorf("billing.provider: unsupported provider %q", c.Billing.Provider)
	}
	if c.Billing.SecretKey == "" {
		return fmt.Errorf("billing.secret_key is required")
	}
	if c.Billing.WebhookSecret == "" {
		return fmt.Errorf("billing.webhook_secret is required")
	}
	if c.JWT.Secret == "" {
		return fmt.Errorf("jwt.secret is required")
	}
	if c.Store.MaxRetries < 1 {
		return fmt.Errorf("store.max_retries must be at least 1")
	}
	if c.Gate.ReadTimeout <= 0 {
		return fmt.Errorf("gate.read_timeout must be positive")
	}
	return nil
}
