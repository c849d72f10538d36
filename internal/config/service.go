package config

import "time"

type ServiceConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
	Version     string `mapstructure:"version"`
	ClientURL   string `mapstructure:"client_url"`
}

type JWTConfig struct {
	Secret string `mapstructure:"secret"`
	// ServiceRole is the role claim required on internal endpoints.
	ServiceRole string `mapstructure:"service_role"`
}

type BillingConfig struct {
	Provider        string        `mapstructure:"provider"`
	SecretKey       string        `mapstructure:"secret_key"`
	WebhookSecret   string        `mapstructure:"webhook_secret"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	BaseURL         string        `mapstructure:"base_url"`
	SuccessURL      string        `mapstructure:"success_url"`
	CancelURL       string        `mapstructure:"cancel_url"`
	PortalReturnURL string        `mapstructure:"portal_return_url"`
}

// Ledger backends for webhook dedup.
const (
	LedgerDatabase = "database"
	LedgerRedis    = "redis"
	LedgerMemory   = "memory"
)

type WebhookConfig struct {
	DedupWindow time.Duration `mapstructure:"dedup_window"`
	Ledger      string        `mapstructure:"ledger"`
	BodyLimit   string        `mapstructure:"body_limit"`
}

type GateConfig struct {
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	AllowPastDue    bool          `mapstructure:"allow_past_due"`
	PeriodEndLeeway time.Duration `mapstructure:"period_end_leeway"`
}

type SweeperConfig struct {
	// Interval of 0 disables the background loop.
	Interval  time.Duration `mapstructure:"interval"`
	Retention time.Duration `mapstructure:"retention"`
	BatchSize int           `mapstructure:"batch_size"`
	Timeout   time.Duration `mapstructure:"timeout"`
}

type StoreConfig struct {
	MaxRetries int `mapstructure:"max_retries"`
}

// Change feed drivers.
const (
	EventsNone  = "none"
	EventsRedis = "redis"
	EventsAMQP  = "amqp"
)

type EventsConfig struct {
	Driver  string `mapstructure:"driver"`
	Channel string `mapstructure:"channel"`
}
