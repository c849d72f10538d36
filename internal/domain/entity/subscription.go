package entity

import (
	"time"

	"github.com/shopspring/decimal"
)

// ExternalSubscription is the billing provider's view of a subscription.
type ExternalSubscription struct {
	ID                string            `json:"id"`
	CustomerID        string            `json:"customer_id"`
	Status            string            `json:"status"`
	PriceID           string            `json:"price_id"`
	CurrentPeriodEnd  time.Time         `json:"current_period_end"`
	CancelAtPeriodEnd bool              `json:"cancel_at_period_end"`
	CanceledAt        *time.Time        `json:"canceled_at,omitempty"`
	Metadata          map[string]string `json:"metadata,omitempty"`
}

// CheckoutSession is a hosted checkout the user is redirected to.
type CheckoutSession struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

// Price is a recurring price offered by the provider.
type Price struct {
	ID            string          `json:"id"`
	ProductID     string          `json:"product_id"`
	Nickname      string          `json:"nickname,omitempty"`
	Currency      string          `json:"currency"`
	Amount        decimal.Decimal `json:"amount"`
	Interval      string          `json:"interval"`
	IntervalCount int64           `json:"interval_count"`
	Active        bool            `json:"active"`
}
