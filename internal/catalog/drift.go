package catalog

import (
	"fmt"
	"sort"
	"strings"

	"github.com/wekeepgrowing/entitlement-service/internal/domain/entity"
)

// DriftKind classifies a difference between the catalog and the provider.
type DriftKind string

const (
	// DriftMissing means a catalog price is not active at the provider.
	DriftMissing DriftKind = "missing"
	// DriftMismatch means the provider price disagrees on amount, currency or interval.
	DriftMismatch DriftKind = "mismatch"
	// DriftUnmapped means an active provider price is not in the catalog and
	// resolves to the default paid tier.
	DriftUnmapped DriftKind = "unmapped"
)

type Drift struct {
	Kind     DriftKind       `json:"kind"`
	PriceID  string          `json:"price_id"`
	PlanCode string          `json:"plan_code,omitempty"`
	Tier     entity.PlanTier `json:"tier"`
	Detail   string          `json:"detail,omitempty"`
}

// Diff compares the catalog against the provider's active recurring prices.
// Fields left empty in the catalog are not compared.
func (c *Catalog) Diff(prices []entity.Price) []Drift {
	byID := make(map[string]entity.Price, len(prices))
	for _, p := range prices {
		byID[p.ID] = p
	}

	var out []Drift
	for _, plan := range c.plans {
		price, ok := byID[plan.PriceID]
		if !ok || !price.Active {
			out = append(out, Drift{Kind: DriftMissing, PriceID: plan.PriceID, PlanCode: plan.Code, Tier: plan.Tier})
			continue
		}
		if detail := mismatch(plan, price); detail != "" {
			out = append(out, Drift{Kind: DriftMismatch, PriceID: plan.PriceID, PlanCode: plan.Code, Tier: plan.Tier, Detail: detail})
		}
	}

	for _, p := range prices {
		if !p.Active || c.KnowsPrice(p.ID) {
			continue
		}
		out = append(out, Drift{Kind: DriftUnmapped, PriceID: p.ID, Tier: c.defaultPaidTier, Detail: p.Nickname})
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Kind != out[j].Kind {
			return out[i].Kind < out[j].Kind
		}
		return out[i].PriceID < out[j].PriceID
	})
	return out
}

func mismatch(plan Plan, price entity.Price) string {
	var diffs []string
	if !plan.Amount.IsZero() && !plan.Amount.Equal(price.Amount) {
		diffs = append(diffs, fmt.Sprintf("amount %s != %s", plan.Amount, price.Amount))
	}
	if plan.Currency != "" && !strings.EqualFold(plan.Currency, price.Currency) {
		diffs = append(diffs, fmt.Sprintf("currency %s != %s", plan.Currency, price.Currency))
	}
	if plan.Interval != "" && plan.Interval != price.Interval {
		diffs = append(diffs, fmt.Sprintf("interval %s != %s", plan.Interval, price.Interval))
	}
	return strings.Join(diffs, "; ")
}
