// Package catalog maps provider prices to plan tiers and tiers to features.
package catalog

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
	"github.com/wekeepgrowing/entitlement-service/internal/domain/entity"
	domainErrors "github.com/wekeepgrowing/entitlement-service/internal/domain/errors"
)

// Plan is a purchasable price bound to a tier.
type Plan struct {
	Code        string          `json:"code"`
	PriceID     string          `json:"price_id"`
	Tier        entity.PlanTier `json:"tier"`
	DisplayName string          `json:"display_name"`
	Interval    string          `json:"interval"`
	Amount      decimal.Decimal `json:"amount"`
	Currency    string          `json:"currency"`
	SortOrder   int             `json:"sort_order"`
}

// Catalog is immutable after construction and safe for concurrent use.
type Catalog struct {
	defaultPaidTier entity.PlanTier
	plans           []Plan
	byPrice         map[string]Plan
	byCode          map[string]Plan
	features        map[entity.PlanTier]map[string]struct{}
}

// New builds a catalog. tierFeatures lists each tier's own features; inherits
// maps a tier to the tier whose features it also grants.
func New(defaultPaidTier entity.PlanTier, plans []Plan, tierFeatures map[entity.PlanTier][]string, inherits map[entity.PlanTier]entity.PlanTier) (*Catalog, error) {
	if !defaultPaidTier.IsPaid() {
		return nil, fmt.Errorf("default_paid_tier must be a paid tier, got %q", defaultPaidTier)
	}

	c := &Catalog{
		defaultPaidTier: defaultPaidTier,
		byPrice:         make(map[string]Plan, len(plans)),
		byCode:          make(map[string]Plan, len(plans)),
		features:        make(map[entity.PlanTier]map[string]struct{}),
	}

	for tier := range tierFeatures {
		if !tier.Valid() {
			return nil, fmt.Errorf("tiers: unknown tier %q", tier)
		}
		set, err := resolveFeatures(tier, tierFeatures, inherits)
		if err != nil {
			return nil, err
		}
		c.features[tier] = set
	}

	for i, p := range plans {
		if !p.Tier.IsPaid() {
			return nil, fmt.Errorf("plans[%d]: tier must be a paid tier, got %q", i, p.Tier)
		}
		if _, dup := c.byPrice[p.PriceID]; dup {
			return nil, fmt.Errorf("plans[%d]: duplicate price_id %q", i, p.PriceID)
		}
		if _, dup := c.byCode[p.Code]; dup {
			return nil, fmt.Errorf("plans[%d]: duplicate code %q", i, p.Code)
		}
		c.byPrice[p.PriceID] = p
		c.byCode[p.Code] = p
		c.plans = append(c.plans, p)
	}
	sort.SliceStable(c.plans, func(i, j int) bool { return c.plans[i].SortOrder < c.plans[j].SortOrder })

	return c, nil
}

func resolveFeatures(tier entity.PlanTier, own map[entity.PlanTier][]string, inherits map[entity.PlanTier]entity.PlanTier) (map[string]struct{}, error) {
	set := make(map[string]struct{})
	seen := map[entity.PlanTier]bool{}
	for cur := tier; cur != ""; cur = inherits[cur] {
		if seen[cur] {
			return nil, fmt.Errorf("tiers: inheritance cycle at %q", cur)
		}
		seen[cur] = true
		for _, f := range own[cur] {
			set[f] = struct{}{}
		}
	}
	return set, nil
}

// TierForPrice maps a provider price to a tier. Prices outside the catalog
// resolve to the default paid tier so a paying customer is never downgraded
// by a catalog gap.
func (c *Catalog) TierForPrice(priceID string) entity.PlanTier {
	if p, ok := c.byPrice[priceID]; ok {
		return p.Tier
	}
	return c.defaultPaidTier
}

// KnowsPrice reports whether priceID is configured.
func (c *Catalog) KnowsPrice(priceID string) bool {
	_, ok := c.byPrice[priceID]
	return ok
}

// PlanByCode returns ErrUnknownPlan for codes not in the catalog.
func (c *Catalog) PlanByCode(code string) (Plan, error) {
	p, ok := c.byCode[code]
	if !ok {
		return Plan{}, fmt.Errorf("%w: %s", domainErrors.ErrUnknownPlan, code)
	}
	return p, nil
}

// PlanByPrice returns ErrUnknownPlan for prices not in the catalog.
func (c *Catalog) PlanByPrice(priceID string) (Plan, error) {
	p, ok := c.byPrice[priceID]
	if !ok {
		return Plan{}, fmt.Errorf("%w: %s", domainErrors.ErrUnknownPlan, priceID)
	}
	return p, nil
}

// Plans returns the purchasable plans ordered for display.
func (c *Catalog) Plans() []Plan {
	return append([]Plan(nil), c.plans...)
}

// Allows reports whether tier grants feature. Unknown features are denied.
func (c *Catalog) Allows(tier entity.PlanTier, feature string) bool {
	_, ok := c.features[tier][feature]
	return ok
}

// Features returns the sorted feature set of tier.
func (c *Catalog) Features(tier entity.PlanTier) []string {
	out := make([]string, 0, len(c.features[tier]))
	for f := range c.features[tier] {
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}
