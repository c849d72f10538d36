package catalog

import (
	"bytes"
	"fmt"
	"os"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/wekeepgrowing/entitlement-service/internal/domain/entity"
	"gopkg.in/yaml.v3"
)

type catalogFile struct {
	DefaultPaidTier string               `yaml:"default_paid_tier"`
	Tiers           map[string]tierEntry `yaml:"tiers"`
	Plans           []planEntry          `yaml:"plans"`
}

type tierEntry struct {
	Inherits string   `yaml:"inherits"`
	Features []string `yaml:"features"`
}

type planEntry struct {
	Code        string `yaml:"code"`
	PriceID     string `yaml:"price_id"`
	Tier        string `yaml:"tier"`
	DisplayName string `yaml:"display_name"`
	Interval    string `yaml:"interval"`
	Amount      string `yaml:"amount"`
	Currency    string `yaml:"currency"`
	SortOrder   int    `yaml:"sort_order"`
}

// LoadFile reads a plan catalog YAML file.
func LoadFile(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read plans file: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates a plan catalog document.
func Parse(data []byte) (*Catalog, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, fmt.Errorf("plans file is empty")
	}

	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("unmarshal plans yaml: %w", err)
	}

	defaultTier := entity.PlanTier(file.DefaultPaidTier)
	if defaultTier == "" {
		defaultTier = entity.PlanTierPro
	}

	features := make(map[entity.PlanTier][]string, len(file.Tiers))
	inherits := make(map[entity.PlanTier]entity.PlanTier, len(file.Tiers))
	for name, t := range file.Tiers {
		tier := entity.PlanTier(name)
		features[tier] = t.Features
		if t.Inherits != "" {
			parent := entity.PlanTier(t.Inherits)
			if _, ok := file.Tiers[t.Inherits]; !ok {
				return nil, fmt.Errorf("tiers.%s: inherits unknown tier %q", name, t.Inherits)
			}
			inherits[tier] = parent
		}
	}

	plans := make([]Plan, 0, len(file.Plans))
	for i, entry := range file.Plans {
		if entry.Code == "" {
			return nil, fmt.Errorf("plans[%d]: code is required", i)
		}
		if entry.PriceID == "" {
			return nil, fmt.Errorf("plans[%d]: price_id is required", i)
		}
		if entry.Tier == "" {
			return nil, fmt.Errorf("plans[%d]: tier is required", i)
		}

		amount := decimal.Zero
		if entry.Amount != "" {
			parsed, err := decimal.NewFromString(entry.Amount)
			if err != nil {
				return nil, fmt.Errorf("plans[%d]: invalid amount %q: %w", i, entry.Amount, err)
			}
			amount = parsed
		}

		displayName := entry.DisplayName
		if displayName == "" {
			displayName = entry.Code
		}
		interval := entry.Interval
		if interval == "" {
			interval = "month"
		}

		plans = append(plans, Plan{
			Code:        entry.Code,
			PriceID:     entry.PriceID,
			Tier:        entity.PlanTier(entry.Tier),
			DisplayName: displayName,
			Interval:    interval,
			Amount:      amount,
			Currency:    strings.ToUpper(strings.TrimSpace(entry.Currency)),
			SortOrder:   entry.SortOrder,
		})
	}

	return New(defaultTier, plans, features, inherits)
}
