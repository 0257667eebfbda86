// internal/catalog/catalog.go
package catalog

import (
	"fmt"
	"sort"

	"github.com/D-7J/beast-downloader-bot/internal/domain/plan"
	xerrors "github.com/D-7J/beast-downloader-bot/internal/pkg/errors"
)

const (
	mb int64 = 1024 * 1024
	gb int64 = 1024 * mb
)

// defaultPlans mirrors the production plan table.
func defaultPlans() []plan.Limits {
	return []plan.Limits{
		{
			Tier:               plan.TierFree,
			Name:               "Free",
			DailyQuota:         5,
			MaxConcurrent:      1,
			MaxFileSizeBytes:   50 * mb,
			MaxDurationSeconds: 600,
			PriorityWeight:     4,
			PriceToman:         0,
		},
		{
			Tier:               plan.TierBronze,
			Name:               "Bronze",
			DailyQuota:         50,
			MaxConcurrent:      2,
			MaxFileSizeBytes:   200 * mb,
			MaxDurationSeconds: 1800,
			PriorityWeight:     3,
			PriceToman:         50000,
			DurationDays:       30,
		},
		{
			Tier:               plan.TierSilver,
			Name:               "Silver",
			DailyQuota:         150,
			MaxConcurrent:      3,
			MaxFileSizeBytes:   500 * mb,
			MaxDurationSeconds: 3600,
			PriorityWeight:     2,
			PriceToman:         100000,
			DurationDays:       30,
		},
		{
			Tier:               plan.TierGold,
			Name:               "Gold",
			DailyQuota:         plan.Unlimited,
			MaxConcurrent:      5,
			MaxFileSizeBytes:   2 * gb,
			MaxDurationSeconds: plan.Unlimited,
			PriorityWeight:     1,
			PriceToman:         200000,
			DurationDays:       30,
		},
	}
}

// Catalog is the read-only tier limit table.
type Catalog struct {
	byTier     map[plan.Tier]plan.Limits
	byPriority []plan.Limits // ascending priority weight, gold first
}

// New builds the default catalog.
func New() (*Catalog, error) {
	return NewFromPlans(defaultPlans())
}

// NewFromPlans builds a catalog from an explicit plan table, validating it
// up front rather than trusting every access site.
func NewFromPlans(plans []plan.Limits) (*Catalog, error) {
	if len(plans) == 0 {
		return nil, fmt.Errorf("empty plan table")
	}

	byTier := make(map[plan.Tier]plan.Limits, len(plans))
	weights := make(map[int]plan.Tier, len(plans))
	for _, p := range plans {
		if !p.Tier.Valid() {
			return nil, fmt.Errorf("plan table contains unknown tier %q", p.Tier)
		}
		if _, dup := byTier[p.Tier]; dup {
			return nil, fmt.Errorf("duplicate plan entry for tier %q", p.Tier)
		}
		if p.MaxConcurrent < 1 {
			return nil, fmt.Errorf("tier %q: max_concurrent must be >= 1", p.Tier)
		}
		if p.MaxFileSizeBytes <= 0 {
			return nil, fmt.Errorf("tier %q: max_file_size_bytes must be positive", p.Tier)
		}
		if p.DailyQuota != plan.Unlimited && p.DailyQuota < 0 {
			return nil, fmt.Errorf("tier %q: invalid daily_quota %d", p.Tier, p.DailyQuota)
		}
		if prev, dup := weights[p.PriorityWeight]; dup {
			return nil, fmt.Errorf("tiers %q and %q share priority weight %d", prev, p.Tier, p.PriorityWeight)
		}
		byTier[p.Tier] = p
		weights[p.PriorityWeight] = p.Tier
	}

	// Paid tiers must outrank free, gold must outrank everything.
	if err := checkOrdering(byTier); err != nil {
		return nil, err
	}

	ordered := make([]plan.Limits, 0, len(byTier))
	for _, p := range byTier {
		ordered = append(ordered, p)
	}
	sort.Slice(ordered, func(i, j int) bool {
		return ordered[i].PriorityWeight < ordered[j].PriorityWeight
	})

	return &Catalog{byTier: byTier, byPriority: ordered}, nil
}

func checkOrdering(byTier map[plan.Tier]plan.Limits) error {
	order := []plan.Tier{plan.TierGold, plan.TierSilver, plan.TierBronze, plan.TierFree}
	prev := -1
	for _, t := range order {
		p, ok := byTier[t]
		if !ok {
			return fmt.Errorf("plan table is missing tier %q", t)
		}
		if p.PriorityWeight <= prev {
			return fmt.Errorf("priority weights must strictly order gold < silver < bronze < free")
		}
		prev = p.PriorityWeight
	}
	return nil
}

// Limits returns the limit set for a tier. An unknown tier in stored data is
// a deploy mismatch, not a user condition: it surfaces as ErrUnknownTier and
// must not be retried.
func (c *Catalog) Limits(tier plan.Tier) (plan.Limits, error) {
	p, ok := c.byTier[tier]
	if !ok {
		return plan.Limits{}, fmt.Errorf("%w: %q", xerrors.ErrUnknownTier, tier)
	}
	return p, nil
}

// TiersByPriority returns all tiers ordered by ascending priority weight
// (gold first). The returned slice must not be mutated.
func (c *Catalog) TiersByPriority() []plan.Limits {
	return c.byPriority
}
