package catalog

import (
	"errors"
	"testing"

	"github.com/D-7J/beast-downloader-bot/internal/domain/plan"
	xerrors "github.com/D-7J/beast-downloader-bot/internal/pkg/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_DefaultTable(t *testing.T) {
	cat, err := New()
	require.NoError(t, err)

	free, err := cat.Limits(plan.TierFree)
	require.NoError(t, err)
	assert.Equal(t, 5, free.DailyQuota)
	assert.Equal(t, 1, free.MaxConcurrent)
	assert.Equal(t, 600, free.MaxDurationSeconds)

	gold, err := cat.Limits(plan.TierGold)
	require.NoError(t, err)
	assert.True(t, gold.QuotaUnlimited())
	assert.True(t, gold.DurationUnlimited())
	assert.Equal(t, 5, gold.MaxConcurrent)
}

func TestLimits_UnknownTier(t *testing.T) {
	cat, err := New()
	require.NoError(t, err)

	_, err = cat.Limits(plan.Tier("platinum"))
	assert.True(t, errors.Is(err, xerrors.ErrUnknownTier))
}

func TestTiersByPriority_GoldFirst(t *testing.T) {
	cat, err := New()
	require.NoError(t, err)

	tiers := cat.TiersByPriority()
	require.Len(t, tiers, 4)
	assert.Equal(t, plan.TierGold, tiers[0].Tier)
	assert.Equal(t, plan.TierSilver, tiers[1].Tier)
	assert.Equal(t, plan.TierBronze, tiers[2].Tier)
	assert.Equal(t, plan.TierFree, tiers[3].Tier)
}

func TestNewFromPlans_RejectsBadTables(t *testing.T) {
	base := defaultPlans()

	t.Run("duplicate weight", func(t *testing.T) {
		plans := defaultPlans()
		plans[0].PriorityWeight = plans[1].PriorityWeight
		_, err := NewFromPlans(plans)
		assert.Error(t, err)
	})

	t.Run("missing tier", func(t *testing.T) {
		_, err := NewFromPlans(base[:3])
		assert.Error(t, err)
	})

	t.Run("inverted ordering", func(t *testing.T) {
		plans := defaultPlans()
		for i := range plans {
			if plans[i].Tier == plan.TierGold {
				plans[i].PriorityWeight = 10
			}
		}
		_, err := NewFromPlans(plans)
		assert.Error(t, err)
	})

	t.Run("zero concurrency", func(t *testing.T) {
		plans := defaultPlans()
		plans[0].MaxConcurrent = 0
		_, err := NewFromPlans(plans)
		assert.Error(t, err)
	})
}
