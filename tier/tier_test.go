package tier_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docustream/credits/tier"
)

func TestNewTable_RequiresFreeTier(t *testing.T) {
	_, err := tier.NewTable(map[tier.Tier]tier.Policy{
		tier.TierPro: {DailyLimit: 100, MonthlyLimit: 1000},
	})
	require.Error(t, err)
}

func TestNewTable_RejectsInvalidLimits(t *testing.T) {
	_, err := tier.NewTable(map[tier.Tier]tier.Policy{
		tier.TierFree: {DailyLimit: -2, MonthlyLimit: 10},
	})
	require.Error(t, err)

	_, err = tier.NewTable(map[tier.Tier]tier.Policy{
		tier.TierFree: {DailyLimit: 10, MonthlyLimit: -5},
	})
	require.Error(t, err)
}

func TestPolicyFor_FallsBackToFree(t *testing.T) {
	table, err := tier.NewTable(map[tier.Tier]tier.Policy{
		tier.TierFree: {DailyLimit: 10, MonthlyLimit: 100},
		tier.TierPro:  {DailyLimit: 500, MonthlyLimit: 5000},
	})
	require.NoError(t, err)

	assert.Equal(t, int64(500), table.PolicyFor(tier.TierPro).DailyLimit)

	// Unknown tiers get the most restrictive known policy.
	fallback := table.PolicyFor(tier.Tier("platinum"))
	assert.Equal(t, int64(10), fallback.DailyLimit)
	assert.Equal(t, int64(100), fallback.MonthlyLimit)
	assert.False(t, table.Known(tier.Tier("platinum")))
}

func TestPolicy_IsUnlimited(t *testing.T) {
	assert.True(t, tier.Policy{DailyLimit: tier.Unlimited, MonthlyLimit: tier.Unlimited}.IsUnlimited())
	assert.False(t, tier.Policy{DailyLimit: tier.Unlimited, MonthlyLimit: 100}.IsUnlimited())
	assert.False(t, tier.Policy{DailyLimit: 10, MonthlyLimit: tier.Unlimited}.IsUnlimited())
}

func TestDefaultTable(t *testing.T) {
	table := tier.DefaultTable()
	assert.True(t, table.Known(tier.TierFree))
	assert.True(t, table.PolicyFor(tier.TierEnterprise).IsUnlimited())
}

func TestCostTable_DefaultCost(t *testing.T) {
	costs, err := tier.NewCostTable(map[string]int64{
		"pdf-compress":  1,
		"ai-summarize":  5,
		"image-convert": 0,
	})
	require.NoError(t, err)

	got, err := costs.CostOf("ai-summarize")
	require.NoError(t, err)
	assert.Equal(t, int64(5), got)

	// Free tool.
	got, err = costs.CostOf("image-convert")
	require.NoError(t, err)
	assert.Equal(t, int64(0), got)

	// Unlisted tools charge the default cost of 1.
	got, err = costs.CostOf("never-heard-of-it")
	require.NoError(t, err)
	assert.Equal(t, int64(1), got)
}

func TestCostTable_Strict(t *testing.T) {
	costs, err := tier.NewCostTable(map[string]int64{"pdf-compress": 1}, tier.Strict())
	require.NoError(t, err)

	_, err = costs.CostOf("never-heard-of-it")
	require.Error(t, err)
	assert.True(t, errors.Is(err, tier.ErrUnknownTool))
}

func TestCostTable_RejectsNegativeCost(t *testing.T) {
	_, err := tier.NewCostTable(map[string]int64{"bad": -1})
	require.Error(t, err)

	_, err = tier.NewCostTable(nil, tier.WithDefaultCost(-3))
	require.Error(t, err)
}
