package loyalty

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/flashgrid/dropcoordinator/internal/config"
)

func testLoyaltyConfig() config.LoyaltyConfig {
	return config.LoyaltyConfig{
		SilverThreshold:  3,
		GoldThreshold:    10,
		SilverMultiplier: 1.25,
		GoldMultiplier:   1.5,
	}
}

func TestTierForCount_Bronze(t *testing.T) {
	tier, mult := TierForCount(0, testLoyaltyConfig())
	assert.Equal(t, TierBronze, tier)
	assert.Equal(t, 1.0, mult)

	tier, mult = TierForCount(2, testLoyaltyConfig())
	assert.Equal(t, TierBronze, tier)
	assert.Equal(t, 1.0, mult)
}

func TestTierForCount_SilverBoundaryInclusive(t *testing.T) {
	tier, mult := TierForCount(3, testLoyaltyConfig())
	assert.Equal(t, TierSilver, tier)
	assert.Equal(t, 1.25, mult)

	tier, _ = TierForCount(9, testLoyaltyConfig())
	assert.Equal(t, TierSilver, tier)
}

func TestTierForCount_GoldBoundaryInclusive(t *testing.T) {
	tier, mult := TierForCount(10, testLoyaltyConfig())
	assert.Equal(t, TierGold, tier)
	assert.Equal(t, 1.5, mult)

	tier, _ = TierForCount(500, testLoyaltyConfig())
	assert.Equal(t, TierGold, tier)
}

func TestTierForCount_Monotonicity(t *testing.T) {
	cfg := testLoyaltyConfig()
	prevMult := 0.0
	for count := 0; count <= 20; count++ {
		_, mult := TierForCount(count, cfg)
		assert.GreaterOrEqual(t, mult, prevMult)
		prevMult = mult
	}
}
