package retrieval

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLinkScoreDecaysWithDepth(t *testing.T) {
	assert.InDelta(t, 0.8, LinkScore(1, "standard", 1), 1e-9)
	assert.InDelta(t, 0.72, LinkScore(2, "standard", 1), 1e-9)
	assert.InDelta(t, 0.648, LinkScore(3, "standard", 1), 1e-9)

	for depth := 1; depth < 10; depth++ {
		assert.Greater(t, LinkScore(depth, "standard", 1), LinkScore(depth+1, "standard", 1))
	}
}

func TestLinkScorePromotionMultiplier(t *testing.T) {
	standard := LinkScore(2, "standard", 1)
	important := LinkScore(2, "important", 1)
	critical := LinkScore(2, "critical", 1)

	assert.InDelta(t, standard*1.15, important, 1e-9)
	assert.InDelta(t, standard*1.3, critical, 1e-9)
}

func TestLinkScoreConvergenceBonusIsCapped(t *testing.T) {
	one := LinkScore(3, "standard", 1)
	two := LinkScore(3, "standard", 2)
	five := LinkScore(3, "standard", 5)
	many := LinkScore(3, "standard", 50)

	assert.InDelta(t, one*1.05, two, 1e-9)
	assert.InDelta(t, one*1.2, five, 1e-9)
	assert.Equal(t, five, many, "bonus saturates at +20%")
}

func TestLinkScoreClampedToUnitInterval(t *testing.T) {
	// Direct critical neighbor with heavy convergence would exceed 1.
	assert.Equal(t, 1.0, LinkScore(1, "critical", 10))
	assert.GreaterOrEqual(t, LinkScore(20, "standard", 1), 0.0)
}

func TestLinkScoreTreatsUnknownPromotionAsStandard(t *testing.T) {
	assert.Equal(t, LinkScore(2, "standard", 1), LinkScore(2, "", 1))
	assert.Equal(t, LinkScore(2, "standard", 1), LinkScore(2, "ultra", 1))
}
