package reconcile

import "nft-market-sync/internal/domain"

const maxScoredAttributes = 10

// ComputeRarity derives a rarity tier from the token id and attribute count.
// Each attribute is worth 10 points up to 10 attributes; round ids add the
// single largest applicable bonus (+40 for multiples of 100, +20 for 10, +10 for 5).
func ComputeRarity(id uint64, attributeCount int) domain.Rarity {
	n := attributeCount
	if n > maxScoredAttributes {
		n = maxScoredAttributes
	}
	if n < 0 {
		n = 0
	}
	score := n * 10

	switch {
	case id%100 == 0:
		score += 40
	case id%10 == 0:
		score += 20
	case id%5 == 0:
		score += 10
	}

	switch {
	case score >= 90:
		return domain.RarityLegendary
	case score >= 60:
		return domain.RarityEpic
	case score >= 30:
		return domain.RarityRare
	default:
		return domain.RarityCommon
	}
}
