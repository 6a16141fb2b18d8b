package reconcile

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"nft-market-sync/internal/domain"
)

func TestComputeRarity(t *testing.T) {
	tests := []struct {
		id    uint64
		attrs int
		want  domain.Rarity
	}{
		{1, 0, domain.RarityCommon},
		{1, 2, domain.RarityCommon},
		{1, 3, domain.RarityRare},
		{5, 2, domain.RarityRare},          // 20 + 10
		{10, 1, domain.RarityRare},         // 10 + 20
		{10, 4, domain.RarityEpic},         // 40 + 20
		{7, 6, domain.RarityEpic},          // 60
		{100, 5, domain.RarityLegendary},   // 50 + 40, only the largest bonus applies
		{100, 0, domain.RarityRare},        // 40
		{3, 9, domain.RarityLegendary},     // 90
		{3, 25, domain.RarityLegendary},    // capped at 100
		{200, 4, domain.RarityEpic},        // 40 + 40
		{15, 8, domain.RarityLegendary},    // 80 + 10
		{11, 8, domain.RarityEpic},         // 80
		{1000, 10, domain.RarityLegendary}, // 100 + 40
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, ComputeRarity(tt.id, tt.attrs), "id=%d attrs=%d", tt.id, tt.attrs)
	}
}

func TestComputeRarity_Deterministic(t *testing.T) {
	for id := uint64(1); id <= 200; id++ {
		assert.Equal(t, ComputeRarity(id, int(id%12)), ComputeRarity(id, int(id%12)))
	}
}
