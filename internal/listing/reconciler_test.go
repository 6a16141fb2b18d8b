package listing

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nft-market-sync/internal/domain"
	"nft-market-sync/internal/evm/stub"
	"nft-market-sync/internal/observability"
)

var (
	seller = common.HexToAddress("0x00000000000000000000000000000000000005e1")
	bidder = common.HexToAddress("0x00000000000000000000000000000000000000b1")
)

func ether(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), big.NewInt(1e18))
}

func TestLoadActiveListings_SoldExcluded(t *testing.T) {
	ctx := context.Background()
	chain := stub.NewChain(1337)
	for i := uint64(0); i < 5; i++ {
		status := domain.ListingActive
		if i == 2 {
			status = domain.ListingSold
		}
		chain.AddListing(stub.Listing{
			TokenID: 10 + i,
			Seller:  seller,
			Price:   ether(1),
			Type:    domain.ListingFixedPrice,
			Status:  status,
		})
	}

	r := NewReconciler(chain, Options{Concurrency: 2})

	active, err := r.LoadActiveListings(ctx, chain.Scope())
	require.NoError(t, err)

	assert.Len(t, active, 4)
	_, ok := active[12]
	assert.False(t, ok, "sold listing must not be keyed")
	assert.Equal(t, uint64(3), active[13].ListingID)
	assert.Equal(t, "1", active[13].Price)
	assert.Equal(t, seller.Hex(), active[13].Seller)
}

func TestLoadActiveListings_FailedReadExcluded(t *testing.T) {
	ctx := context.Background()
	chain := stub.NewChain(1)
	chain.AddListing(stub.Listing{TokenID: 1, Seller: seller, Price: ether(1), Status: domain.ListingActive})
	chain.AddListing(stub.Listing{TokenID: 2, Seller: seller, Price: ether(2), Status: domain.ListingActive})
	chain.ListingErr[0] = errors.New("upstream timeout")

	r := NewReconciler(chain, Options{})

	active, err := r.LoadActiveListings(ctx, chain.Scope())
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "2", active[2].Price)
}

func TestLoadActiveListings_CountFailureReturned(t *testing.T) {
	chain := stub.NewChain(1)
	chain.ListingCountErr = errors.New("rpc unavailable")

	r := NewReconciler(chain, Options{})

	_, err := r.LoadActiveListings(context.Background(), chain.Scope())
	assert.Error(t, err)
}

func TestLoadActiveListings_DuplicateLaterIndexWins(t *testing.T) {
	chain := stub.NewChain(1)
	chain.AddListing(stub.Listing{TokenID: 7, Seller: seller, Price: ether(1), Status: domain.ListingActive})
	chain.AddListing(stub.Listing{TokenID: 8, Seller: seller, Price: ether(1), Status: domain.ListingCancelled})
	chain.AddListing(stub.Listing{TokenID: 7, Seller: seller, Price: ether(3), Status: domain.ListingActive})

	r := NewReconciler(chain, Options{Concurrency: 3})

	active, err := r.LoadActiveListings(context.Background(), chain.Scope())
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, uint64(2), active[7].ListingID)
	assert.Equal(t, "3", active[7].Price)
}

func TestLoadActiveListings_HugeCountCancelled(t *testing.T) {
	chain := stub.NewChain(1)
	chain.ReportedListingCount = 1 << 40

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	r := NewReconciler(chain, Options{})

	_, err := r.LoadActiveListings(ctx, chain.Scope())
	assert.ErrorIs(t, err, context.Canceled)
}

func TestLoadActiveListings_StatusRegressionKeepsChainState(t *testing.T) {
	ctx := context.Background()
	chain := stub.NewChain(1)
	chain.AddListing(stub.Listing{TokenID: 1, Seller: seller, Price: ether(1), Status: domain.ListingActive})
	chain.AddListing(stub.Listing{TokenID: 2, Seller: seller, Price: ether(1), Status: domain.ListingSold})

	r := NewReconciler(chain, Options{})

	active, err := r.LoadActiveListings(ctx, chain.Scope())
	require.NoError(t, err)
	require.Len(t, active, 1)

	before := testutil.ToFloat64(observability.DefaultMetrics.ListingRegressions.WithLabelValues("1"))

	// Sold back to Active is not a legal move; it is reported but still served.
	chain.SetListingStatus(1, domain.ListingActive)
	chain.SetListingStatus(0, domain.ListingCancelled)

	active, err = r.LoadActiveListings(ctx, chain.Scope())
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, uint64(1), active[2].ListingID)

	after := testutil.ToFloat64(observability.DefaultMetrics.ListingRegressions.WithLabelValues("1"))
	assert.Equal(t, before+1, after)
}

func TestLoadActiveListings_AuctionFields(t *testing.T) {
	chain := stub.NewChain(1)
	chain.AddListing(stub.Listing{
		TokenID:       4,
		Seller:        seller,
		Price:         ether(1),
		Type:          domain.ListingAuction,
		Status:        domain.ListingActive,
		HighestBid:    ether(2),
		HighestBidder: bidder,
		EndTime:       1700003600,
	})

	r := NewReconciler(chain, Options{})

	active, err := r.LoadActiveListings(context.Background(), chain.Scope())
	require.NoError(t, err)
	l := active[4]
	assert.Equal(t, domain.ListingAuction, l.Type)
	assert.Equal(t, "2", l.HighestBid)
	assert.Equal(t, bidder.Hex(), l.HighestBidder)
	assert.Equal(t, int64(1700003600), l.EndTime)
}

func TestStats(t *testing.T) {
	chain := stub.NewChain(1)
	chain.AddListing(stub.Listing{TokenID: 1, Seller: seller, Price: ether(1), Status: domain.ListingActive})
	chain.AddListing(stub.Listing{TokenID: 2, Seller: seller, Price: ether(1), Status: domain.ListingSold})

	r := NewReconciler(chain, Options{})

	stats, err := r.Stats(context.Background(), chain.Scope())
	require.NoError(t, err)
	assert.Equal(t, uint64(2), stats.TotalListings)
	assert.Equal(t, uint64(1), stats.ActiveListings)
	assert.Equal(t, "0", stats.TotalVolume)

	paused, err := r.Paused(context.Background(), chain.Scope())
	require.NoError(t, err)
	assert.False(t, paused)
}
