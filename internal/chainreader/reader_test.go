package chainreader

import (
	"context"
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nft-market-sync/internal/evm/stub"
)

var (
	alice = common.HexToAddress("0x00000000000000000000000000000000000a11ce")
	bob   = common.HexToAddress("0x0000000000000000000000000000000000000b0b")
)

func TestEnumerateTokens_BurnedTokenExcluded(t *testing.T) {
	ctx := context.Background()
	chain := stub.NewChain(1337)
	chain.Mint(alice, "ipfs://one")
	chain.Mint(alice, "ipfs://two")
	chain.Mint(bob, "ipfs://three")
	chain.Burn(2)

	r := NewReader(chain, Options{Concurrency: 2})

	supply, err := r.TotalSupply(ctx, chain.Scope())
	require.NoError(t, err)
	require.Equal(t, uint64(3), supply)

	res, err := r.EnumerateTokens(ctx, chain.Scope(), supply)
	require.NoError(t, err)

	require.Len(t, res.Tokens, 2)
	assert.Equal(t, uint64(1), res.Tokens[0].ID)
	assert.Equal(t, alice.Hex(), res.Tokens[0].Owner)
	assert.Equal(t, "ipfs://one", res.Tokens[0].URI)
	assert.Equal(t, uint64(3), res.Tokens[1].ID)
	assert.Equal(t, bob.Hex(), res.Tokens[1].Owner)
	assert.Equal(t, 1, res.Nonexistent)
	assert.Equal(t, 0, res.Failed)
}

func TestEnumerateTokens_TransientErrorExcluded(t *testing.T) {
	ctx := context.Background()
	chain := stub.NewChain(1337)
	for i := 0; i < 5; i++ {
		chain.Mint(alice, "ar://token")
	}
	chain.TokenURIErr[4] = errors.New("connection reset by peer")
	chain.OwnerOfErr[2] = errors.New("i/o timeout")

	r := NewReader(chain, Options{})

	res, err := r.EnumerateTokens(ctx, chain.Scope(), 5)
	require.NoError(t, err)

	ids := make([]uint64, 0, len(res.Tokens))
	for _, tok := range res.Tokens {
		ids = append(ids, tok.ID)
	}
	assert.Equal(t, []uint64{1, 3, 5}, ids)
	assert.Equal(t, 2, res.Failed)
	assert.Equal(t, 0, res.Nonexistent)
}

func TestEnumerateTokens_SortedAcrossManyIDs(t *testing.T) {
	ctx := context.Background()
	chain := stub.NewChain(1)
	for i := 0; i < 50; i++ {
		chain.Mint(alice, "https://example.com/meta.json")
	}
	for _, id := range []uint64{7, 8, 30} {
		chain.Burn(id)
	}

	r := NewReader(chain, Options{Concurrency: 4})

	res, err := r.EnumerateTokens(ctx, chain.Scope(), 50)
	require.NoError(t, err)
	require.Len(t, res.Tokens, 47)
	for i := 1; i < len(res.Tokens); i++ {
		assert.Less(t, res.Tokens[i-1].ID, res.Tokens[i].ID)
	}
	assert.Equal(t, 50, chain.Calls("ownerOf"))
}

func TestEnumerateTokens_EmptySupply(t *testing.T) {
	chain := stub.NewChain(1)
	r := NewReader(chain, Options{})

	res, err := r.EnumerateTokens(context.Background(), chain.Scope(), 0)
	require.NoError(t, err)
	assert.Empty(t, res.Tokens)
}

func TestEnumerateTokens_Cancelled(t *testing.T) {
	chain := stub.NewChain(1)
	chain.Mint(alice, "ipfs://x")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	r := NewReader(chain, Options{})
	_, err := r.EnumerateTokens(ctx, chain.Scope(), 1)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestEnumerateTokens_HugeSupplyCancelled(t *testing.T) {
	chain := stub.NewChain(1)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	r := NewReader(chain, Options{})
	_, err := r.EnumerateTokens(ctx, chain.Scope(), 1<<40)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestApprovalReads(t *testing.T) {
	ctx := context.Background()
	chain := stub.NewChain(1)
	chain.Mint(alice, "ipfs://x")
	chain.SetApprovalForAll(alice, stub.MarketplaceAddress, true)

	r := NewReader(chain, Options{})

	approved, err := r.IsApprovedForAll(ctx, chain.Scope(), alice.Hex(), stub.MarketplaceAddress.Hex())
	require.NoError(t, err)
	assert.True(t, approved)

	operator, err := r.GetApproved(ctx, chain.Scope(), 1)
	require.NoError(t, err)
	assert.Equal(t, common.Address{}.Hex(), operator)

	paused, err := r.Paused(ctx, chain.Scope())
	require.NoError(t, err)
	assert.False(t, paused)
}
