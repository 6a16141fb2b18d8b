package contracts

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nft-market-sync/internal/domain"
	"nft-market-sync/internal/evm"
)

var (
	seller = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	bidder = common.HexToAddress("0x00000000000000000000000000000000000000b2")
)

func packOutputs(t *testing.T, contract abi.ABI, method string, values ...interface{}) []byte {
	t.Helper()
	data, err := contract.Methods[method].Outputs.Pack(values...)
	require.NoError(t, err)
	return data
}

func errorStringRevert(t *testing.T, reason string) string {
	t.Helper()
	stringType, err := abi.NewType("string", "", nil)
	require.NoError(t, err)
	encoded, err := abi.Arguments{{Type: stringType}}.Pack(reason)
	require.NoError(t, err)
	selector := []byte{0x08, 0xc3, 0x79, 0xa0}
	return hexutil.Encode(append(selector, encoded...))
}

func TestDecodeListing(t *testing.T) {
	oneEther := new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)
	halfEther := new(big.Int).Div(oneEther, big.NewInt(2))

	data := packOutputs(t, MarketplaceABI, "getListing", listingTuple{
		ListingId:     big.NewInt(4),
		TokenId:       big.NewInt(12),
		Seller:        seller,
		Price:         new(big.Int).Add(oneEther, halfEther),
		ListingType:   1,
		Status:        0,
		HighestBid:    halfEther,
		HighestBidder: bidder,
		EndTime:       big.NewInt(1700000000),
	})

	listing, err := DecodeListing(data)
	require.NoError(t, err)

	assert.Equal(t, uint64(4), listing.ListingID)
	assert.Equal(t, uint64(12), listing.TokenID)
	assert.Equal(t, seller.Hex(), listing.Seller)
	assert.Equal(t, "1.5", listing.Price)
	assert.Equal(t, domain.ListingAuction, listing.Type)
	assert.Equal(t, domain.ListingActive, listing.Status)
	assert.Equal(t, "0.5", listing.HighestBid)
	assert.Equal(t, bidder.Hex(), listing.HighestBidder)
	assert.Equal(t, int64(1700000000), listing.EndTime)
}

func TestDecodeListing_InvalidStatus(t *testing.T) {
	data := packOutputs(t, MarketplaceABI, "getListing", listingTuple{
		ListingId:  big.NewInt(1),
		TokenId:    big.NewInt(1),
		Price:      big.NewInt(1),
		Status:     7,
		HighestBid: big.NewInt(0),
		EndTime:    big.NewInt(0),
	})

	_, err := DecodeListing(data)
	assert.Error(t, err)
}

func TestDecodeListing_EmptyData(t *testing.T) {
	_, err := DecodeListing(nil)
	assert.Error(t, err)
}

func TestDecodeMarketplaceStats(t *testing.T) {
	volume, _ := new(big.Int).SetString("2500000000000000000", 10)
	data := packOutputs(t, MarketplaceABI, "getMarketplaceStats", big.NewInt(10), big.NewInt(3), big.NewInt(5), volume)

	stats, err := DecodeMarketplaceStats(data)
	require.NoError(t, err)

	assert.Equal(t, domain.MarketplaceStats{TotalListings: 10, ActiveListings: 3, TotalSales: 5, TotalVolume: "2.5"}, stats)
}

func TestDecodeScalars(t *testing.T) {
	supply, err := DecodeTotalSupply(packOutputs(t, TokenABI, "totalSupply", big.NewInt(42)))
	require.NoError(t, err)
	assert.Equal(t, uint64(42), supply)

	uri, err := DecodeTokenURI(packOutputs(t, TokenABI, "tokenURI", "ipfs://QmHash"))
	require.NoError(t, err)
	assert.Equal(t, "ipfs://QmHash", uri)

	owner, err := DecodeOwnerOf(packOutputs(t, TokenABI, "ownerOf", seller))
	require.NoError(t, err)
	assert.Equal(t, seller.Hex(), owner)

	approved, err := DecodeIsApprovedForAll(packOutputs(t, TokenABI, "isApprovedForAll", true))
	require.NoError(t, err)
	assert.True(t, approved)

	count, err := DecodeListingCount(packOutputs(t, MarketplaceABI, "getListingCount", big.NewInt(5)))
	require.NoError(t, err)
	assert.Equal(t, uint64(5), count)
}

func TestDecodeTotalSupply_OutOfRange(t *testing.T) {
	huge := new(big.Int).Lsh(big.NewInt(1), 70)
	_, err := DecodeTotalSupply(packOutputs(t, TokenABI, "totalSupply", huge))
	assert.Error(t, err)
}

type fakeCaller struct {
	out []byte
	err error
	msg evm.CallMsg
}

func (f *fakeCaller) CallContract(_ context.Context, msg evm.CallMsg) ([]byte, error) {
	f.msg = msg
	return f.out, f.err
}

func TestTokenContract_NonexistentRevert(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{
			name: "error string",
			err:  &evm.RPCError{Code: 3, Message: "execution reverted", Data: errorStringRevert(t, "ERC721: invalid token ID")},
		},
		{
			name: "legacy message",
			err:  &evm.RPCError{Code: -32000, Message: "execution reverted: ERC721: owner query for nonexistent token"},
		},
		{
			name: "custom error",
			err: &evm.RPCError{Code: 3, Message: "execution reverted", Data: hexutil.Encode(append(
				append([]byte{}, nonexistentTokenSelector...), common.LeftPadBytes([]byte{2}, 32)...))},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			token := NewTokenContract(&fakeCaller{err: tc.err}, seller)
			_, err := token.OwnerOf(context.Background(), 2)
			assert.ErrorIs(t, err, ErrNonexistentToken)
		})
	}
}

func TestTokenContract_OtherRevert(t *testing.T) {
	caller := &fakeCaller{err: &evm.RPCError{Code: 3, Message: "execution reverted", Data: errorStringRevert(t, "Pausable: paused")}}
	token := NewTokenContract(caller, seller)

	_, err := token.TokenURI(context.Background(), 1)
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrNonexistentToken))

	var revertErr *RevertError
	require.ErrorAs(t, err, &revertErr)
	assert.Equal(t, "Pausable: paused", revertErr.Reason)
}

func TestTokenContract_TransportErrorPassesThrough(t *testing.T) {
	transport := errors.New("connection refused")
	token := NewTokenContract(&fakeCaller{err: transport}, seller)

	_, err := token.TotalSupply(context.Background())
	assert.ErrorIs(t, err, transport)
	assert.NotErrorIs(t, err, ErrNonexistentToken)
}

func TestTokenContract_PacksSelector(t *testing.T) {
	caller := &fakeCaller{out: packOutputs(t, TokenABI, "tokenURI", "ipfs://x")}
	token := NewTokenContract(caller, seller)

	_, err := token.TokenURI(context.Background(), 9)
	require.NoError(t, err)

	assert.Equal(t, seller, caller.msg.To)
	assert.Equal(t, TokenABI.Methods["tokenURI"].ID, caller.msg.Data[:4])
}

func TestReasonFromError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"error string data", &evm.RPCError{Code: 3, Message: "execution reverted", Data: errorStringRevert(t, "Insufficient payment")}, "Insufficient payment"},
		{"message only", &evm.RPCError{Code: -32000, Message: "execution reverted: Listing not active"}, "Listing not active"},
		{"bare revert", &evm.RPCError{Code: -32000, Message: "execution reverted"}, ""},
		{"wrapped", fmt.Errorf("estimate gas: %w", &evm.RPCError{Code: 3, Data: errorStringRevert(t, "Bid too low")}), "Bid too low"},
		{"not an rpc error", errors.New("dial tcp: refused"), ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ReasonFromError(tt.err))
		})
	}
}
