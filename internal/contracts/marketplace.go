package contracts

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"nft-market-sync/internal/domain"
	"nft-market-sync/internal/evm"
)

// MarketplaceContract issues typed read calls against the marketplace contract.
type MarketplaceContract struct {
	caller  evm.Caller
	address common.Address
}

// NewMarketplaceContract binds the marketplace contract at address.
func NewMarketplaceContract(caller evm.Caller, address common.Address) *MarketplaceContract {
	return &MarketplaceContract{caller: caller, address: address}
}

// Address returns the bound contract address.
func (m *MarketplaceContract) Address() common.Address {
	return m.address
}

func (m *MarketplaceContract) call(ctx context.Context, method string, args ...interface{}) ([]byte, error) {
	data, err := MarketplaceABI.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}
	out, err := m.caller.CallContract(ctx, evm.CallMsg{To: m.address, Data: data})
	if err != nil {
		return nil, classifyCallError(method, err)
	}
	return out, nil
}

// ListingCount returns the number of listings ever created; ids are 0..count-1.
func (m *MarketplaceContract) ListingCount(ctx context.Context) (uint64, error) {
	out, err := m.call(ctx, "getListingCount")
	if err != nil {
		return 0, err
	}
	return DecodeListingCount(out)
}

// Listing returns the listing at index id.
func (m *MarketplaceContract) Listing(ctx context.Context, id uint64) (domain.Listing, error) {
	out, err := m.call(ctx, "getListing", new(big.Int).SetUint64(id))
	if err != nil {
		return domain.Listing{}, err
	}
	return DecodeListing(out)
}

// Stats returns the marketplace aggregate counters.
func (m *MarketplaceContract) Stats(ctx context.Context) (domain.MarketplaceStats, error) {
	out, err := m.call(ctx, "getMarketplaceStats")
	if err != nil {
		return domain.MarketplaceStats{}, err
	}
	return DecodeMarketplaceStats(out)
}

// Paused reports whether the marketplace is paused.
func (m *MarketplaceContract) Paused(ctx context.Context) (bool, error) {
	out, err := m.call(ctx, "paused")
	if err != nil {
		return false, err
	}
	return DecodeMarketplacePaused(out)
}
