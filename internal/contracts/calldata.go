package contracts

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"nft-market-sync/internal/domain"
)

func u256(n uint64) *big.Int {
	return new(big.Int).SetUint64(n)
}

// PackMint encodes mint(to, uri, royaltyBps), or publicMint when public is set.
func PackMint(to common.Address, uri string, royaltyBps uint16, public bool) ([]byte, error) {
	method := "mint"
	if public {
		method = "publicMint"
	}
	return pack(TokenABI.Pack(method, to, uri, big.NewInt(int64(royaltyBps))))
}

// PackSetApprovalForAll encodes setApprovalForAll(operator, approved).
func PackSetApprovalForAll(operator common.Address, approved bool) ([]byte, error) {
	return pack(TokenABI.Pack("setApprovalForAll", operator, approved))
}

// PackApprove encodes approve(operator, tokenId).
func PackApprove(operator common.Address, tokenID uint64) ([]byte, error) {
	return pack(TokenABI.Pack("approve", operator, u256(tokenID)))
}

// PackListItem encodes listItem(tokenId, price, listingType, duration).
func PackListItem(tokenID uint64, priceWei *big.Int, listingType domain.ListingType, durationSec uint64) ([]byte, error) {
	if priceWei == nil || priceWei.Sign() <= 0 {
		return nil, fmt.Errorf("listItem: price must be positive")
	}
	if !listingType.IsValid() {
		return nil, fmt.Errorf("listItem: invalid listing type %d", listingType)
	}
	return pack(MarketplaceABI.Pack("listItem", u256(tokenID), priceWei, uint8(listingType), u256(durationSec)))
}

// PackBuyItem encodes buyItem(listingId).
func PackBuyItem(listingID uint64) ([]byte, error) {
	return pack(MarketplaceABI.Pack("buyItem", u256(listingID)))
}

// PackPlaceBid encodes placeBid(listingId).
func PackPlaceBid(listingID uint64) ([]byte, error) {
	return pack(MarketplaceABI.Pack("placeBid", u256(listingID)))
}

// PackEndAuction encodes endAuction(listingId).
func PackEndAuction(listingID uint64) ([]byte, error) {
	return pack(MarketplaceABI.Pack("endAuction", u256(listingID)))
}

func pack(data []byte, err error) ([]byte, error) {
	if err != nil {
		return nil, fmt.Errorf("pack calldata: %w", err)
	}
	return data, nil
}
