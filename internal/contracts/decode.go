package contracts

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"nft-market-sync/internal/domain"
)

// listingTuple is the ABI shape returned by getListing.
type listingTuple struct {
	ListingId     *big.Int
	TokenId       *big.Int
	Seller        common.Address
	Price         *big.Int
	ListingType   uint8
	Status        uint8
	HighestBid    *big.Int
	HighestBidder common.Address
	EndTime       *big.Int
}

func unpack(contract abi.ABI, method string, data []byte) ([]interface{}, error) {
	if len(data) == 0 {
		// eth_call against an address without code returns empty data
		return nil, fmt.Errorf("decode %s: empty return data", method)
	}
	out, err := contract.Unpack(method, data)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", method, err)
	}
	return out, nil
}

func toUint64(method string, v interface{}) (uint64, error) {
	n, ok := v.(*big.Int)
	if !ok {
		return 0, fmt.Errorf("decode %s: unexpected type %T", method, v)
	}
	if n.Sign() < 0 || !n.IsUint64() {
		return 0, fmt.Errorf("decode %s: value %s out of range", method, n)
	}
	return n.Uint64(), nil
}

func single(method string, out []interface{}) (interface{}, error) {
	if len(out) != 1 {
		return nil, fmt.Errorf("decode %s: expected 1 value, got %d", method, len(out))
	}
	return out[0], nil
}

// DecodeTotalSupply decodes the return data of totalSupply().
func DecodeTotalSupply(data []byte) (uint64, error) {
	out, err := unpack(TokenABI, "totalSupply", data)
	if err != nil {
		return 0, err
	}
	v, err := single("totalSupply", out)
	if err != nil {
		return 0, err
	}
	return toUint64("totalSupply", v)
}

// DecodeTokenURI decodes the return data of tokenURI(uint256).
func DecodeTokenURI(data []byte) (string, error) {
	out, err := unpack(TokenABI, "tokenURI", data)
	if err != nil {
		return "", err
	}
	v, err := single("tokenURI", out)
	if err != nil {
		return "", err
	}
	uri, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("decode tokenURI: unexpected type %T", v)
	}
	return uri, nil
}

// DecodeOwnerOf decodes the return data of ownerOf(uint256) into a checksummed address.
func DecodeOwnerOf(data []byte) (string, error) {
	return decodeAddress(TokenABI, "ownerOf", data)
}

// DecodeGetApproved decodes the return data of getApproved(uint256).
func DecodeGetApproved(data []byte) (string, error) {
	return decodeAddress(TokenABI, "getApproved", data)
}

// DecodeIsApprovedForAll decodes the return data of isApprovedForAll(address,address).
func DecodeIsApprovedForAll(data []byte) (bool, error) {
	return decodeBool(TokenABI, "isApprovedForAll", data)
}

// DecodeTokenPaused decodes the return data of the token contract's paused().
func DecodeTokenPaused(data []byte) (bool, error) {
	return decodeBool(TokenABI, "paused", data)
}

// DecodeMarketplacePaused decodes the return data of the marketplace's paused().
func DecodeMarketplacePaused(data []byte) (bool, error) {
	return decodeBool(MarketplaceABI, "paused", data)
}

// DecodeListingCount decodes the return data of getListingCount().
func DecodeListingCount(data []byte) (uint64, error) {
	out, err := unpack(MarketplaceABI, "getListingCount", data)
	if err != nil {
		return 0, err
	}
	v, err := single("getListingCount", out)
	if err != nil {
		return 0, err
	}
	return toUint64("getListingCount", v)
}

// DecodeListing decodes the return data of getListing(uint256).
// Prices and bids are converted from wei into ether decimal strings.
func DecodeListing(data []byte) (domain.Listing, error) {
	out, err := unpack(MarketplaceABI, "getListing", data)
	if err != nil {
		return domain.Listing{}, err
	}
	v, err := single("getListing", out)
	if err != nil {
		return domain.Listing{}, err
	}

	var raw listingTuple
	if err := convert(v, &raw); err != nil {
		return domain.Listing{}, fmt.Errorf("decode getListing: %w", err)
	}

	listingID, err := toUint64("getListing.listingId", raw.ListingId)
	if err != nil {
		return domain.Listing{}, err
	}
	tokenID, err := toUint64("getListing.tokenId", raw.TokenId)
	if err != nil {
		return domain.Listing{}, err
	}

	listingType := domain.ListingType(raw.ListingType)
	if !listingType.IsValid() {
		return domain.Listing{}, fmt.Errorf("decode getListing: invalid listing type %d", raw.ListingType)
	}
	status := domain.ListingStatus(raw.Status)
	if !status.IsValid() {
		return domain.Listing{}, fmt.Errorf("decode getListing: invalid status %d", raw.Status)
	}

	var endTime int64
	if raw.EndTime != nil && raw.EndTime.IsInt64() {
		endTime = raw.EndTime.Int64()
	}

	listing := domain.Listing{
		ListingID:  listingID,
		TokenID:    tokenID,
		Seller:     raw.Seller.Hex(),
		Price:      FormatEther(raw.Price),
		Type:       listingType,
		Status:     status,
		HighestBid: FormatEther(raw.HighestBid),
		EndTime:    endTime,
	}
	if raw.HighestBidder != (common.Address{}) {
		listing.HighestBidder = raw.HighestBidder.Hex()
	}
	return listing, nil
}

// DecodeMarketplaceStats decodes the return data of getMarketplaceStats().
func DecodeMarketplaceStats(data []byte) (domain.MarketplaceStats, error) {
	out, err := unpack(MarketplaceABI, "getMarketplaceStats", data)
	if err != nil {
		return domain.MarketplaceStats{}, err
	}
	if len(out) != 4 {
		return domain.MarketplaceStats{}, fmt.Errorf("decode getMarketplaceStats: expected 4 values, got %d", len(out))
	}

	var stats domain.MarketplaceStats
	fields := []*uint64{&stats.TotalListings, &stats.ActiveListings, &stats.TotalSales}
	for i, dst := range fields {
		n, err := toUint64("getMarketplaceStats", out[i])
		if err != nil {
			return domain.MarketplaceStats{}, err
		}
		*dst = n
	}

	volume, ok := out[3].(*big.Int)
	if !ok {
		return domain.MarketplaceStats{}, fmt.Errorf("decode getMarketplaceStats: unexpected volume type %T", out[3])
	}
	stats.TotalVolume = FormatEther(volume)
	return stats, nil
}

func decodeAddress(contract abi.ABI, method string, data []byte) (string, error) {
	out, err := unpack(contract, method, data)
	if err != nil {
		return "", err
	}
	v, err := single(method, out)
	if err != nil {
		return "", err
	}
	addr, ok := v.(common.Address)
	if !ok {
		return "", fmt.Errorf("decode %s: unexpected type %T", method, v)
	}
	return addr.Hex(), nil
}

func decodeBool(contract abi.ABI, method string, data []byte) (bool, error) {
	out, err := unpack(contract, method, data)
	if err != nil {
		return false, err
	}
	v, err := single(method, out)
	if err != nil {
		return false, err
	}
	b, ok := v.(bool)
	if !ok {
		return false, fmt.Errorf("decode %s: unexpected type %T", method, v)
	}
	return b, nil
}

// convert copies an ABI-generated anonymous struct into dst.
// abi.ConvertType panics on shape mismatch, which is turned into an error here.
func convert(v interface{}, dst *listingTuple) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("unexpected tuple shape %T", v)
		}
	}()
	*dst = *abi.ConvertType(v, new(listingTuple)).(*listingTuple)
	return nil
}
