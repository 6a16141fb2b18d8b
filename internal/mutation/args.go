package mutation

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"nft-market-sync/internal/contracts"
	"nft-market-sync/internal/domain"
	"nft-market-sync/internal/evm"
)

// Args describes one state-changing contract call.
type Args interface {
	Kind() domain.MutationKind
	callMsg(scope domain.ChainScope) (evm.CallMsg, error)
}

// MintArgs mints a token. Public selects publicMint, which is payable.
type MintArgs struct {
	To         common.Address
	URI        string
	RoyaltyBps uint16
	Public     bool
	Value      *big.Int
}

// ListArgs lists a token on the marketplace. Duration is in seconds and only
// matters for auctions.
type ListArgs struct {
	TokenID     uint64
	PriceWei    *big.Int
	ListingType domain.ListingType
	Duration    uint64
}

// BuyArgs buys a fixed price listing; Value is the payment in wei.
type BuyArgs struct {
	ListingID uint64
	Value     *big.Int
}

// BidArgs places a bid on an auction listing; Value is the bid in wei.
type BidArgs struct {
	ListingID uint64
	Value     *big.Int
}

// EndAuctionArgs settles an auction listing.
type EndAuctionArgs struct {
	ListingID uint64
}

// ApproveArgs grants the operator rights over one token (TokenID set) or all
// tokens of the sender (All set). A zero Operator means the marketplace.
type ApproveArgs struct {
	Operator common.Address
	TokenID  *uint64
	All      bool
	Approved bool
}

func (MintArgs) Kind() domain.MutationKind       { return domain.MutationMint }
func (ListArgs) Kind() domain.MutationKind       { return domain.MutationList }
func (BuyArgs) Kind() domain.MutationKind        { return domain.MutationBuy }
func (BidArgs) Kind() domain.MutationKind        { return domain.MutationBid }
func (EndAuctionArgs) Kind() domain.MutationKind { return domain.MutationEndAuction }
func (ApproveArgs) Kind() domain.MutationKind    { return domain.MutationApprove }

// ErrInvalidArgs is returned for arguments that cannot form a valid call.
var ErrInvalidArgs = errors.New("invalid mutation arguments")

func invalid(format string, a ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidArgs, fmt.Sprintf(format, a...))
}

func (a MintArgs) callMsg(scope domain.ChainScope) (evm.CallMsg, error) {
	if a.URI == "" {
		return evm.CallMsg{}, invalid("mint requires a token uri")
	}
	if a.RoyaltyBps > 10_000 {
		return evm.CallMsg{}, invalid("royalty %d bps exceeds 100%%", a.RoyaltyBps)
	}
	data, err := contracts.PackMint(a.To, a.URI, a.RoyaltyBps, a.Public)
	if err != nil {
		return evm.CallMsg{}, err
	}
	return evm.CallMsg{To: common.HexToAddress(scope.TokenAddress), Data: data, Value: a.Value}, nil
}

func (a ListArgs) callMsg(scope domain.ChainScope) (evm.CallMsg, error) {
	if a.PriceWei == nil || a.PriceWei.Sign() <= 0 {
		return evm.CallMsg{}, invalid("list price must be positive")
	}
	if a.ListingType == domain.ListingAuction && a.Duration == 0 {
		return evm.CallMsg{}, invalid("auction requires a duration")
	}
	data, err := contracts.PackListItem(a.TokenID, a.PriceWei, a.ListingType, a.Duration)
	if err != nil {
		return evm.CallMsg{}, invalid("%v", err)
	}
	return evm.CallMsg{To: common.HexToAddress(scope.MarketplaceAddress), Data: data}, nil
}

func (a BuyArgs) callMsg(scope domain.ChainScope) (evm.CallMsg, error) {
	if a.Value == nil || a.Value.Sign() <= 0 {
		return evm.CallMsg{}, invalid("buy requires a payment value")
	}
	data, err := contracts.PackBuyItem(a.ListingID)
	if err != nil {
		return evm.CallMsg{}, err
	}
	return evm.CallMsg{To: common.HexToAddress(scope.MarketplaceAddress), Data: data, Value: a.Value}, nil
}

func (a BidArgs) callMsg(scope domain.ChainScope) (evm.CallMsg, error) {
	if a.Value == nil || a.Value.Sign() <= 0 {
		return evm.CallMsg{}, invalid("bid requires a value")
	}
	data, err := contracts.PackPlaceBid(a.ListingID)
	if err != nil {
		return evm.CallMsg{}, err
	}
	return evm.CallMsg{To: common.HexToAddress(scope.MarketplaceAddress), Data: data, Value: a.Value}, nil
}

func (a EndAuctionArgs) callMsg(scope domain.ChainScope) (evm.CallMsg, error) {
	data, err := contracts.PackEndAuction(a.ListingID)
	if err != nil {
		return evm.CallMsg{}, err
	}
	return evm.CallMsg{To: common.HexToAddress(scope.MarketplaceAddress), Data: data}, nil
}

func (a ApproveArgs) callMsg(scope domain.ChainScope) (evm.CallMsg, error) {
	operator := a.Operator
	if operator == (common.Address{}) {
		operator = common.HexToAddress(scope.MarketplaceAddress)
	}

	var (
		data []byte
		err  error
	)
	switch {
	case a.All && a.TokenID != nil:
		return evm.CallMsg{}, invalid("approve takes either a token id or all, not both")
	case a.All:
		data, err = contracts.PackSetApprovalForAll(operator, a.Approved)
	case a.TokenID != nil:
		data, err = contracts.PackApprove(operator, *a.TokenID)
	default:
		return evm.CallMsg{}, invalid("approve requires a token id or all")
	}
	if err != nil {
		return evm.CallMsg{}, err
	}
	return evm.CallMsg{To: common.HexToAddress(scope.TokenAddress), Data: data}, nil
}
