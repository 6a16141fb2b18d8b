// Package stub provides an in-process EVM chain that serves the token and
// marketplace contracts for tests.
package stub

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"nft-market-sync/internal/contracts"
	"nft-market-sync/internal/domain"
	"nft-market-sync/internal/evm"
)

// Default contract addresses served by a new Chain.
var (
	TokenAddress       = common.HexToAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3")
	MarketplaceAddress = common.HexToAddress("0xe7f1725E7734CE288F8367e1Bb143E90bb3F0512")
)

// ErrUnknownContract is returned for calls to an address the chain does not serve.
var ErrUnknownContract = errors.New("unknown contract")

// Token is the on-chain state of one token.
type Token struct {
	Owner    common.Address
	URI      string
	Approved common.Address
}

// Listing is the on-chain state of one marketplace listing. Amounts are in wei.
type Listing struct {
	TokenID       uint64
	Seller        common.Address
	Price         *big.Int
	Type          domain.ListingType
	Status        domain.ListingStatus
	HighestBid    *big.Int
	HighestBidder common.Address
	EndTime       int64
}

// Chain implements evm.RPCClient over in-memory contract state.
type Chain struct {
	mu sync.Mutex

	chainID int64
	tokens  map[uint64]*Token
	supply  uint64

	operators map[common.Address]map[common.Address]bool
	listings  []*Listing
	sales     uint64
	volume    *big.Int

	nonces   map[common.Address]uint64
	receipts map[common.Hash]*evm.Receipt
	polls    map[common.Hash]int

	calls map[string]int

	// TokenPaused and MarketplacePaused make every write to that contract revert.
	TokenPaused       bool
	MarketplacePaused bool

	// ReceiptDelay is the number of receipt polls answered with "not mined".
	ReceiptDelay int

	// RevertOnChain makes the next mined transaction revert with this reason
	// even though gas estimation succeeded.
	RevertOnChain string

	// Read failure injection, keyed by token id or listing index.
	TokenURIErr     map[uint64]error
	OwnerOfErr      map[uint64]error
	ListingErr      map[uint64]error
	ListingCountErr error
	TotalSupplyErr  error

	// ReportedListingCount, when nonzero, replaces the real listing count.
	ReportedListingCount uint64

	// Now returns the block timestamp used for auction end times.
	Now func() int64
}

// NewChain creates an empty chain with the given chain id.
func NewChain(chainID int64) *Chain {
	return &Chain{
		chainID:     chainID,
		tokens:      make(map[uint64]*Token),
		operators:   make(map[common.Address]map[common.Address]bool),
		volume:      new(big.Int),
		nonces:      make(map[common.Address]uint64),
		receipts:    make(map[common.Hash]*evm.Receipt),
		polls:       make(map[common.Hash]int),
		calls:       make(map[string]int),
		TokenURIErr: make(map[uint64]error),
		OwnerOfErr:  make(map[uint64]error),
		ListingErr:  make(map[uint64]error),
		Now:         func() int64 { return 1700000000 },
	}
}

// Compile-time interface check.
var _ evm.RPCClient = (*Chain)(nil)

// Scope returns the chain scope served by this chain.
func (c *Chain) Scope() domain.ChainScope {
	return domain.ChainScope{
		ChainID:            c.chainID,
		TokenAddress:       TokenAddress.Hex(),
		MarketplaceAddress: MarketplaceAddress.Hex(),
	}
}

// Mint creates a token owned by owner and returns its id.
func (c *Chain) Mint(owner common.Address, uri string) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mint(owner, uri)
}

// Burn removes a token. totalSupply keeps counting it, leaving a gap in the id range.
func (c *Chain) Burn(id uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.tokens, id)
}

// Token returns a copy of a token's state.
func (c *Chain) Token(id uint64) (Token, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.tokens[id]
	if !ok {
		return Token{}, false
	}
	return *t, true
}

// AddListing appends a listing and returns its id.
func (c *Chain) AddListing(l Listing) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if l.Price == nil {
		l.Price = new(big.Int)
	}
	if l.HighestBid == nil {
		l.HighestBid = new(big.Int)
	}
	c.listings = append(c.listings, &l)
	return uint64(len(c.listings) - 1)
}

// SetListingStatus overwrites a listing's status without any transition checks.
func (c *Chain) SetListingStatus(id uint64, status domain.ListingStatus) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listings[id].Status = status
}

// Listing returns a copy of a listing's state.
func (c *Chain) Listing(id uint64) (Listing, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if id >= uint64(len(c.listings)) {
		return Listing{}, false
	}
	return *c.listings[id], true
}

// SetApprovalForAll sets an operator approval directly.
func (c *Chain) SetApprovalForAll(owner, operator common.Address, approved bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.setOperator(owner, operator, approved)
}

// Calls returns how many times method was called through eth_call.
func (c *Chain) Calls(method string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[method]
}

func (c *Chain) mint(owner common.Address, uri string) uint64 {
	c.supply++
	c.tokens[c.supply] = &Token{Owner: owner, URI: uri}
	return c.supply
}

func (c *Chain) setOperator(owner, operator common.Address, approved bool) {
	m, ok := c.operators[owner]
	if !ok {
		m = make(map[common.Address]bool)
		c.operators[owner] = m
	}
	m[operator] = approved
}

// ChainID returns the configured chain id.
func (c *Chain) ChainID(_ context.Context) (int64, error) {
	return c.chainID, nil
}

// PendingNonceAt returns the next nonce for account.
func (c *Chain) PendingNonceAt(_ context.Context, account common.Address) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.nonces[account], nil
}

// SuggestGasPrice returns a fixed gas price of 1 gwei.
func (c *Chain) SuggestGasPrice(_ context.Context) (*big.Int, error) {
	return big.NewInt(1_000_000_000), nil
}

// CallContract executes a view call against the token or marketplace state.
func (c *Chain) CallContract(_ context.Context, msg evm.CallMsg) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	contract, method, args, err := c.decode(msg)
	if err != nil {
		return nil, err
	}
	c.calls[method.Name]++

	if !method.IsConstant() {
		var from common.Address
		if msg.From != nil {
			from = *msg.From
		}
		if _, err := c.simulate(from, msg.To, msg.Value, msg.Data); err != nil {
			return nil, err
		}
		return nil, nil
	}

	out, err := c.view(method.Name, contract, args)
	if err != nil {
		return nil, err
	}
	return method.Outputs.Pack(out...)
}

// EstimateGas dry-runs msg and returns a fixed gas amount, or the revert error.
func (c *Chain) EstimateGas(_ context.Context, msg evm.CallMsg) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var from common.Address
	if msg.From != nil {
		from = *msg.From
	}
	if _, err := c.simulate(from, msg.To, msg.Value, msg.Data); err != nil {
		return 0, err
	}
	return 100_000, nil
}

// SendRawTransaction decodes, verifies and executes a signed transaction.
func (c *Chain) SendRawTransaction(_ context.Context, raw []byte) (common.Hash, error) {
	tx := new(types.Transaction)
	if err := tx.UnmarshalBinary(raw); err != nil {
		return common.Hash{}, &evm.RPCError{Code: -32602, Message: "invalid transaction: " + err.Error()}
	}

	signer := types.LatestSignerForChainID(big.NewInt(c.chainID))
	from, err := types.Sender(signer, tx)
	if err != nil {
		return common.Hash{}, &evm.RPCError{Code: -32000, Message: "invalid sender: " + err.Error()}
	}
	if tx.To() == nil {
		return common.Hash{}, &evm.RPCError{Code: -32000, Message: "contract creation not supported"}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if tx.Nonce() != c.nonces[from] {
		return common.Hash{}, &evm.RPCError{Code: -32000, Message: fmt.Sprintf("nonce too low: have %d, want %d", tx.Nonce(), c.nonces[from])}
	}
	c.nonces[from]++

	status := types.ReceiptStatusSuccessful
	if c.RevertOnChain != "" {
		c.RevertOnChain = ""
		status = types.ReceiptStatusFailed
	} else if apply, err := c.simulate(from, *tx.To(), tx.Value(), tx.Data()); err != nil {
		status = types.ReceiptStatusFailed
	} else {
		apply()
	}

	hash := tx.Hash()
	c.receipts[hash] = &evm.Receipt{
		TxHash:      hash,
		BlockNumber: uint64(len(c.receipts) + 1),
		Status:      status,
		GasUsed:     21_000,
	}
	return hash, nil
}

// TransactionReceipt returns the receipt once ReceiptDelay polls have passed.
func (c *Chain) TransactionReceipt(_ context.Context, hash common.Hash) (*evm.Receipt, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	receipt, ok := c.receipts[hash]
	if !ok {
		return nil, nil
	}
	if c.polls[hash] < c.ReceiptDelay {
		c.polls[hash]++
		return nil, nil
	}
	r := *receipt
	return &r, nil
}

func (c *Chain) decode(msg evm.CallMsg) (*abi.ABI, *abi.Method, []interface{}, error) {
	var contract *abi.ABI
	switch msg.To {
	case TokenAddress:
		contract = &contracts.TokenABI
	case MarketplaceAddress:
		contract = &contracts.MarketplaceABI
	default:
		return nil, nil, nil, fmt.Errorf("%w: %s", ErrUnknownContract, msg.To.Hex())
	}
	if len(msg.Data) < 4 {
		return nil, nil, nil, revert("function selector was not recognized")
	}
	method, err := contract.MethodById(msg.Data[:4])
	if err != nil {
		return nil, nil, nil, revert("function selector was not recognized")
	}
	args, err := method.Inputs.Unpack(msg.Data[4:])
	if err != nil {
		return nil, nil, nil, revert("invalid calldata")
	}
	return contract, method, args, nil
}

func (c *Chain) view(method string, contract *abi.ABI, args []interface{}) ([]interface{}, error) {
	isToken := contract == &contracts.TokenABI

	switch method {
	case "totalSupply":
		if c.TotalSupplyErr != nil {
			return nil, c.TotalSupplyErr
		}
		return []interface{}{new(big.Int).SetUint64(c.supply)}, nil

	case "tokenURI":
		id := args[0].(*big.Int).Uint64()
		if err := c.TokenURIErr[id]; err != nil {
			return nil, err
		}
		t, err := c.existing(id)
		if err != nil {
			return nil, err
		}
		return []interface{}{t.URI}, nil

	case "ownerOf":
		id := args[0].(*big.Int).Uint64()
		if err := c.OwnerOfErr[id]; err != nil {
			return nil, err
		}
		t, err := c.existing(id)
		if err != nil {
			return nil, err
		}
		return []interface{}{t.Owner}, nil

	case "getApproved":
		t, err := c.existing(args[0].(*big.Int).Uint64())
		if err != nil {
			return nil, err
		}
		return []interface{}{t.Approved}, nil

	case "isApprovedForAll":
		owner := args[0].(common.Address)
		operator := args[1].(common.Address)
		return []interface{}{c.operators[owner][operator]}, nil

	case "paused":
		if isToken {
			return []interface{}{c.TokenPaused}, nil
		}
		return []interface{}{c.MarketplacePaused}, nil

	case "getListingCount":
		if c.ListingCountErr != nil {
			return nil, c.ListingCountErr
		}
		if c.ReportedListingCount != 0 {
			return []interface{}{new(big.Int).SetUint64(c.ReportedListingCount)}, nil
		}
		return []interface{}{big.NewInt(int64(len(c.listings)))}, nil

	case "getListing":
		idx := args[0].(*big.Int).Uint64()
		if err := c.ListingErr[idx]; err != nil {
			return nil, err
		}
		if idx >= uint64(len(c.listings)) {
			return nil, revert("Listing does not exist")
		}
		l := c.listings[idx]
		return []interface{}{listingTuple{
			ListingId:     new(big.Int).SetUint64(idx),
			TokenId:       new(big.Int).SetUint64(l.TokenID),
			Seller:        l.Seller,
			Price:         l.Price,
			ListingType:   uint8(l.Type),
			Status:        uint8(l.Status),
			HighestBid:    l.HighestBid,
			HighestBidder: l.HighestBidder,
			EndTime:       big.NewInt(l.EndTime),
		}}, nil

	case "getMarketplaceStats":
		var active int64
		for _, l := range c.listings {
			if l.Status == domain.ListingActive {
				active++
			}
		}
		return []interface{}{
			big.NewInt(int64(len(c.listings))),
			big.NewInt(active),
			new(big.Int).SetUint64(c.sales),
			new(big.Int).Set(c.volume),
		}, nil
	}
	return nil, revert("unsupported view " + method)
}

// listingTuple mirrors the getListing return tuple for ABI packing.
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

func (c *Chain) existing(id uint64) (*Token, error) {
	t, ok := c.tokens[id]
	if !ok {
		return nil, nonexistent(id)
	}
	return t, nil
}

func (c *Chain) approvedOrOwner(spender common.Address, id uint64) bool {
	t := c.tokens[id]
	return t.Owner == spender || t.Approved == spender || c.operators[t.Owner][spender]
}

func (c *Chain) transfer(id uint64, to common.Address) {
	t := c.tokens[id]
	t.Owner = to
	t.Approved = common.Address{}
}

// simulate validates a state-changing call and returns a closure that applies it.
// Callers must hold c.mu.
func (c *Chain) simulate(from, to common.Address, value *big.Int, data []byte) (func(), error) {
	contract, method, args, err := c.decode(evm.CallMsg{To: to, Data: data})
	if err != nil {
		return nil, err
	}
	if value == nil {
		value = new(big.Int)
	}
	if value.Sign() > 0 && !method.IsPayable() {
		return nil, revert("non-payable function")
	}

	if contract == &contracts.TokenABI {
		if c.TokenPaused {
			return nil, revert("Pausable: paused")
		}
		return c.simulateToken(from, method.Name, args)
	}
	if c.MarketplacePaused {
		return nil, revert("Pausable: paused")
	}
	return c.simulateMarketplace(from, value, method.Name, args)
}

func (c *Chain) simulateToken(from common.Address, method string, args []interface{}) (func(), error) {
	switch method {
	case "mint", "publicMint":
		to := args[0].(common.Address)
		uri := args[1].(string)
		if to == (common.Address{}) {
			return nil, revert("mint to the zero address")
		}
		return func() { c.mint(to, uri) }, nil

	case "setApprovalForAll":
		operator := args[0].(common.Address)
		approved := args[1].(bool)
		return func() { c.setOperator(from, operator, approved) }, nil

	case "approve":
		operator := args[0].(common.Address)
		id := args[1].(*big.Int).Uint64()
		t, err := c.existing(id)
		if err != nil {
			return nil, err
		}
		if t.Owner != from && !c.operators[t.Owner][from] {
			return nil, revert("approve caller is not token owner or approved for all")
		}
		return func() { c.tokens[id].Approved = operator }, nil
	}
	return nil, revert("unsupported write " + method)
}

func (c *Chain) simulateMarketplace(from common.Address, value *big.Int, method string, args []interface{}) (func(), error) {
	switch method {
	case "listItem":
		id := args[0].(*big.Int).Uint64()
		price := args[1].(*big.Int)
		listingType := domain.ListingType(args[2].(uint8))
		duration := args[3].(*big.Int).Int64()
		t, err := c.existing(id)
		if err != nil {
			return nil, err
		}
		if t.Owner != from {
			return nil, revert("Not token owner")
		}
		if !c.approvedOrOwner(MarketplaceAddress, id) {
			return nil, revert("Marketplace not approved")
		}
		if price.Sign() <= 0 {
			return nil, revert("Price must be greater than 0")
		}
		for _, l := range c.listings {
			if l.TokenID == id && l.Status == domain.ListingActive {
				return nil, revert("Token already listed")
			}
		}
		var endTime int64
		if listingType == domain.ListingAuction {
			endTime = c.Now() + duration
		}
		return func() {
			c.listings = append(c.listings, &Listing{
				TokenID:    id,
				Seller:     from,
				Price:      new(big.Int).Set(price),
				Type:       listingType,
				Status:     domain.ListingActive,
				HighestBid: new(big.Int),
				EndTime:    endTime,
			})
		}, nil

	case "buyItem":
		l, err := c.activeListing(args[0].(*big.Int))
		if err != nil {
			return nil, err
		}
		if l.Type != domain.ListingFixedPrice {
			return nil, revert("Not a fixed price listing")
		}
		if value.Cmp(l.Price) < 0 {
			return nil, revert("Insufficient payment")
		}
		return func() {
			l.Status = domain.ListingSold
			c.transfer(l.TokenID, from)
			c.sales++
			c.volume.Add(c.volume, l.Price)
		}, nil

	case "placeBid":
		l, err := c.activeListing(args[0].(*big.Int))
		if err != nil {
			return nil, err
		}
		if l.Type != domain.ListingAuction {
			return nil, revert("Not an auction")
		}
		if value.Cmp(l.Price) < 0 || value.Cmp(l.HighestBid) <= 0 {
			return nil, revert("Bid too low")
		}
		bid := new(big.Int).Set(value)
		return func() {
			l.HighestBid = bid
			l.HighestBidder = from
		}, nil

	case "endAuction":
		l, err := c.activeListing(args[0].(*big.Int))
		if err != nil {
			return nil, err
		}
		if l.Type != domain.ListingAuction {
			return nil, revert("Not an auction")
		}
		return func() {
			l.Status = domain.ListingEnded
			if l.HighestBidder != (common.Address{}) {
				c.transfer(l.TokenID, l.HighestBidder)
				c.sales++
				c.volume.Add(c.volume, l.HighestBid)
			}
		}, nil
	}
	return nil, revert("unsupported write " + method)
}

func (c *Chain) activeListing(id *big.Int) (*Listing, error) {
	idx := id.Uint64()
	if idx >= uint64(len(c.listings)) {
		return nil, revert("Listing does not exist")
	}
	l := c.listings[idx]
	if l.Status != domain.ListingActive {
		return nil, revert("Listing not active")
	}
	return l, nil
}

var (
	errorSelector = crypto.Keccak256([]byte("Error(string)"))[:4]
	stringArgs    = abi.Arguments{{Type: mustType("string")}}
	uintArgs      = abi.Arguments{{Type: mustType("uint256")}}
)

func mustType(name string) abi.Type {
	t, err := abi.NewType(name, "", nil)
	if err != nil {
		panic(err)
	}
	return t
}

// revert builds the node error for a require() failure with reason.
func revert(reason string) error {
	encoded, _ := stringArgs.Pack(reason)
	data := append(append([]byte{}, errorSelector...), encoded...)
	return &evm.RPCError{Code: 3, Message: "execution reverted: " + reason, Data: hexutil.Encode(data)}
}

// nonexistent builds the ERC721NonexistentToken(uint256) custom error.
func nonexistent(id uint64) error {
	encoded, _ := uintArgs.Pack(new(big.Int).SetUint64(id))
	selector := contracts.TokenABI.Errors["ERC721NonexistentToken"].ID.Bytes()[:4]
	data := append(append([]byte{}, selector...), encoded...)
	return &evm.RPCError{Code: 3, Message: "execution reverted", Data: hexutil.Encode(data)}
}
