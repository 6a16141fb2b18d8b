package evm

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Caller executes read-only contract calls.
type Caller interface {
	// CallContract executes eth_call against the latest block and returns the raw return data.
	CallContract(ctx context.Context, msg CallMsg) ([]byte, error)
}

// RPCClient defines the EVM JSON-RPC interface used by readers and the transactor.
type RPCClient interface {
	Caller

	// ChainID returns the chain id reported by the node.
	ChainID(ctx context.Context) (int64, error)

	// PendingNonceAt returns the next nonce for account including pending transactions.
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)

	// SuggestGasPrice returns the node's gas price suggestion.
	SuggestGasPrice(ctx context.Context) (*big.Int, error)

	// EstimateGas estimates the gas needed to execute msg.
	EstimateGas(ctx context.Context, msg CallMsg) (uint64, error)

	// SendRawTransaction broadcasts a signed, RLP encoded transaction.
	SendRawTransaction(ctx context.Context, raw []byte) (common.Hash, error)

	// TransactionReceipt returns the receipt for hash, or nil if it is not yet mined.
	TransactionReceipt(ctx context.Context, hash common.Hash) (*Receipt, error)
}

// CallMsg describes a contract call or transaction to simulate.
type CallMsg struct {
	From  *common.Address
	To    common.Address
	Data  []byte
	Value *big.Int
	Gas   uint64
}

// Receipt is the subset of a transaction receipt the coordinator needs.
type Receipt struct {
	TxHash      common.Hash
	BlockNumber uint64
	Status      uint64 // 1 success, 0 reverted
	GasUsed     uint64
}

// Succeeded reports whether the transaction executed without reverting.
func (r *Receipt) Succeeded() bool {
	return r != nil && r.Status == 1
}
