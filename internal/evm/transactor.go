package evm

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

// gasHeadroomPercent is added on top of eth_estimateGas to absorb state drift
// between estimation and inclusion.
const gasHeadroomPercent = 20

// Transactor signs and broadcasts transactions from a single key.
type Transactor struct {
	rpc     RPCClient
	key     *ecdsa.PrivateKey
	from    common.Address
	chainID *big.Int
	signer  types.Signer

	// sendMu serializes nonce assignment; confirmation waits happen outside it.
	sendMu sync.Mutex
}

// NewTransactor creates a transactor signing with key for chainID.
func NewTransactor(rpc RPCClient, key *ecdsa.PrivateKey, chainID int64) *Transactor {
	id := big.NewInt(chainID)
	return &Transactor{
		rpc:     rpc,
		key:     key,
		from:    crypto.PubkeyToAddress(key.PublicKey),
		chainID: id,
		signer:  types.LatestSignerForChainID(id),
	}
}

// ParsePrivateKey parses a hex private key with or without the 0x prefix.
func ParsePrivateKey(hexKey string) (*ecdsa.PrivateKey, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(hexKey), "0x"))
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	return key, nil
}

// From returns the sender address.
func (t *Transactor) From() common.Address {
	return t.from
}

// Send signs and broadcasts a call to msg.To with msg.Data and msg.Value.
// Reverts detected during gas estimation are returned as *RPCError before anything is broadcast.
func (t *Transactor) Send(ctx context.Context, msg CallMsg) (common.Hash, error) {
	from := t.from
	msg.From = &from

	t.sendMu.Lock()
	defer t.sendMu.Unlock()

	nonce, err := t.rpc.PendingNonceAt(ctx, t.from)
	if err != nil {
		return common.Hash{}, fmt.Errorf("get nonce: %w", err)
	}

	gasPrice, err := t.rpc.SuggestGasPrice(ctx)
	if err != nil {
		return common.Hash{}, fmt.Errorf("get gas price: %w", err)
	}

	gas := msg.Gas
	if gas == 0 {
		estimate, err := t.rpc.EstimateGas(ctx, msg)
		if err != nil {
			return common.Hash{}, fmt.Errorf("estimate gas: %w", err)
		}
		gas = estimate + estimate*gasHeadroomPercent/100
	}

	value := msg.Value
	if value == nil {
		value = new(big.Int)
	}

	to := msg.To
	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		GasPrice: gasPrice,
		Gas:      gas,
		To:       &to,
		Value:    value,
		Data:     msg.Data,
	})

	signed, err := types.SignTx(tx, t.signer, t.key)
	if err != nil {
		return common.Hash{}, fmt.Errorf("sign transaction: %w", err)
	}

	raw, err := signed.MarshalBinary()
	if err != nil {
		return common.Hash{}, fmt.Errorf("encode transaction: %w", err)
	}

	hash, err := t.rpc.SendRawTransaction(ctx, raw)
	if err != nil {
		return common.Hash{}, fmt.Errorf("send transaction: %w", err)
	}
	return hash, nil
}

// TransactionReceipt returns the receipt for hash, or nil if it is not yet mined.
func (t *Transactor) TransactionReceipt(ctx context.Context, hash common.Hash) (*Receipt, error) {
	return t.rpc.TransactionReceipt(ctx, hash)
}

// Replay re-executes msg from the sender with eth_call. A mined transaction that
// reverted usually reverts again here, which surfaces its revert data.
func (t *Transactor) Replay(ctx context.Context, msg CallMsg) error {
	from := t.from
	msg.From = &from
	_, err := t.rpc.CallContract(ctx, msg)
	return err
}
