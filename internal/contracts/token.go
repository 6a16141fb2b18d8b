package contracts

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"nft-market-sync/internal/evm"
)

// TokenContract issues typed read calls against the ERC-721 token contract.
type TokenContract struct {
	caller  evm.Caller
	address common.Address
}

// NewTokenContract binds the token contract at address.
func NewTokenContract(caller evm.Caller, address common.Address) *TokenContract {
	return &TokenContract{caller: caller, address: address}
}

// Address returns the bound contract address.
func (t *TokenContract) Address() common.Address {
	return t.address
}

func (t *TokenContract) call(ctx context.Context, method string, args ...interface{}) ([]byte, error) {
	data, err := TokenABI.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}
	out, err := t.caller.CallContract(ctx, evm.CallMsg{To: t.address, Data: data})
	if err != nil {
		return nil, classifyCallError(method, err)
	}
	return out, nil
}

// TotalSupply returns the number of ids ever minted (the upper bound of the id range).
func (t *TokenContract) TotalSupply(ctx context.Context) (uint64, error) {
	out, err := t.call(ctx, "totalSupply")
	if err != nil {
		return 0, err
	}
	return DecodeTotalSupply(out)
}

// TokenURI returns the metadata pointer of id. Burned ids return ErrNonexistentToken.
func (t *TokenContract) TokenURI(ctx context.Context, id uint64) (string, error) {
	out, err := t.call(ctx, "tokenURI", new(big.Int).SetUint64(id))
	if err != nil {
		return "", err
	}
	return DecodeTokenURI(out)
}

// OwnerOf returns the checksummed owner of id. Burned ids return ErrNonexistentToken.
func (t *TokenContract) OwnerOf(ctx context.Context, id uint64) (string, error) {
	out, err := t.call(ctx, "ownerOf", new(big.Int).SetUint64(id))
	if err != nil {
		return "", err
	}
	return DecodeOwnerOf(out)
}

// IsApprovedForAll reports whether operator may transfer all of owner's tokens.
func (t *TokenContract) IsApprovedForAll(ctx context.Context, owner, operator common.Address) (bool, error) {
	out, err := t.call(ctx, "isApprovedForAll", owner, operator)
	if err != nil {
		return false, err
	}
	return DecodeIsApprovedForAll(out)
}

// GetApproved returns the single-token approved address of id.
func (t *TokenContract) GetApproved(ctx context.Context, id uint64) (string, error) {
	out, err := t.call(ctx, "getApproved", new(big.Int).SetUint64(id))
	if err != nil {
		return "", err
	}
	return DecodeGetApproved(out)
}

// Paused reports whether the token contract is paused.
func (t *TokenContract) Paused(ctx context.Context) (bool, error) {
	out, err := t.call(ctx, "paused")
	if err != nil {
		return false, err
	}
	return DecodeTokenPaused(out)
}
