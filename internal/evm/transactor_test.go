package evm_test

import (
	"context"
	"testing"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nft-market-sync/internal/contracts"
	"nft-market-sync/internal/evm"
	"nft-market-sync/internal/evm/stub"
)

const testKey = "0x4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"

func TestTransactor_SendMint(t *testing.T) {
	ctx := context.Background()
	chain := stub.NewChain(31337)

	key, err := evm.ParsePrivateKey(testKey)
	require.NoError(t, err)
	tr := evm.NewTransactor(chain, key, 31337)
	assert.Equal(t, crypto.PubkeyToAddress(key.PublicKey), tr.From())

	data, err := contracts.PackMint(tr.From(), "ipfs://QmYwAPJzv5CZsnA625s3Xf2nemtYgPpHdWEz79ojWnPbdG", 250, false)
	require.NoError(t, err)

	hash, err := tr.Send(ctx, evm.CallMsg{To: stub.TokenAddress, Data: data})
	require.NoError(t, err)

	receipt, err := tr.TransactionReceipt(ctx, hash)
	require.NoError(t, err)
	require.NotNil(t, receipt)
	assert.True(t, receipt.Succeeded())

	token, ok := chain.Token(1)
	require.True(t, ok)
	assert.Equal(t, tr.From(), token.Owner)

	// Nonce advances for the next transaction.
	nonce, err := chain.PendingNonceAt(ctx, tr.From())
	require.NoError(t, err)
	assert.Equal(t, uint64(1), nonce)
}

func TestTransactor_EstimateRevert(t *testing.T) {
	chain := stub.NewChain(31337)
	chain.TokenPaused = true

	key, err := evm.ParsePrivateKey(testKey)
	require.NoError(t, err)
	tr := evm.NewTransactor(chain, key, 31337)

	data, err := contracts.PackMint(tr.From(), "ar://abc", 0, false)
	require.NoError(t, err)

	_, err = tr.Send(context.Background(), evm.CallMsg{To: stub.TokenAddress, Data: data})
	require.Error(t, err)
	assert.True(t, evm.IsRevert(err))

	var rpcErr *evm.RPCError
	require.ErrorAs(t, err, &rpcErr)
	assert.Equal(t, "Pausable: paused", contracts.RevertReason(rpcErr.RevertData()))
}

func TestTransactor_WrongChainRejected(t *testing.T) {
	chain := stub.NewChain(1)

	key, err := evm.ParsePrivateKey(testKey)
	require.NoError(t, err)
	tr := evm.NewTransactor(chain, key, 5)

	data, err := contracts.PackSetApprovalForAll(stub.MarketplaceAddress, true)
	require.NoError(t, err)

	_, err = tr.Send(context.Background(), evm.CallMsg{To: stub.TokenAddress, Data: data})
	assert.Error(t, err)
}

func TestParsePrivateKey_Invalid(t *testing.T) {
	_, err := evm.ParsePrivateKey("not-a-key")
	assert.Error(t, err)
}
