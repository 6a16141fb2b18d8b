package service

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"nft-market-sync/internal/cache"
	"nft-market-sync/internal/chainreader"
	"nft-market-sync/internal/config"
	"nft-market-sync/internal/domain"
	"nft-market-sync/internal/evm"
	"nft-market-sync/internal/listing"
	"nft-market-sync/internal/metadata"
	"nft-market-sync/internal/mutation"
	"nft-market-sync/internal/observability"
	"nft-market-sync/internal/reconcile"
	"nft-market-sync/internal/storage"
)

// Backends are the stores shared by every chain.
type Backends struct {
	Cache     storage.CacheEntryStore
	Runs      storage.RefreshRunStore
	Mutations storage.MutationStore
}

// NewRPCClient creates the JSON-RPC client for a configured chain.
func NewRPCClient(cc config.ChainConfig, rpc config.RPCConfig) *evm.HTTPClient {
	return evm.NewHTTPClient(cc.RPCURL,
		evm.WithTimeout(rpc.Timeout),
		evm.WithMaxRetries(rpc.MaxRetries),
		evm.WithRetryDelay(rpc.RetryDelay),
		evm.WithMaxDelay(rpc.MaxDelay),
		evm.WithObserver(observability.RecordRPCCall),
	)
}

// BuildChain assembles a Chain over client. The node must report the
// configured chain id. A chain whose signer variable is empty is read-only.
func BuildChain(ctx context.Context, client evm.RPCClient, cc config.ChainConfig, cfg *config.Config, b Backends, logger *zap.Logger) (*Chain, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	reported, err := client.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("chain %d: read chain id: %w", cc.ChainID, err)
	}
	if reported != cc.ChainID {
		return nil, fmt.Errorf("chain %d: node reports chain id %d", cc.ChainID, reported)
	}

	scope := domain.ChainScope{
		ChainID:            cc.ChainID,
		TokenAddress:       common.HexToAddress(cc.TokenAddress).Hex(),
		MarketplaceAddress: common.HexToAddress(cc.MarketplaceAddress).Hex(),
	}
	chainLogger := logger.With(zap.Int64("chain_id", cc.ChainID))

	store := cache.New(b.Cache, cache.Options{TTL: cfg.Cache.TTL, Logger: chainLogger})
	reader := chainreader.NewReader(client, chainreader.Options{
		Concurrency: cfg.RPC.MaxConcurrency,
		Logger:      chainLogger,
	})
	listings := listing.NewReconciler(client, listing.Options{
		Concurrency: cfg.RPC.MaxConcurrency,
		Logger:      chainLogger,
	})
	resolver := metadata.NewResolver(metadata.Options{
		IPFSGateway: cfg.Metadata.IPFSGateway,
		Timeout:     cfg.Metadata.Timeout,
		MaxRetries:  cfg.Metadata.MaxRetries,
		Logger:      chainLogger,
	})
	pipeline := reconcile.NewPipeline(reader, listings, resolver, store, reconcile.PipelineOptions{
		Concurrency: cfg.RPC.MaxConcurrency,
		Runs:        b.Runs,
		Logger:      chainLogger,
	})

	deps := ChainDeps{
		Scope:    scope,
		Cache:    store,
		Reader:   reader,
		Listings: listings,
		Pipeline: pipeline,
		Runs:     b.Runs,
		Logger:   logger,
	}

	if key := cc.SignerKey(); key != "" {
		pk, err := evm.ParsePrivateKey(key)
		if err != nil {
			return nil, fmt.Errorf("chain %d: %w", cc.ChainID, err)
		}
		tr := evm.NewTransactor(client, pk, cc.ChainID)
		deps.Coordinator = mutation.NewCoordinator(tr, store, pipeline, mutation.Options{
			Store:  b.Mutations,
			Logger: chainLogger,
		})
		chainLogger.Info("mutations enabled", zap.String("signer", tr.From().Hex()))
	} else {
		chainLogger.Info("no signer configured, chain is read-only")
	}

	return NewChain(deps), nil
}
