package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"nft-market-sync/internal/cache"
	"nft-market-sync/internal/chainreader"
	"nft-market-sync/internal/domain"
	"nft-market-sync/internal/listing"
	"nft-market-sync/internal/mutation"
	"nft-market-sync/internal/reconcile"
	"nft-market-sync/internal/storage"
)

// Service errors.
var (
	// ErrUnknownChain is returned for a chain id that is not registered.
	ErrUnknownChain = errors.New("unknown chain")

	// ErrTokenNotFound is returned when a token id is not in the current token set.
	ErrTokenNotFound = errors.New("token not found")

	// ErrReadOnly is returned for mutations on a chain without a signing key.
	ErrReadOnly = errors.New("chain has no signer")
)

// refreshTimeout bounds a lazy refresh shared by concurrent callers.
const refreshTimeout = 5 * time.Minute

// Chain serves one chain: cached token queries, marketplace reads and mutations.
type Chain struct {
	scope       domain.ChainScope
	cache       *cache.Store
	reader      *chainreader.Reader
	listings    *listing.Reconciler
	pipeline    *reconcile.Pipeline
	runs        storage.RefreshRunStore
	coordinator *mutation.Coordinator // nil when read-only
	closers     []func() error
	logger      *zap.Logger

	group singleflight.Group
}

// ChainDeps are the collaborators of a Chain.
type ChainDeps struct {
	Scope    domain.ChainScope
	Cache    *cache.Store
	Reader   *chainreader.Reader
	Listings *listing.Reconciler
	Pipeline *reconcile.Pipeline
	Runs     storage.RefreshRunStore
	// Coordinator is optional; without it the chain rejects mutations.
	Coordinator *mutation.Coordinator
	// Closers release connections owned by the chain, in order.
	Closers []func() error
	Logger  *zap.Logger
}

// NewChain creates a Chain.
func NewChain(deps ChainDeps) *Chain {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Chain{
		scope:       deps.Scope,
		cache:       deps.Cache,
		reader:      deps.Reader,
		listings:    deps.Listings,
		pipeline:    deps.Pipeline,
		runs:        deps.Runs,
		coordinator: deps.Coordinator,
		closers:     deps.Closers,
		logger:      logger.With(zap.Int64("chain_id", deps.Scope.ChainID)),
	}
}

// Scope returns the contracts this chain serves.
func (c *Chain) Scope() domain.ChainScope {
	return c.scope
}

// Tokens returns the current token set.
//
// Without force a valid cache entry is served as is; otherwise one lazy
// refresh runs, shared by all concurrent callers. A lazy refresh that lost
// the race against an invalidation or another commit is not served: the
// newer entry is read back, or a forced refresh runs if there is none.
// With force the cache is bypassed and the result always committed.
func (c *Chain) Tokens(ctx context.Context, force bool) (*domain.CacheEntry, error) {
	if force {
		return c.refresh(ctx, true)
	}

	entry, err := c.cache.Get(ctx, c.scope.ChainID)
	if err != nil {
		c.logger.Warn("cache read failed, refreshing", zap.Error(err))
	} else if entry != nil {
		return entry, nil
	}

	// The shared refresh outlives any single caller; each caller stops
	// waiting when its own ctx ends.
	ch := c.group.DoChan(strconv.FormatInt(c.scope.ChainID, 10), func() (interface{}, error) {
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), refreshTimeout)
		defer cancel()
		// A caller that missed while another refresh was committing lands here after it.
		if entry, err := c.cache.Get(rctx, c.scope.ChainID); err == nil && entry != nil {
			return entry, nil
		}
		return c.refresh(rctx, false)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*domain.CacheEntry), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *Chain) refresh(ctx context.Context, forced bool) (*domain.CacheEntry, error) {
	res, err := c.pipeline.Run(ctx, c.scope, forced)
	if err != nil {
		return nil, err
	}
	if res.Committed() {
		return res.Entry, nil
	}

	entry, err := c.cache.Get(ctx, c.scope.ChainID)
	if err == nil && entry != nil {
		return entry, nil
	}
	c.logger.Debug("lazy refresh superseded without a fresh entry, forcing")
	res, err = c.pipeline.Run(ctx, c.scope, true)
	if err != nil {
		return nil, err
	}
	return res.Entry, nil
}

// Token returns one token of the current token set.
func (c *Chain) Token(ctx context.Context, id uint64) (*domain.Token, error) {
	entry, err := c.Tokens(ctx, false)
	if err != nil {
		return nil, err
	}
	for i := range entry.Tokens {
		if entry.Tokens[i].ID == id {
			t := entry.Tokens[i]
			return &t, nil
		}
	}
	return nil, ErrTokenNotFound
}

// Invalidate drops the cached token set.
func (c *Chain) Invalidate(ctx context.Context) error {
	return c.cache.Invalidate(ctx, c.scope.ChainID)
}

// Stats is the marketplace summary of a chain.
type Stats struct {
	Marketplace       domain.MarketplaceStats `json:"marketplace"`
	TokenPaused       bool                    `json:"tokenPaused"`
	MarketplacePaused bool                    `json:"marketplacePaused"`
	CacheVersion      uint64                  `json:"cacheVersion"`
}

// Stats reads marketplace counters and pause flags from the chain.
func (c *Chain) Stats(ctx context.Context) (*Stats, error) {
	stats, err := c.listings.Stats(ctx, c.scope)
	if err != nil {
		return nil, fmt.Errorf("marketplace stats: %w", err)
	}
	tokenPaused, err := c.reader.Paused(ctx, c.scope)
	if err != nil {
		return nil, fmt.Errorf("token paused: %w", err)
	}
	marketPaused, err := c.listings.Paused(ctx, c.scope)
	if err != nil {
		return nil, fmt.Errorf("marketplace paused: %w", err)
	}
	head, err := c.cache.Head(ctx, c.scope.ChainID)
	if err != nil {
		return nil, fmt.Errorf("cache head: %w", err)
	}
	return &Stats{
		Marketplace:       stats,
		TokenPaused:       tokenPaused,
		MarketplacePaused: marketPaused,
		CacheVersion:      head.Version,
	}, nil
}

// Approval is the marketplace's authority over an owner's tokens.
type Approval struct {
	Owner          string  `json:"owner"`
	Operator       string  `json:"operator"`
	ApprovedForAll bool    `json:"approvedForAll"`
	TokenID        *uint64 `json:"tokenId,omitempty"`
	Approved       string  `json:"approved,omitempty"` // getApproved(tokenId)
	CanList        bool    `json:"canList"`
}

// Approvals reports whether the marketplace may transfer owner's tokens, and
// the per-token approval when tokenID is set.
func (c *Chain) Approvals(ctx context.Context, owner common.Address, tokenID *uint64) (*Approval, error) {
	operator := common.HexToAddress(c.scope.MarketplaceAddress).Hex()
	all, err := c.reader.IsApprovedForAll(ctx, c.scope, owner.Hex(), operator)
	if err != nil {
		return nil, fmt.Errorf("isApprovedForAll: %w", err)
	}

	a := &Approval{
		Owner:          owner.Hex(),
		Operator:       operator,
		ApprovedForAll: all,
		TokenID:        tokenID,
		CanList:        all,
	}
	if tokenID != nil {
		approved, err := c.reader.GetApproved(ctx, c.scope, *tokenID)
		if err != nil {
			return nil, fmt.Errorf("getApproved: %w", err)
		}
		a.Approved = approved
		a.CanList = all || approved == operator
	}
	return a, nil
}

// Submit sends a mutation and waits for its outcome.
func (c *Chain) Submit(ctx context.Context, args mutation.Args) (*domain.PendingMutation, error) {
	if c.coordinator == nil {
		return nil, ErrReadOnly
	}
	return c.coordinator.Submit(ctx, c.scope, args)
}

// Mutation returns a mutation submitted on this chain.
func (c *Chain) Mutation(ctx context.Context, id string) (*domain.PendingMutation, error) {
	if c.coordinator == nil {
		return nil, storage.ErrNotFound
	}
	m, err := c.coordinator.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	// Chains may share one mutation store.
	if m.ChainID != c.scope.ChainID {
		return nil, storage.ErrNotFound
	}
	return m, nil
}

// Mutations lists the mutations submitted on this chain, oldest first.
func (c *Chain) Mutations(ctx context.Context) ([]*domain.PendingMutation, error) {
	if c.coordinator == nil {
		return []*domain.PendingMutation{}, nil
	}
	return c.coordinator.List(ctx, c.scope.ChainID)
}

// Runs returns recent refresh runs, newest first.
func (c *Chain) Runs(ctx context.Context, limit int) ([]*domain.RefreshRun, error) {
	if c.runs == nil {
		return []*domain.RefreshRun{}, nil
	}
	return c.runs.ListByChain(ctx, c.scope.ChainID, limit)
}

// Close waits for background mutation confirmations, then releases the
// chain's connections.
func (c *Chain) Close() error {
	if c.coordinator != nil {
		c.coordinator.Wait()
	}
	var errs []error
	for _, closeFn := range c.closers {
		if err := closeFn(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
