// Package listing enumerates the marketplace ledger and reduces it to the
// set of active listings keyed by token id.
package listing

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"nft-market-sync/internal/contracts"
	"nft-market-sync/internal/domain"
	"nft-market-sync/internal/evm"
	"nft-market-sync/internal/observability"
)

// DefaultConcurrency bounds in-flight listing reads.
const DefaultConcurrency = 16

// Options configures a Reconciler.
type Options struct {
	Concurrency int
	Logger      *zap.Logger
}

// Reconciler reads marketplace listings through an evm.Caller.
type Reconciler struct {
	caller      evm.Caller
	concurrency int
	logger      *zap.Logger

	mu       sync.Mutex
	statuses map[int64]map[uint64]domain.ListingStatus // last seen status by chain and listing index
}

// NewReconciler creates a Reconciler.
func NewReconciler(caller evm.Caller, opts Options) *Reconciler {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	concurrency := opts.Concurrency
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	return &Reconciler{
		caller:      caller,
		concurrency: concurrency,
		logger:      logger,
		statuses:    make(map[int64]map[uint64]domain.ListingStatus),
	}
}

func (r *Reconciler) marketplace(scope domain.ChainScope) *contracts.MarketplaceContract {
	return contracts.NewMarketplaceContract(r.caller, common.HexToAddress(scope.MarketplaceAddress))
}

// LoadActiveListings reads every listing and returns the active ones keyed by
// token id. A failed getListingCount is returned; failed individual reads are
// logged and skipped. If two active listings reference the same token the one
// with the higher index wins.
func (r *Reconciler) LoadActiveListings(ctx context.Context, scope domain.ChainScope) (map[uint64]domain.Listing, error) {
	market := r.marketplace(scope)

	count, err := market.ListingCount(ctx)
	if err != nil {
		return nil, fmt.Errorf("read listing count: %w", err)
	}

	// Keyed by listing index so duplicates can be resolved deterministically.
	// The count comes from the chain and is never used to size allocations.
	var (
		mu       sync.Mutex
		listings = make(map[uint64]*domain.Listing)
		seen     = make(map[uint64]domain.ListingStatus)
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)

	for i := uint64(0); i < count; i++ {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			l, err := market.Listing(gctx, i)
			if err != nil {
				if gctx.Err() == nil {
					observability.RecordListingExcluded(scope.ChainID)
					r.logger.Warn("listing read failed",
						zap.Int64("chain_id", scope.ChainID),
						zap.Uint64("listing_index", i),
						zap.Error(err))
				}
				return nil
			}
			mu.Lock()
			defer mu.Unlock()
			seen[i] = l.Status
			if l.Status == domain.ListingActive {
				listings[i] = &l
			}
			return nil
		})
	}

	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.checkTransitions(scope, seen)

	indexes := make([]uint64, 0, len(listings))
	for i := range listings {
		indexes = append(indexes, i)
	}
	sort.Slice(indexes, func(a, b int) bool { return indexes[a] < indexes[b] })

	active := make(map[uint64]domain.Listing, len(listings))
	for _, i := range indexes {
		l := listings[i]
		if prev, ok := active[l.TokenID]; ok {
			observability.RecordListingConflict(scope.ChainID)
			r.logger.Warn("multiple active listings for token",
				zap.Int64("chain_id", scope.ChainID),
				zap.Uint64("token_id", l.TokenID),
				zap.Uint64("replaced_listing_id", prev.ListingID),
				zap.Uint64("listing_id", l.ListingID),
				zap.Uint64("listing_index", i))
		}
		active[l.TokenID] = *l
	}
	return active, nil
}

// checkTransitions compares the statuses read in this pass with the previous
// pass and flags listings whose status moved backwards, such as a Sold
// listing reported Active again. The new status is kept either way.
func (r *Reconciler) checkTransitions(scope domain.ChainScope, seen map[uint64]domain.ListingStatus) {
	r.mu.Lock()
	defer r.mu.Unlock()

	last, ok := r.statuses[scope.ChainID]
	if !ok {
		last = make(map[uint64]domain.ListingStatus, len(seen))
		r.statuses[scope.ChainID] = last
	}
	for i, status := range seen {
		if prev, ok := last[i]; ok && !prev.CanTransition(status) {
			observability.RecordListingRegression(scope.ChainID)
			r.logger.Warn("listing status moved backwards",
				zap.Int64("chain_id", scope.ChainID),
				zap.Uint64("listing_index", i),
				zap.Stringer("previous", prev),
				zap.Stringer("current", status))
		}
		last[i] = status
	}
}

// Stats reads getMarketplaceStats().
func (r *Reconciler) Stats(ctx context.Context, scope domain.ChainScope) (domain.MarketplaceStats, error) {
	stats, err := r.marketplace(scope).Stats(ctx)
	if err != nil {
		return domain.MarketplaceStats{}, fmt.Errorf("read marketplace stats: %w", err)
	}
	return stats, nil
}

// Paused reads paused() from the marketplace contract.
func (r *Reconciler) Paused(ctx context.Context, scope domain.ChainScope) (bool, error) {
	return r.marketplace(scope).Paused(ctx)
}
