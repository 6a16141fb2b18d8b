// Package reconcile joins token, listing and metadata reads into the cached
// token set of a chain.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"nft-market-sync/internal/cache"
	"nft-market-sync/internal/chainreader"
	"nft-market-sync/internal/domain"
	"nft-market-sync/internal/observability"
	"nft-market-sync/internal/storage"
)

// TokenSource enumerates tokens from the token contract.
type TokenSource interface {
	TotalSupply(ctx context.Context, scope domain.ChainScope) (uint64, error)
	EnumerateTokens(ctx context.Context, scope domain.ChainScope, supply uint64) (*chainreader.Result, error)
}

// ListingSource enumerates active marketplace listings.
type ListingSource interface {
	LoadActiveListings(ctx context.Context, scope domain.ChainScope) (map[uint64]domain.Listing, error)
}

// PipelineOptions configures a Pipeline.
type PipelineOptions struct {
	// Concurrency bounds in-flight metadata resolutions.
	Concurrency int
	// Runs records run history when set.
	Runs   storage.RefreshRunStore
	Logger *zap.Logger
	Now    func() time.Time
}

// Pipeline runs one reconciliation pass for a chain and commits the result.
type Pipeline struct {
	tokens      TokenSource
	listings    ListingSource
	resolver    Resolver
	cache       *cache.Store
	runs        storage.RefreshRunStore
	concurrency int
	logger      *zap.Logger
	now         func() time.Time
}

// NewPipeline creates a Pipeline.
func NewPipeline(tokens TokenSource, listings ListingSource, resolver Resolver, store *cache.Store, opts PipelineOptions) *Pipeline {
	p := &Pipeline{
		tokens:      tokens,
		listings:    listings,
		resolver:    resolver,
		cache:       store,
		runs:        opts.Runs,
		concurrency: opts.Concurrency,
		logger:      opts.Logger,
		now:         opts.Now,
	}
	if p.concurrency <= 0 {
		p.concurrency = chainreader.DefaultConcurrency
	}
	if p.logger == nil {
		p.logger = zap.NewNop()
	}
	if p.now == nil {
		p.now = time.Now
	}
	return p
}

// Result is the outcome of a pipeline run.
type Result struct {
	// Tokens is the merged token set produced by this run.
	Tokens []domain.Token
	// Entry is the committed cache entry, nil if the commit was discarded.
	Entry *domain.CacheEntry
	// Run is the recorded run summary.
	Run domain.RefreshRun
}

// Committed reports whether the run's output became the current cache entry.
func (r *Result) Committed() bool {
	return r.Entry != nil
}

// Run executes the pipeline for scope. A lazy run (forced=false) commits
// only if no other commit or invalidation happened since it started; a stale
// lazy result is returned with a nil Entry and must not be served as current.
// A forced run always commits.
func (p *Pipeline) Run(ctx context.Context, scope domain.ChainScope, forced bool) (*Result, error) {
	started := p.now()
	mode := "lazy"
	if forced {
		mode = "forced"
	}

	run := domain.RefreshRun{
		RunID:     uuid.NewString(),
		ChainID:   scope.ChainID,
		Forced:    forced,
		StartedAt: started.UnixMilli(),
	}

	var ticket *cache.Ticket
	if !forced {
		t, err := p.cache.Begin(ctx, scope.ChainID)
		if err != nil {
			return nil, p.fail(run, mode, started, err)
		}
		ticket = &t
	}

	var (
		enumerated *chainreader.Result
		active     map[uint64]domain.Listing
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		supply, err := p.tokens.TotalSupply(gctx, scope)
		if err != nil {
			return err
		}
		run.Supply = supply
		enumerated, err = p.tokens.EnumerateTokens(gctx, scope, supply)
		return err
	})
	g.Go(func() error {
		var err error
		active, err = p.listings.LoadActiveListings(gctx, scope)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, p.fail(run, mode, started, err)
	}

	tokens, dropped := Merge(ctx, enumerated.Tokens, active, p.resolver, p.concurrency)
	if err := ctx.Err(); err != nil {
		return nil, p.fail(run, mode, started, err)
	}
	for _, id := range dropped {
		observability.RecordTokenDropped(scope.ChainID, "metadata")
		p.logger.Debug("token dropped without metadata",
			zap.Int64("chain_id", scope.ChainID),
			zap.Uint64("token_id", id))
	}

	run.TokensEnumerated = len(enumerated.Tokens)
	run.TokensDropped = len(dropped)
	run.TokensReturned = len(tokens)
	run.ActiveListings = len(active)

	res := &Result{Tokens: tokens}

	entry, err := p.cache.Set(ctx, scope.ChainID, tokens, ticket)
	switch {
	case errors.Is(err, storage.ErrVersionConflict):
		observability.RecordRefreshRun(scope.ChainID, mode, "conflict", p.now().Sub(started))
	case err != nil:
		return nil, p.fail(run, mode, started, err)
	default:
		res.Entry = entry
		run.Committed = true
		run.Version = entry.Version
		observability.RecordRefreshRun(scope.ChainID, mode, "committed", p.now().Sub(started))
	}

	run.DurationMs = p.now().Sub(started).Milliseconds()
	res.Run = run
	p.record(ctx, run)

	p.logger.Info("refresh finished",
		zap.Int64("chain_id", scope.ChainID),
		zap.String("mode", mode),
		zap.Bool("committed", run.Committed),
		zap.Uint64("version", run.Version),
		zap.Uint64("supply", run.Supply),
		zap.Int("tokens", run.TokensReturned),
		zap.Int("burned", enumerated.Nonexistent),
		zap.Int("read_failures", enumerated.Failed),
		zap.Int("metadata_failures", run.TokensDropped),
		zap.Int("active_listings", run.ActiveListings),
		zap.Int64("duration_ms", run.DurationMs))

	return res, nil
}

func (p *Pipeline) fail(run domain.RefreshRun, mode string, started time.Time, err error) error {
	observability.RecordRefreshRun(run.ChainID, mode, "failed", p.now().Sub(started))
	p.logger.Warn("refresh failed",
		zap.Int64("chain_id", run.ChainID),
		zap.String("mode", mode),
		zap.Error(err))
	return fmt.Errorf("refresh chain %d: %w", run.ChainID, err)
}

// record stores the run summary. History is best effort and never fails a run.
func (p *Pipeline) record(ctx context.Context, run domain.RefreshRun) {
	if p.runs == nil {
		return
	}
	if err := p.runs.Insert(ctx, &run); err != nil {
		p.logger.Warn("failed to record refresh run",
			zap.String("run_id", run.RunID),
			zap.Error(err))
	}
}
