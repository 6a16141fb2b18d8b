// Package chainreader enumerates token ownership and metadata pointers from
// the token contract.
package chainreader

import (
	"context"
	"errors"
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

// DefaultConcurrency bounds in-flight token reads.
const DefaultConcurrency = 16

// Options configures a Reader.
type Options struct {
	// Concurrency is the maximum number of token ids read at once.
	Concurrency int
	Logger      *zap.Logger
}

// Reader reads token state through an evm.Caller.
type Reader struct {
	caller      evm.Caller
	concurrency int
	logger      *zap.Logger
}

// NewReader creates a Reader.
func NewReader(caller evm.Caller, opts Options) *Reader {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	concurrency := opts.Concurrency
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	return &Reader{
		caller:      caller,
		concurrency: concurrency,
		logger:      logger,
	}
}

// Result is the outcome of one enumeration pass.
type Result struct {
	Tokens      []domain.RawToken
	Nonexistent int // burned ids
	Failed      int // ids excluded after other read errors
}

func (r *Reader) token(scope domain.ChainScope) *contracts.TokenContract {
	return contracts.NewTokenContract(r.caller, common.HexToAddress(scope.TokenAddress))
}

// TotalSupply reads totalSupply() from the scope's token contract.
func (r *Reader) TotalSupply(ctx context.Context, scope domain.ChainScope) (uint64, error) {
	supply, err := r.token(scope).TotalSupply(ctx)
	if err != nil {
		return 0, fmt.Errorf("read total supply: %w", err)
	}
	return supply, nil
}

// maxPrealloc caps the capacity reserved up front; supply is read from the
// chain and may be arbitrarily large.
const maxPrealloc = 4096

// EnumerateTokens reads tokenURI and ownerOf for ids 1..supply.
// Ids that fail either read are excluded; the batch is never aborted by a
// per-id failure. Tokens are returned in ascending id order. The only error
// is context cancellation.
func (r *Reader) EnumerateTokens(ctx context.Context, scope domain.ChainScope, supply uint64) (*Result, error) {
	token := r.token(scope)

	var (
		mu  sync.Mutex
		res = &Result{Tokens: make([]domain.RawToken, 0, min(supply, maxPrealloc))}
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)

	for id := uint64(1); id <= supply; id++ {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			raw, err := r.readToken(gctx, token, id)

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				res.Tokens = append(res.Tokens, raw)
			case gctx.Err() != nil:
				// cancelled; reported below
			case errors.Is(err, contracts.ErrNonexistentToken):
				res.Nonexistent++
				observability.RecordTokenDropped(scope.ChainID, "nonexistent")
				r.logger.Debug("token does not exist",
					zap.Int64("chain_id", scope.ChainID),
					zap.Uint64("token_id", id))
			default:
				res.Failed++
				observability.RecordTokenDropped(scope.ChainID, "transient")
				r.logger.Warn("token read failed",
					zap.Int64("chain_id", scope.ChainID),
					zap.Uint64("token_id", id),
					zap.Error(err))
			}
			return nil
		})
	}

	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	sort.Slice(res.Tokens, func(i, j int) bool { return res.Tokens[i].ID < res.Tokens[j].ID })
	return res, nil
}

// readToken issues tokenURI and ownerOf concurrently for one id.
func (r *Reader) readToken(ctx context.Context, token *contracts.TokenContract, id uint64) (domain.RawToken, error) {
	var (
		uri, owner       string
		uriErr, ownerErr error
		wg               sync.WaitGroup
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		uri, uriErr = token.TokenURI(ctx, id)
	}()
	go func() {
		defer wg.Done()
		owner, ownerErr = token.OwnerOf(ctx, id)
	}()
	wg.Wait()

	// A burned id reverts on both calls; prefer the nonexistent classification.
	if errors.Is(ownerErr, contracts.ErrNonexistentToken) {
		return domain.RawToken{}, ownerErr
	}
	if uriErr != nil {
		return domain.RawToken{}, uriErr
	}
	if ownerErr != nil {
		return domain.RawToken{}, ownerErr
	}
	return domain.RawToken{ID: id, Owner: owner, URI: uri}, nil
}

// IsApprovedForAll reads isApprovedForAll(owner, operator).
func (r *Reader) IsApprovedForAll(ctx context.Context, scope domain.ChainScope, owner, operator string) (bool, error) {
	return r.token(scope).IsApprovedForAll(ctx, common.HexToAddress(owner), common.HexToAddress(operator))
}

// GetApproved reads getApproved(id).
func (r *Reader) GetApproved(ctx context.Context, scope domain.ChainScope, id uint64) (string, error) {
	return r.token(scope).GetApproved(ctx, id)
}

// Paused reads paused() from the token contract.
func (r *Reader) Paused(ctx context.Context, scope domain.ChainScope) (bool, error) {
	return r.token(scope).Paused(ctx)
}
