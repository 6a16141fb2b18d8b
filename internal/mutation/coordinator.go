// Package mutation submits marketplace writes and keeps the cache in step
// with their outcome.
package mutation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"nft-market-sync/internal/contracts"
	"nft-market-sync/internal/domain"
	"nft-market-sync/internal/evm"
	"nft-market-sync/internal/observability"
	"nft-market-sync/internal/reconcile"
	"nft-market-sync/internal/storage"
	"nft-market-sync/internal/storage/memory"
)

// Default receipt polling parameters.
const (
	DefaultPollInterval    = 500 * time.Millisecond
	DefaultMaxPollInterval = 5 * time.Second
	DefaultConfirmTimeout  = 2 * time.Minute
)

var errNotMined = errors.New("transaction not mined")

// Sender signs, broadcasts and tracks transactions. *evm.Transactor implements it.
type Sender interface {
	Send(ctx context.Context, msg evm.CallMsg) (common.Hash, error)
	TransactionReceipt(ctx context.Context, hash common.Hash) (*evm.Receipt, error)
	Replay(ctx context.Context, msg evm.CallMsg) error
}

// Invalidator drops the current cache entry of a chain.
type Invalidator interface {
	Invalidate(ctx context.Context, chainID int64) error
}

// Refresher runs the reconciliation pipeline.
type Refresher interface {
	Run(ctx context.Context, scope domain.ChainScope, forced bool) (*reconcile.Result, error)
}

// Options configures a Coordinator.
type Options struct {
	// Store tracks submitted mutations; defaults to an in-memory store.
	Store           storage.MutationStore
	PollInterval    time.Duration
	MaxPollInterval time.Duration
	// ConfirmTimeout bounds the wait for a receipt. The mutation stays
	// Pending when it elapses.
	ConfirmTimeout time.Duration
	Logger         *zap.Logger
	Now            func() time.Time
}

// Coordinator submits mutations for one signer.
type Coordinator struct {
	sender    Sender
	cache     Invalidator
	refresher Refresher
	store     storage.MutationStore

	pollInterval    time.Duration
	maxPollInterval time.Duration
	confirmTimeout  time.Duration
	logger          *zap.Logger
	now             func() time.Time

	inflight sync.WaitGroup
}

// NewCoordinator creates a Coordinator.
func NewCoordinator(sender Sender, cache Invalidator, refresher Refresher, opts Options) *Coordinator {
	c := &Coordinator{
		sender:          sender,
		cache:           cache,
		refresher:       refresher,
		store:           opts.Store,
		pollInterval:    opts.PollInterval,
		maxPollInterval: opts.MaxPollInterval,
		confirmTimeout:  opts.ConfirmTimeout,
		logger:          opts.Logger,
		now:             opts.Now,
	}
	if c.store == nil {
		c.store = memory.NewMutationStore()
	}
	if c.pollInterval <= 0 {
		c.pollInterval = DefaultPollInterval
	}
	if c.maxPollInterval <= 0 {
		c.maxPollInterval = DefaultMaxPollInterval
	}
	if c.confirmTimeout <= 0 {
		c.confirmTimeout = DefaultConfirmTimeout
	}
	if c.logger == nil {
		c.logger = zap.NewNop()
	}
	if c.now == nil {
		c.now = time.Now
	}
	return c
}

// Submit sends the call described by args and waits for its receipt.
//
// On a successful receipt the chain's cache is invalidated and a forced
// refresh commits the post-mutation state; the returned mutation carries the
// committed version. On revert the cache is left untouched and a
// *TransactionRevertError is returned together with the Reverted mutation.
// If the receipt does not arrive in time, or ctx ends first, the mutation is
// returned Pending with the wait error. In the latter case confirmation
// continues in the background and the stored mutation is resolved later.
func (c *Coordinator) Submit(ctx context.Context, scope domain.ChainScope, args Args) (*domain.PendingMutation, error) {
	kind := args.Kind()
	msg, err := args.callMsg(scope)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", kind, err)
	}

	started := c.now()
	m := &domain.PendingMutation{
		ID:          uuid.NewString(),
		ChainID:     scope.ChainID,
		Kind:        kind,
		Status:      domain.MutationPending,
		SubmittedAt: started.UnixMilli(),
	}
	if err := c.store.Insert(ctx, m); err != nil {
		return nil, fmt.Errorf("track mutation: %w", err)
	}

	log := c.logger.With(
		zap.String("mutation_id", m.ID),
		zap.String("kind", string(kind)),
		zap.Int64("chain_id", scope.ChainID))

	hash, err := c.sender.Send(ctx, msg)
	if err != nil {
		if evm.IsRevert(err) {
			revertErr := &TransactionRevertError{Kind: kind, Reason: contracts.ReasonFromError(err)}
			log.Warn("mutation rejected at estimation", zap.String("reason", revertErr.Reason))
			c.resolve(ctx, m, domain.MutationReverted, revertErr.Error(), started)
			return m, revertErr
		}
		log.Warn("mutation send failed", zap.Error(err))
		c.resolve(ctx, m, domain.MutationReverted, err.Error(), started)
		return m, fmt.Errorf("send %s: %w", kind, err)
	}

	m.TransactionRef = hash.Hex()
	if err := c.store.Update(ctx, m); err != nil {
		log.Warn("failed to record transaction hash", zap.Error(err))
	}
	log = log.With(zap.String("tx_hash", m.TransactionRef))

	// Once broadcast, the outcome is tracked to the end even if the caller
	// stops waiting; the caller then gets the Pending snapshot.
	pending := *m
	done := make(chan outcome, 1)
	c.inflight.Add(1)
	go func() {
		defer c.inflight.Done()
		err := c.confirm(context.WithoutCancel(ctx), scope, msg, hash, m, log, started)
		done <- outcome{m: m, err: err}
	}()

	select {
	case out := <-done:
		return out.m, out.err
	case <-ctx.Done():
		log.Info("caller stopped waiting, confirming in background")
		return &pending, fmt.Errorf("wait for %s receipt: %w", kind, ctx.Err())
	}
}

type outcome struct {
	m   *domain.PendingMutation
	err error
}

// confirm waits for the receipt of hash and resolves m. It runs detached
// from the submitting request.
func (c *Coordinator) confirm(ctx context.Context, scope domain.ChainScope, msg evm.CallMsg, hash common.Hash, m *domain.PendingMutation, log *zap.Logger, started time.Time) error {
	kind := m.Kind
	receipt, err := c.waitReceipt(ctx, hash)
	if err != nil {
		log.Warn("mutation confirmation wait ended", zap.Error(err))
		return fmt.Errorf("wait for %s receipt: %w", kind, err)
	}

	if !receipt.Succeeded() {
		reason := contracts.ReasonFromError(c.sender.Replay(ctx, msg))
		revertErr := &TransactionRevertError{Kind: kind, TxHash: m.TransactionRef, Reason: reason}
		log.Warn("mutation reverted", zap.Uint64("block", receipt.BlockNumber), zap.String("reason", reason))
		c.resolve(ctx, m, domain.MutationReverted, revertErr.Error(), started)
		return revertErr
	}

	if err := c.cache.Invalidate(ctx, scope.ChainID); err != nil {
		log.Warn("cache invalidation failed", zap.Error(err))
	}
	rctx, cancel := context.WithTimeout(ctx, c.confirmTimeout)
	defer cancel()
	res, err := c.refresher.Run(rctx, scope, true)
	switch {
	case err != nil:
		// The write landed; readers refresh on their next query.
		log.Warn("post-mutation refresh failed", zap.Error(err))
	case res.Committed():
		m.CacheVersion = res.Entry.Version
	}

	c.resolve(ctx, m, domain.MutationConfirmed, "", started)
	log.Info("mutation confirmed",
		zap.Uint64("block", receipt.BlockNumber),
		zap.Uint64("cache_version", m.CacheVersion))
	return nil
}

// Wait blocks until every background confirmation has resolved.
func (c *Coordinator) Wait() {
	c.inflight.Wait()
}

// Get returns a tracked mutation.
func (c *Coordinator) Get(ctx context.Context, id string) (*domain.PendingMutation, error) {
	return c.store.GetByID(ctx, id)
}

// List returns the mutations submitted for a chain, oldest first.
func (c *Coordinator) List(ctx context.Context, chainID int64) ([]*domain.PendingMutation, error) {
	return c.store.ListByChain(ctx, chainID)
}

// waitReceipt polls for the receipt with exponential backoff until it is
// mined, ctx is done or the confirm timeout elapses.
func (c *Coordinator) waitReceipt(ctx context.Context, hash common.Hash) (*evm.Receipt, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.pollInterval
	b.MaxInterval = c.maxPollInterval
	b.MaxElapsedTime = c.confirmTimeout

	return backoff.RetryWithData(func() (*evm.Receipt, error) {
		r, err := c.sender.TransactionReceipt(ctx, hash)
		if err != nil {
			return nil, err
		}
		if r == nil {
			return nil, errNotMined
		}
		return r, nil
	}, backoff.WithContext(b, ctx))
}

func (c *Coordinator) resolve(ctx context.Context, m *domain.PendingMutation, status domain.MutationStatus, msg string, started time.Time) {
	resolved := c.now()
	m.Status = status
	m.Error = msg
	m.ResolvedAt = resolved.UnixMilli()
	if err := c.store.Update(ctx, m); err != nil {
		c.logger.Warn("failed to record mutation outcome",
			zap.String("mutation_id", m.ID),
			zap.Error(err))
	}
	observability.RecordMutation(string(m.Kind), string(status), resolved.Sub(started))
}
