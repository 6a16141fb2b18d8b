// Package watcher invalidates a chain's cached token set when its token or
// marketplace contract emits logs, so writes made outside this process show
// up without waiting for the TTL.
package watcher

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"nft-market-sync/internal/domain"
	"nft-market-sync/internal/evm"
	"nft-market-sync/internal/observability"
)

// DefaultDebounce is how long logs are collected before one invalidation.
const DefaultDebounce = 2 * time.Second

// ErrSubscriptionClosed is returned when the log stream ends while the watcher is running.
var ErrSubscriptionClosed = errors.New("log subscription closed")

// Subscriber opens a log subscription.
type Subscriber interface {
	SubscribeLogs(ctx context.Context, filter evm.LogsFilter) (<-chan evm.Log, error)
}

// Target is the chain whose cache the watcher maintains.
type Target interface {
	Scope() domain.ChainScope
	Invalidate(ctx context.Context) error
	Tokens(ctx context.Context, force bool) (*domain.CacheEntry, error)
}

// Options configures a Watcher.
type Options struct {
	// Debounce coalesces bursts of logs (a mint emits several) into one refresh.
	Debounce time.Duration
	// Warm runs a lazy refresh right after each invalidation.
	Warm   bool
	Logger *zap.Logger
}

// Watcher follows one chain's contract logs.
type Watcher struct {
	sub      Subscriber
	target   Target
	debounce time.Duration
	warm     bool
	logger   *zap.Logger
}

// New creates a Watcher.
func New(sub Subscriber, target Target, opts Options) *Watcher {
	w := &Watcher{
		sub:      sub,
		target:   target,
		debounce: opts.Debounce,
		warm:     opts.Warm,
		logger:   opts.Logger,
	}
	if w.debounce <= 0 {
		w.debounce = DefaultDebounce
	}
	if w.logger == nil {
		w.logger = zap.NewNop()
	}
	w.logger = w.logger.With(zap.Int64("chain_id", target.Scope().ChainID))
	return w
}

// Run subscribes and processes logs until ctx is cancelled or the
// subscription ends. It returns nil on cancellation.
func (w *Watcher) Run(ctx context.Context) error {
	scope := w.target.Scope()
	token := common.HexToAddress(scope.TokenAddress)
	market := common.HexToAddress(scope.MarketplaceAddress)

	logs, err := w.sub.SubscribeLogs(ctx, evm.LogsFilter{
		Addresses: []common.Address{token, market},
	})
	if err != nil {
		return fmt.Errorf("subscribe chain %d logs: %w", scope.ChainID, err)
	}
	w.logger.Info("watching contract logs",
		zap.String("token", token.Hex()),
		zap.String("marketplace", market.Hex()))

	var (
		timer   *time.Timer
		fire    <-chan time.Time
		pending int
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case l, ok := <-logs:
			if !ok {
				return ErrSubscriptionClosed
			}
			contract := "marketplace"
			if l.Address == token {
				contract = "token"
			}
			observability.RecordWatcherEvent(scope.ChainID, contract)
			w.logger.Debug("contract log",
				zap.String("contract", contract),
				zap.Uint64("block", l.BlockNumber),
				zap.String("tx_hash", l.TxHash.Hex()),
				zap.Bool("removed", l.Removed))

			pending++
			if fire == nil {
				timer = time.NewTimer(w.debounce)
				fire = timer.C
			}

		case <-fire:
			fire = nil
			w.refresh(ctx, pending)
			pending = 0
		}
	}
}

func (w *Watcher) refresh(ctx context.Context, events int) {
	if err := w.target.Invalidate(ctx); err != nil {
		w.logger.Warn("invalidation after contract logs failed", zap.Error(err))
		return
	}
	w.logger.Info("cache invalidated by contract logs", zap.Int("events", events))

	if !w.warm {
		return
	}
	entry, err := w.target.Tokens(ctx, false)
	if err != nil {
		if ctx.Err() == nil {
			w.logger.Warn("refresh after contract logs failed", zap.Error(err))
		}
		return
	}
	w.logger.Debug("cache warmed", zap.Uint64("version", entry.Version))
}
