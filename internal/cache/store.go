// Package cache implements the versioned, TTL-bound token cache.
//
// Every chain has a head {version, epoch}. A stored entry is served only while
// it is younger than the TTL and was written under the current head.
// Invalidate bumps the epoch, so the entry stays on disk but is never served
// again, and any refresh that started before the bump can no longer commit.
package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"nft-market-sync/internal/domain"
	"nft-market-sync/internal/observability"
	"nft-market-sync/internal/storage"
)

// DefaultTTL is the maximum age of a servable entry.
const DefaultTTL = 24 * time.Hour

// Ticket is the head snapshot taken before a lazy refresh. Committing with a
// ticket fails with storage.ErrVersionConflict if anything was committed or
// invalidated since.
type Ticket struct {
	ChainID int64
	Head    domain.CacheHead
}

// Options configures a Store.
type Options struct {
	TTL    time.Duration
	Now    func() time.Time
	Logger *zap.Logger
}

// Store is the cache front end over a storage.CacheEntryStore backend.
type Store struct {
	backend storage.CacheEntryStore
	ttl     time.Duration
	now     func() time.Time
	logger  *zap.Logger
}

// New creates a Store.
func New(backend storage.CacheEntryStore, opts Options) *Store {
	s := &Store{
		backend: backend,
		ttl:     opts.TTL,
		now:     opts.Now,
		logger:  opts.Logger,
	}
	if s.ttl <= 0 {
		s.ttl = DefaultTTL
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	return s
}

// TTL returns the configured time to live.
func (s *Store) TTL() time.Duration {
	return s.ttl
}

// Get returns the current entry for chainID, or nil when there is none, it
// has expired, or it was written under an older head.
func (s *Store) Get(ctx context.Context, chainID int64) (*domain.CacheEntry, error) {
	entry, head, err := s.backend.Load(ctx, chainID)
	if err != nil {
		observability.RecordCacheLookup(chainID, "error")
		return nil, fmt.Errorf("load cache entry: %w", err)
	}
	if entry == nil {
		observability.RecordCacheLookup(chainID, "miss")
		return nil, nil
	}
	if entry.Head() != head {
		observability.RecordCacheLookup(chainID, "stale")
		return nil, nil
	}
	age := time.Duration(s.now().UnixMilli()-entry.Timestamp) * time.Millisecond
	if age >= s.ttl {
		observability.RecordCacheLookup(chainID, "expired")
		return nil, nil
	}
	observability.RecordCacheLookup(chainID, "hit")
	return entry, nil
}

// Begin snapshots the head of chainID for a later conditional Set.
func (s *Store) Begin(ctx context.Context, chainID int64) (Ticket, error) {
	_, head, err := s.backend.Load(ctx, chainID)
	if err != nil {
		return Ticket{}, fmt.Errorf("load cache head: %w", err)
	}
	return Ticket{ChainID: chainID, Head: head}, nil
}

// Set commits tokens as a new entry with the next version and the current
// time. With a ticket the commit is conditional on the head being unchanged;
// a stale ticket yields storage.ErrVersionConflict and nothing is written.
// Without a ticket the commit always succeeds.
func (s *Store) Set(ctx context.Context, chainID int64, tokens []domain.Token, ticket *Ticket) (*domain.CacheEntry, error) {
	if tokens == nil {
		tokens = []domain.Token{}
	}

	var expected *domain.CacheHead
	if ticket != nil {
		if ticket.ChainID != chainID {
			return nil, fmt.Errorf("%w: ticket for chain %d used on chain %d", storage.ErrInvalidInput, ticket.ChainID, chainID)
		}
		head := ticket.Head
		expected = &head
	}

	entry, err := s.backend.Commit(ctx, chainID, tokens, s.now().UnixMilli(), expected)
	if errors.Is(err, storage.ErrVersionConflict) {
		observability.RecordCacheConflict(chainID)
		s.logger.Debug("discarding stale refresh",
			zap.Int64("chain_id", chainID),
			zap.Uint64("ticket_version", expected.Version),
			zap.Uint64("ticket_epoch", expected.Epoch))
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("commit cache entry: %w", err)
	}

	observability.RecordCommit(chainID, entry.Version, len(entry.Tokens))
	return entry, nil
}

// Invalidate makes the current entry of chainID unservable and every
// outstanding ticket stale. The version is not changed.
func (s *Store) Invalidate(ctx context.Context, chainID int64) error {
	head, err := s.backend.BumpEpoch(ctx, chainID)
	if err != nil {
		return fmt.Errorf("invalidate cache: %w", err)
	}
	s.logger.Debug("cache invalidated",
		zap.Int64("chain_id", chainID),
		zap.Uint64("version", head.Version),
		zap.Uint64("epoch", head.Epoch))
	return nil
}

// Head returns the current head of chainID.
func (s *Store) Head(ctx context.Context, chainID int64) (domain.CacheHead, error) {
	_, head, err := s.backend.Load(ctx, chainID)
	if err != nil {
		return domain.CacheHead{}, fmt.Errorf("load cache head: %w", err)
	}
	return head, nil
}
