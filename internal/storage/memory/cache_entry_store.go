package memory

import (
	"context"
	"sync"

	"nft-market-sync/internal/domain"
	"nft-market-sync/internal/storage"
)

type cacheRecord struct {
	entry *domain.CacheEntry // nil until the first commit
	head  domain.CacheHead
}

// CacheEntryStore is an in-memory implementation of storage.CacheEntryStore.
type CacheEntryStore struct {
	mu      sync.Mutex
	byChain map[int64]*cacheRecord
}

// NewCacheEntryStore creates a new in-memory cache entry store.
func NewCacheEntryStore() *CacheEntryStore {
	return &CacheEntryStore{
		byChain: make(map[int64]*cacheRecord),
	}
}

// Load returns a copy of the stored entry and the current head.
func (s *CacheEntryStore) Load(_ context.Context, chainID int64) (*domain.CacheEntry, domain.CacheHead, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.byChain[chainID]
	if !ok {
		return nil, domain.CacheHead{}, nil
	}
	return copyEntry(rec.entry), rec.head, nil
}

// Commit stores tokens under the next version. See storage.CacheEntryStore.
func (s *CacheEntryStore) Commit(_ context.Context, chainID int64, tokens []domain.Token, timestampMs int64, expected *domain.CacheHead) (*domain.CacheEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.byChain[chainID]
	if !ok {
		rec = &cacheRecord{}
		s.byChain[chainID] = rec
	}

	if expected != nil && *expected != rec.head {
		return nil, storage.ErrVersionConflict
	}

	rec.head.Version++
	rec.entry = &domain.CacheEntry{
		ChainID:   chainID,
		Tokens:    copyTokens(tokens),
		Version:   rec.head.Version,
		Epoch:     rec.head.Epoch,
		Timestamp: timestampMs,
	}
	return copyEntry(rec.entry), nil
}

// BumpEpoch increments the head epoch.
func (s *CacheEntryStore) BumpEpoch(_ context.Context, chainID int64) (domain.CacheHead, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.byChain[chainID]
	if !ok {
		rec = &cacheRecord{}
		s.byChain[chainID] = rec
	}
	rec.head.Epoch++
	return rec.head, nil
}

func copyEntry(e *domain.CacheEntry) *domain.CacheEntry {
	if e == nil {
		return nil
	}
	entryCopy := *e
	entryCopy.Tokens = copyTokens(e.Tokens)
	return &entryCopy
}

// copyTokens copies the token slice and the pointer fields callers could mutate.
func copyTokens(tokens []domain.Token) []domain.Token {
	out := make([]domain.Token, len(tokens))
	for i, t := range tokens {
		if t.ListingID != nil {
			id := *t.ListingID
			t.ListingID = &id
		}
		if t.ListingType != nil {
			lt := *t.ListingType
			t.ListingType = &lt
		}
		t.Attributes = append([]domain.Attribute{}, t.Attributes...)
		out[i] = t
	}
	return out
}

var _ storage.CacheEntryStore = (*CacheEntryStore)(nil)
