package memory

import (
	"context"
	"sort"
	"sync"

	"nft-market-sync/internal/domain"
	"nft-market-sync/internal/storage"
)

// RefreshRunStore is an in-memory implementation of storage.RefreshRunStore.
type RefreshRunStore struct {
	mu   sync.RWMutex
	runs map[string]*domain.RefreshRun // keyed by run_id
}

// NewRefreshRunStore creates a new in-memory refresh run store.
func NewRefreshRunStore() *RefreshRunStore {
	return &RefreshRunStore{
		runs: make(map[string]*domain.RefreshRun),
	}
}

// Insert adds a run. Returns ErrDuplicateKey if run_id exists.
func (s *RefreshRunStore) Insert(_ context.Context, run *domain.RefreshRun) error {
	if run == nil || run.RunID == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.runs[run.RunID]; exists {
		return storage.ErrDuplicateKey
	}

	runCopy := *run
	s.runs[run.RunID] = &runCopy
	return nil
}

// ListByChain returns the most recent runs for a chain, newest first.
func (s *RefreshRunStore) ListByChain(_ context.Context, chainID int64, limit int) ([]*domain.RefreshRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.RefreshRun
	for _, r := range s.runs {
		if r.ChainID == chainID {
			runCopy := *r
			result = append(result, &runCopy)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].StartedAt != result[j].StartedAt {
			return result[i].StartedAt > result[j].StartedAt
		}
		return result[i].RunID > result[j].RunID
	})

	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

var _ storage.RefreshRunStore = (*RefreshRunStore)(nil)
