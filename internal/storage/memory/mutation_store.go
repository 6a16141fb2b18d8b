package memory

import (
	"context"
	"sort"
	"sync"

	"nft-market-sync/internal/domain"
	"nft-market-sync/internal/storage"
)

// MutationStore is an in-memory implementation of storage.MutationStore.
type MutationStore struct {
	mu        sync.RWMutex
	mutations map[string]*domain.PendingMutation // keyed by id
}

// NewMutationStore creates a new in-memory mutation store.
func NewMutationStore() *MutationStore {
	return &MutationStore{
		mutations: make(map[string]*domain.PendingMutation),
	}
}

// Insert adds a pending mutation. Returns ErrDuplicateKey if id exists.
func (s *MutationStore) Insert(_ context.Context, m *domain.PendingMutation) error {
	if m == nil || m.ID == "" || !m.Kind.IsValid() {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.mutations[m.ID]; exists {
		return storage.ErrDuplicateKey
	}

	mCopy := *m
	s.mutations[m.ID] = &mCopy
	return nil
}

// Update replaces a stored mutation that has not reached a terminal status.
func (s *MutationStore) Update(_ context.Context, m *domain.PendingMutation) error {
	if m == nil || m.ID == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.mutations[m.ID]
	if !ok {
		return storage.ErrNotFound
	}
	if existing.Status.IsTerminal() {
		return storage.ErrInvalidInput
	}

	mCopy := *m
	s.mutations[m.ID] = &mCopy
	return nil
}

// GetByID retrieves a mutation. Returns ErrNotFound if not exists.
func (s *MutationStore) GetByID(_ context.Context, id string) (*domain.PendingMutation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.mutations[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	mCopy := *m
	return &mCopy, nil
}

// ListByChain returns mutations for a chain ordered by submission time ASC.
func (s *MutationStore) ListByChain(_ context.Context, chainID int64) ([]*domain.PendingMutation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.PendingMutation
	for _, m := range s.mutations {
		if m.ChainID == chainID {
			mCopy := *m
			result = append(result, &mCopy)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].SubmittedAt != result[j].SubmittedAt {
			return result[i].SubmittedAt < result[j].SubmittedAt
		}
		return result[i].ID < result[j].ID
	})
	return result, nil
}

var _ storage.MutationStore = (*MutationStore)(nil)
