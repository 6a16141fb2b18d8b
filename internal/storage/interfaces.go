package storage

import (
	"context"

	"nft-market-sync/internal/domain"
)

// CacheEntryStore persists one reconciled token set per chain together with
// the chain's cache head. Implementations must make Commit and BumpEpoch
// atomic with respect to each other.
type CacheEntryStore interface {
	// Load returns the stored entry and the current head for chainID.
	// The entry is nil if nothing was ever committed; the head is zero if the
	// chain has never been written or invalidated.
	Load(ctx context.Context, chainID int64) (*domain.CacheEntry, domain.CacheHead, error)

	// Commit stores tokens as a new entry with version head.Version+1 and the
	// current head epoch, and returns it. If expected is non-nil and differs
	// from the current head, nothing is written and ErrVersionConflict is returned.
	Commit(ctx context.Context, chainID int64, tokens []domain.Token, timestampMs int64, expected *domain.CacheHead) (*domain.CacheEntry, error)

	// BumpEpoch increments the head epoch, logically invalidating the stored
	// entry without deleting it, and returns the new head.
	BumpEpoch(ctx context.Context, chainID int64) (domain.CacheHead, error)
}

// RefreshRunStore provides access to refresh run history.
type RefreshRunStore interface {
	// Insert adds a run. Returns ErrDuplicateKey if run_id exists.
	Insert(ctx context.Context, run *domain.RefreshRun) error

	// ListByChain returns the most recent runs for a chain, newest first.
	ListByChain(ctx context.Context, chainID int64, limit int) ([]*domain.RefreshRun, error)
}

// MutationStore provides access to submitted mutations.
type MutationStore interface {
	// Insert adds a pending mutation. Returns ErrDuplicateKey if id exists.
	Insert(ctx context.Context, m *domain.PendingMutation) error

	// Update replaces a stored mutation. Returns ErrNotFound if id does not exist
	// and ErrInvalidInput if the stored mutation is already terminal.
	Update(ctx context.Context, m *domain.PendingMutation) error

	// GetByID retrieves a mutation. Returns ErrNotFound if not exists.
	GetByID(ctx context.Context, id string) (*domain.PendingMutation, error)

	// ListByChain returns mutations for a chain ordered by submission time ASC.
	ListByChain(ctx context.Context, chainID int64) ([]*domain.PendingMutation, error)
}
