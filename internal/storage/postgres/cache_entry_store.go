package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"nft-market-sync/internal/domain"
	"nft-market-sync/internal/storage"
)

// CacheEntryStore implements storage.CacheEntryStore using PostgreSQL.
// Each chain is one row of cache_entries; commits and epoch bumps serialize
// on that row.
type CacheEntryStore struct {
	pool *Pool
}

// NewCacheEntryStore creates a new CacheEntryStore.
func NewCacheEntryStore(pool *Pool) *CacheEntryStore {
	return &CacheEntryStore{pool: pool}
}

// Compile-time interface check.
var _ storage.CacheEntryStore = (*CacheEntryStore)(nil)

// Load returns the stored entry and head for chainID.
func (s *CacheEntryStore) Load(ctx context.Context, chainID int64) (_ *domain.CacheEntry, _ domain.CacheHead, err error) {
	started := time.Now()
	defer func() { observe("load_cache_entry", started, err) }()

	query := `
		SELECT tokens, version, entry_epoch, head_epoch, timestamp_ms
		FROM cache_entries
		WHERE chain_id = $1
	`

	var (
		raw         []byte
		version     int64
		entryEpoch  int64
		headEpoch   int64
		timestampMs int64
	)
	err = s.pool.QueryRow(ctx, query, chainID).Scan(&raw, &version, &entryEpoch, &headEpoch, &timestampMs)
	if err != nil {
		if isNotFoundError(err) {
			return nil, domain.CacheHead{}, nil
		}
		return nil, domain.CacheHead{}, fmt.Errorf("load cache entry: %w", err)
	}

	head := domain.CacheHead{Version: uint64(version), Epoch: uint64(headEpoch)}
	if raw == nil {
		// Invalidated before the first commit.
		return nil, head, nil
	}

	var tokens []domain.Token
	if err := json.Unmarshal(raw, &tokens); err != nil {
		return nil, domain.CacheHead{}, fmt.Errorf("decode cached tokens: %w", err)
	}
	if tokens == nil {
		tokens = []domain.Token{}
	}

	return &domain.CacheEntry{
		ChainID:   chainID,
		Tokens:    tokens,
		Version:   uint64(version),
		Epoch:     uint64(entryEpoch),
		Timestamp: timestampMs,
	}, head, nil
}

// Commit stores tokens under the next version. The chain row is locked with
// SELECT ... FOR UPDATE so the head check and the write are atomic.
func (s *CacheEntryStore) Commit(ctx context.Context, chainID int64, tokens []domain.Token, timestampMs int64, expected *domain.CacheHead) (_ *domain.CacheEntry, err error) {
	started := time.Now()
	defer func() { observe("commit_cache_entry", started, err) }()

	if tokens == nil {
		tokens = []domain.Token{}
	}
	payload, err := json.Marshal(tokens)
	if err != nil {
		return nil, fmt.Errorf("encode tokens: %w", err)
	}

	var entry *domain.CacheEntry
	err = pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `
			INSERT INTO cache_entries (chain_id) VALUES ($1)
			ON CONFLICT (chain_id) DO NOTHING
		`, chainID); err != nil {
			return fmt.Errorf("ensure cache row: %w", err)
		}

		var version, headEpoch int64
		if err := tx.QueryRow(ctx, `
			SELECT version, head_epoch FROM cache_entries
			WHERE chain_id = $1
			FOR UPDATE
		`, chainID).Scan(&version, &headEpoch); err != nil {
			return fmt.Errorf("lock cache row: %w", err)
		}

		current := domain.CacheHead{Version: uint64(version), Epoch: uint64(headEpoch)}
		if expected != nil && *expected != current {
			return storage.ErrVersionConflict
		}

		if _, err := tx.Exec(ctx, `
			UPDATE cache_entries
			SET tokens = $2, version = $3, entry_epoch = head_epoch, timestamp_ms = $4, updated_at = now()
			WHERE chain_id = $1
		`, chainID, payload, version+1, timestampMs); err != nil {
			return fmt.Errorf("write cache entry: %w", err)
		}

		entry = &domain.CacheEntry{
			ChainID:   chainID,
			Tokens:    tokens,
			Version:   uint64(version + 1),
			Epoch:     uint64(headEpoch),
			Timestamp: timestampMs,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// BumpEpoch increments the head epoch, creating the chain row if needed.
func (s *CacheEntryStore) BumpEpoch(ctx context.Context, chainID int64) (_ domain.CacheHead, err error) {
	started := time.Now()
	defer func() { observe("bump_cache_epoch", started, err) }()

	var version, headEpoch int64
	err = s.pool.QueryRow(ctx, `
		INSERT INTO cache_entries (chain_id, head_epoch) VALUES ($1, 1)
		ON CONFLICT (chain_id) DO UPDATE
		SET head_epoch = cache_entries.head_epoch + 1, updated_at = now()
		RETURNING version, head_epoch
	`, chainID).Scan(&version, &headEpoch)
	if err != nil {
		return domain.CacheHead{}, fmt.Errorf("bump cache epoch: %w", err)
	}
	return domain.CacheHead{Version: uint64(version), Epoch: uint64(headEpoch)}, nil
}
