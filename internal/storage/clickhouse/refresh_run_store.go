package clickhouse

import (
	"context"
	"fmt"
	"time"

	"nft-market-sync/internal/domain"
	"nft-market-sync/internal/storage"
)

// RefreshRunStore implements storage.RefreshRunStore using ClickHouse.
type RefreshRunStore struct {
	conn *Conn
}

// NewRefreshRunStore creates a new RefreshRunStore.
func NewRefreshRunStore(conn *Conn) *RefreshRunStore {
	return &RefreshRunStore{conn: conn}
}

// Compile-time interface check.
var _ storage.RefreshRunStore = (*RefreshRunStore)(nil)

// Insert adds a run. MergeTree does not enforce keys, so uniqueness of
// run_id is checked with an explicit lookup first.
func (s *RefreshRunStore) Insert(ctx context.Context, run *domain.RefreshRun) (err error) {
	if run == nil || run.RunID == "" {
		return storage.ErrInvalidInput
	}

	started := time.Now()
	defer func() { observe("insert_refresh_run", started, err) }()

	exists, err := s.exists(ctx, run.RunID)
	if err != nil {
		return fmt.Errorf("check exists: %w", err)
	}
	if exists {
		return storage.ErrDuplicateKey
	}

	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO refresh_runs (
			run_id, chain_id, version, forced, committed, supply,
			tokens_enumerated, tokens_dropped, tokens_returned, active_listings,
			started_at, duration_ms
		)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	err = batch.Append(
		run.RunID, run.ChainID, run.Version, boolToUInt8(run.Forced), boolToUInt8(run.Committed), run.Supply,
		uint32(run.TokensEnumerated), uint32(run.TokensDropped), uint32(run.TokensReturned), uint32(run.ActiveListings),
		run.StartedAt, run.DurationMs,
	)
	if err != nil {
		return fmt.Errorf("append to batch: %w", err)
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}
	return nil
}

// ListByChain returns the most recent runs for a chain, newest first.
func (s *RefreshRunStore) ListByChain(ctx context.Context, chainID int64, limit int) (_ []*domain.RefreshRun, err error) {
	started := time.Now()
	defer func() { observe("list_refresh_runs", started, err) }()

	query := `
		SELECT run_id, chain_id, version, forced, committed, supply,
			tokens_enumerated, tokens_dropped, tokens_returned, active_listings,
			started_at, duration_ms
		FROM refresh_runs
		WHERE chain_id = ?
		ORDER BY started_at DESC, run_id DESC
	`
	args := []any{chainID}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, uint64(limit))
	}

	rows, err := s.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query refresh runs: %w", err)
	}
	defer rows.Close()

	var result []*domain.RefreshRun
	for rows.Next() {
		var (
			r                                       domain.RefreshRun
			forced, committed                       uint8
			enumerated, dropped, returned, listings uint32
		)
		if err := rows.Scan(
			&r.RunID, &r.ChainID, &r.Version, &forced, &committed, &r.Supply,
			&enumerated, &dropped, &returned, &listings,
			&r.StartedAt, &r.DurationMs,
		); err != nil {
			return nil, fmt.Errorf("scan refresh run: %w", err)
		}
		r.Forced = forced == 1
		r.Committed = committed == 1
		r.TokensEnumerated = int(enumerated)
		r.TokensDropped = int(dropped)
		r.TokensReturned = int(returned)
		r.ActiveListings = int(listings)
		result = append(result, &r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate refresh runs: %w", err)
	}
	return result, nil
}

func (s *RefreshRunStore) exists(ctx context.Context, runID string) (bool, error) {
	var count uint64
	row := s.conn.QueryRow(ctx, `SELECT count(*) FROM refresh_runs WHERE run_id = ?`, runID)
	if err := row.Scan(&count); err != nil {
		return false, err
	}
	return count > 0, nil
}

func boolToUInt8(b bool) uint8 {
	if b {
		return 1
	}
	return 0
}
