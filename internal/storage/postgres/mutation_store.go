package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"nft-market-sync/internal/domain"
	"nft-market-sync/internal/storage"
)

// MutationStore implements storage.MutationStore using PostgreSQL.
type MutationStore struct {
	pool *Pool
}

// NewMutationStore creates a new MutationStore.
func NewMutationStore(pool *Pool) *MutationStore {
	return &MutationStore{pool: pool}
}

// Compile-time interface check.
var _ storage.MutationStore = (*MutationStore)(nil)

const mutationColumns = `id, chain_id, kind, transaction_ref, status, error, cache_version, submitted_at, resolved_at`

// Insert adds a pending mutation. Returns ErrDuplicateKey if id exists.
func (s *MutationStore) Insert(ctx context.Context, m *domain.PendingMutation) (err error) {
	if m == nil || m.ID == "" || !m.Kind.IsValid() {
		return storage.ErrInvalidInput
	}

	started := time.Now()
	defer func() { observe("insert_mutation", started, err) }()

	query := `
		INSERT INTO mutations (` + mutationColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err = s.pool.Exec(ctx, query,
		m.ID,
		m.ChainID,
		string(m.Kind),
		m.TransactionRef,
		string(m.Status),
		m.Error,
		int64(m.CacheVersion),
		m.SubmittedAt,
		m.ResolvedAt,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert mutation: %w", err)
	}
	return nil
}

// Update replaces a stored mutation that has not reached a terminal status.
func (s *MutationStore) Update(ctx context.Context, m *domain.PendingMutation) (err error) {
	if m == nil || m.ID == "" {
		return storage.ErrInvalidInput
	}

	started := time.Now()
	defer func() { observe("update_mutation", started, err) }()

	tag, err := s.pool.Exec(ctx, `
		UPDATE mutations
		SET transaction_ref = $2, status = $3, error = $4, cache_version = $5, resolved_at = $6
		WHERE id = $1 AND status = 'Pending'
	`, m.ID, m.TransactionRef, string(m.Status), m.Error, int64(m.CacheVersion), m.ResolvedAt)
	if err != nil {
		return fmt.Errorf("update mutation: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	// Nothing updated: either missing or already terminal.
	if _, err := s.GetByID(ctx, m.ID); err != nil {
		return err
	}
	return storage.ErrInvalidInput
}

// GetByID retrieves a mutation. Returns ErrNotFound if not exists.
func (s *MutationStore) GetByID(ctx context.Context, id string) (_ *domain.PendingMutation, err error) {
	started := time.Now()
	defer func() { observe("get_mutation", started, err) }()

	row := s.pool.QueryRow(ctx, `SELECT `+mutationColumns+` FROM mutations WHERE id = $1`, id)
	m, err := scanMutation(row)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get mutation by id: %w", err)
	}
	return m, nil
}

// ListByChain returns mutations for a chain ordered by submission time ASC.
func (s *MutationStore) ListByChain(ctx context.Context, chainID int64) (_ []*domain.PendingMutation, err error) {
	started := time.Now()
	defer func() { observe("list_mutations", started, err) }()

	rows, err := s.pool.Query(ctx, `
		SELECT `+mutationColumns+`
		FROM mutations
		WHERE chain_id = $1
		ORDER BY submitted_at ASC, id ASC
	`, chainID)
	if err != nil {
		return nil, fmt.Errorf("list mutations: %w", err)
	}
	defer rows.Close()

	var result []*domain.PendingMutation
	for rows.Next() {
		m, err := scanMutation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan mutation: %w", err)
		}
		result = append(result, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate mutations: %w", err)
	}
	return result, nil
}

// scanMutation scans a single row into PendingMutation.
func scanMutation(row pgx.Row) (*domain.PendingMutation, error) {
	var (
		m            domain.PendingMutation
		kind, status string
		cacheVersion int64
	)

	err := row.Scan(
		&m.ID,
		&m.ChainID,
		&kind,
		&m.TransactionRef,
		&status,
		&m.Error,
		&cacheVersion,
		&m.SubmittedAt,
		&m.ResolvedAt,
	)
	if err != nil {
		return nil, err
	}

	m.Kind = domain.MutationKind(kind)
	m.Status = domain.MutationStatus(status)
	m.CacheVersion = uint64(cacheVersion)
	return &m, nil
}
