package postgres_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nft-market-sync/internal/domain"
	"nft-market-sync/internal/storage"
	pgstore "nft-market-sync/internal/storage/postgres"
)

func TestMutationStore_InsertAndGet(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := pgstore.NewMutationStore(pool)

	m := &domain.PendingMutation{
		ID:          "mut-1",
		ChainID:     1,
		Kind:        domain.MutationBuy,
		Status:      domain.MutationPending,
		SubmittedAt: 1700000000000,
	}
	require.NoError(t, store.Insert(ctx, m))

	got, err := store.GetByID(ctx, "mut-1")
	require.NoError(t, err)
	assert.Equal(t, m, got)

	assert.ErrorIs(t, store.Insert(ctx, m), storage.ErrDuplicateKey)

	_, err = store.GetByID(ctx, "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestMutationStore_Update(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := pgstore.NewMutationStore(pool)

	m := &domain.PendingMutation{ID: "mut-2", ChainID: 1, Kind: domain.MutationMint, Status: domain.MutationPending, SubmittedAt: 10}
	require.NoError(t, store.Insert(ctx, m))

	m.TransactionRef = "0xabc"
	m.Status = domain.MutationConfirmed
	m.CacheVersion = 4
	m.ResolvedAt = 20
	require.NoError(t, store.Update(ctx, m))

	got, err := store.GetByID(ctx, "mut-2")
	require.NoError(t, err)
	assert.Equal(t, domain.MutationConfirmed, got.Status)
	assert.Equal(t, uint64(4), got.CacheVersion)
	assert.Equal(t, "0xabc", got.TransactionRef)

	// Terminal mutations cannot change.
	m.Status = domain.MutationReverted
	assert.ErrorIs(t, store.Update(ctx, m), storage.ErrInvalidInput)

	missing := &domain.PendingMutation{ID: "nope", Status: domain.MutationConfirmed}
	assert.ErrorIs(t, store.Update(ctx, missing), storage.ErrNotFound)
}

func TestMutationStore_ListByChain(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := pgstore.NewMutationStore(pool)

	for _, m := range []*domain.PendingMutation{
		{ID: "c", ChainID: 1, Kind: domain.MutationBid, Status: domain.MutationPending, SubmittedAt: 30},
		{ID: "a", ChainID: 1, Kind: domain.MutationList, Status: domain.MutationPending, SubmittedAt: 10},
		{ID: "b", ChainID: 2, Kind: domain.MutationList, Status: domain.MutationPending, SubmittedAt: 20},
	} {
		require.NoError(t, store.Insert(ctx, m))
	}

	got, err := store.ListByChain(ctx, 1)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].ID)
	assert.Equal(t, "c", got[1].ID)
}

func TestMutationStore_InsertInvalid(t *testing.T) {
	store := pgstore.NewMutationStore(nil)
	err := store.Insert(context.Background(), &domain.PendingMutation{ID: "x", Kind: "Transfer"})
	assert.ErrorIs(t, err, storage.ErrInvalidInput)
}
