package memory

import (
	"context"
	"errors"
	"testing"

	"nft-market-sync/internal/domain"
	"nft-market-sync/internal/storage"
)

func TestMutationStore_Lifecycle(t *testing.T) {
	store := NewMutationStore()
	ctx := context.Background()

	m := &domain.PendingMutation{
		ID:          "m1",
		ChainID:     1337,
		Kind:        domain.MutationBuy,
		Status:      domain.MutationPending,
		SubmittedAt: 1000,
	}
	if err := store.Insert(ctx, m); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	if err := store.Insert(ctx, m); !errors.Is(err, storage.ErrDuplicateKey) {
		t.Errorf("expected ErrDuplicateKey, got %v", err)
	}

	confirmed := *m
	confirmed.Status = domain.MutationConfirmed
	confirmed.CacheVersion = 2
	if err := store.Update(ctx, &confirmed); err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	got, err := store.GetByID(ctx, "m1")
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if got.Status != domain.MutationConfirmed || got.CacheVersion != 2 {
		t.Errorf("unexpected mutation %+v", got)
	}

	reverted := confirmed
	reverted.Status = domain.MutationReverted
	if err := store.Update(ctx, &reverted); !errors.Is(err, storage.ErrInvalidInput) {
		t.Errorf("terminal mutation must not change, got %v", err)
	}
}

func TestMutationStore_NotFound(t *testing.T) {
	store := NewMutationStore()
	ctx := context.Background()

	if _, err := store.GetByID(ctx, "missing"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	err := store.Update(ctx, &domain.PendingMutation{ID: "missing", Kind: domain.MutationMint})
	if !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if err := store.Insert(ctx, &domain.PendingMutation{ID: "x", Kind: "Transfer"}); !errors.Is(err, storage.ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput, got %v", err)
	}
}

func TestMutationStore_ListByChain(t *testing.T) {
	store := NewMutationStore()
	ctx := context.Background()

	for _, m := range []*domain.PendingMutation{
		{ID: "b", ChainID: 1, Kind: domain.MutationMint, SubmittedAt: 20},
		{ID: "a", ChainID: 1, Kind: domain.MutationApprove, SubmittedAt: 10},
		{ID: "c", ChainID: 2, Kind: domain.MutationList, SubmittedAt: 5},
	} {
		if err := store.Insert(ctx, m); err != nil {
			t.Fatalf("Insert failed: %v", err)
		}
	}

	result, err := store.ListByChain(ctx, 1)
	if err != nil {
		t.Fatalf("ListByChain failed: %v", err)
	}
	if len(result) != 2 || result[0].ID != "a" || result[1].ID != "b" {
		t.Errorf("unexpected order: %+v", result)
	}
}
