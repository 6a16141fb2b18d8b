package memory

import (
	"context"
	"errors"
	"testing"

	"nft-market-sync/internal/domain"
	"nft-market-sync/internal/storage"
)

func TestRefreshRunStore_InsertAndList(t *testing.T) {
	store := NewRefreshRunStore()
	ctx := context.Background()

	runs := []*domain.RefreshRun{
		{RunID: "r1", ChainID: 1, StartedAt: 1000, Committed: true, Version: 1},
		{RunID: "r2", ChainID: 1, StartedAt: 3000, Committed: true, Version: 3, Forced: true},
		{RunID: "r3", ChainID: 1, StartedAt: 2000, Committed: false},
		{RunID: "r4", ChainID: 2, StartedAt: 4000},
	}
	for _, r := range runs {
		if err := store.Insert(ctx, r); err != nil {
			t.Fatalf("Insert %s failed: %v", r.RunID, err)
		}
	}

	result, err := store.ListByChain(ctx, 1, 2)
	if err != nil {
		t.Fatalf("ListByChain failed: %v", err)
	}
	if len(result) != 2 {
		t.Fatalf("expected 2 runs, got %d", len(result))
	}
	if result[0].RunID != "r2" || result[1].RunID != "r3" {
		t.Errorf("order mismatch: got %s, %s", result[0].RunID, result[1].RunID)
	}
}

func TestRefreshRunStore_Duplicate(t *testing.T) {
	store := NewRefreshRunStore()
	ctx := context.Background()

	if err := store.Insert(ctx, &domain.RefreshRun{RunID: "r1"}); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	err := store.Insert(ctx, &domain.RefreshRun{RunID: "r1"})
	if !errors.Is(err, storage.ErrDuplicateKey) {
		t.Errorf("expected ErrDuplicateKey, got %v", err)
	}
	if err := store.Insert(ctx, &domain.RefreshRun{}); !errors.Is(err, storage.ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput, got %v", err)
	}
}
