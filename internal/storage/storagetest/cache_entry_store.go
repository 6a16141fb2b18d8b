// Package storagetest holds behaviour tests shared by every storage backend.
package storagetest

import (
	"context"
	"errors"
	"sync"
	"testing"

	"nft-market-sync/internal/domain"
	"nft-market-sync/internal/storage"
)

func sampleTokens() []domain.Token {
	listingID := uint64(4)
	listingType := domain.ListingFixedPrice
	return []domain.Token{
		{
			ID:          1,
			Owner:       "0x00000000000000000000000000000000000A11cE",
			Creator:     "0x00000000000000000000000000000000000A11cE",
			MetadataURI: "ipfs://QmYwAPJzv5CZsnA625s3Xf2nemtYgPpHdWEz79ojWnPbdG",
			Name:        "First",
			Attributes:  []domain.Attribute{{TraitType: "Color", Value: "Red"}},
			Rarity:      domain.RarityCommon,
		},
		{
			ID:              2,
			Owner:           "0x0000000000000000000000000000000000000B0B",
			Creator:         "0x0000000000000000000000000000000000000B0B",
			MetadataURI:     "https://example.com/2.json",
			Name:            "Second",
			Attributes:      []domain.Attribute{},
			Rarity:          domain.RarityRare,
			IsListed:        true,
			Price:           "1.5",
			ListingID:       &listingID,
			ListingType:     &listingType,
			SecurityWarning: "Consider using IPFS or Arweave for immutable metadata",
		},
	}
}

// RunCacheEntryStoreTests exercises the storage.CacheEntryStore contract.
// newStore must return an empty store; chain ids are not shared between subtests.
func RunCacheEntryStoreTests(t *testing.T, newStore func(t *testing.T) storage.CacheEntryStore) {
	ctx := context.Background()

	t.Run("LoadEmpty", func(t *testing.T) {
		store := newStore(t)
		entry, head, err := store.Load(ctx, 1)
		if err != nil {
			t.Fatalf("Load failed: %v", err)
		}
		if entry != nil {
			t.Errorf("expected nil entry, got %+v", entry)
		}
		if head != (domain.CacheHead{}) {
			t.Errorf("expected zero head, got %+v", head)
		}
	})

	t.Run("CommitAndLoad", func(t *testing.T) {
		store := newStore(t)
		tokens := sampleTokens()

		committed, err := store.Commit(ctx, 1337, tokens, 1700000000000, nil)
		if err != nil {
			t.Fatalf("Commit failed: %v", err)
		}
		if committed.Version != 1 {
			t.Errorf("Version mismatch: got %d, want 1", committed.Version)
		}

		entry, head, err := store.Load(ctx, 1337)
		if err != nil {
			t.Fatalf("Load failed: %v", err)
		}
		if entry == nil {
			t.Fatal("expected entry, got nil")
		}
		if entry.ChainID != 1337 || entry.Timestamp != 1700000000000 {
			t.Errorf("entry mismatch: %+v", entry)
		}
		if head != entry.Head() {
			t.Errorf("head %+v does not match entry %+v", head, entry.Head())
		}
		if len(entry.Tokens) != 2 {
			t.Fatalf("Tokens length mismatch: got %d, want 2", len(entry.Tokens))
		}
		second := entry.Tokens[1]
		if second.Price != "1.5" || !second.IsListed || second.ListingID == nil || *second.ListingID != 4 {
			t.Errorf("listing fields not preserved: %+v", second)
		}
		if second.ListingType == nil || *second.ListingType != domain.ListingFixedPrice {
			t.Errorf("listing type not preserved: %+v", second.ListingType)
		}
		if second.SecurityWarning == "" {
			t.Error("security warning not preserved")
		}
		if len(entry.Tokens[0].Attributes) != 1 || entry.Tokens[0].Attributes[0].TraitType != "Color" {
			t.Errorf("attributes not preserved: %+v", entry.Tokens[0].Attributes)
		}
		if second.Attributes == nil {
			t.Error("empty attributes must load as an empty slice")
		}
	})

	t.Run("CommitMonotonic", func(t *testing.T) {
		store := newStore(t)
		var last uint64
		for i := 0; i < 3; i++ {
			e, err := store.Commit(ctx, 5, sampleTokens(), int64(i), nil)
			if err != nil {
				t.Fatalf("Commit %d failed: %v", i, err)
			}
			if e.Version <= last {
				t.Errorf("version not increasing: %d after %d", e.Version, last)
			}
			last = e.Version
		}
	})

	t.Run("ConditionalCommitConflict", func(t *testing.T) {
		store := newStore(t)
		_, snapshot, err := store.Load(ctx, 7)
		if err != nil {
			t.Fatalf("Load failed: %v", err)
		}

		if _, err := store.Commit(ctx, 7, sampleTokens(), 1, nil); err != nil {
			t.Fatalf("Commit failed: %v", err)
		}

		_, err = store.Commit(ctx, 7, nil, 2, &snapshot)
		if !errors.Is(err, storage.ErrVersionConflict) {
			t.Fatalf("expected ErrVersionConflict, got %v", err)
		}

		entry, _, err := store.Load(ctx, 7)
		if err != nil {
			t.Fatalf("Load failed: %v", err)
		}
		if entry.Version != 1 || len(entry.Tokens) != 2 {
			t.Errorf("stale commit overwrote entry: %+v", entry)
		}
	})

	t.Run("ConditionalCommitMatches", func(t *testing.T) {
		store := newStore(t)
		if _, err := store.Commit(ctx, 8, nil, 1, nil); err != nil {
			t.Fatalf("Commit failed: %v", err)
		}
		_, head, err := store.Load(ctx, 8)
		if err != nil {
			t.Fatalf("Load failed: %v", err)
		}
		e, err := store.Commit(ctx, 8, sampleTokens(), 2, &head)
		if err != nil {
			t.Fatalf("conditional Commit failed: %v", err)
		}
		if e.Version != 2 {
			t.Errorf("Version mismatch: got %d, want 2", e.Version)
		}
	})

	t.Run("BumpEpochInvalidatesWithoutVersionChange", func(t *testing.T) {
		store := newStore(t)
		committed, err := store.Commit(ctx, 9, sampleTokens(), 1, nil)
		if err != nil {
			t.Fatalf("Commit failed: %v", err)
		}

		head, err := store.BumpEpoch(ctx, 9)
		if err != nil {
			t.Fatalf("BumpEpoch failed: %v", err)
		}
		if head.Version != committed.Version {
			t.Errorf("BumpEpoch changed version: %d -> %d", committed.Version, head.Version)
		}
		if head.Epoch != committed.Epoch+1 {
			t.Errorf("Epoch mismatch: got %d, want %d", head.Epoch, committed.Epoch+1)
		}

		entry, loadedHead, err := store.Load(ctx, 9)
		if err != nil {
			t.Fatalf("Load failed: %v", err)
		}
		if entry == nil {
			t.Fatal("entry must survive invalidation")
		}
		if entry.Head() == loadedHead {
			t.Error("entry should no longer match head")
		}

		next, err := store.Commit(ctx, 9, sampleTokens(), 2, nil)
		if err != nil {
			t.Fatalf("Commit failed: %v", err)
		}
		if next.Version != committed.Version+1 || next.Epoch != head.Epoch {
			t.Errorf("unexpected entry after invalidation: %+v", next)
		}
	})

	t.Run("BumpEpochBeforeCommit", func(t *testing.T) {
		store := newStore(t)
		head, err := store.BumpEpoch(ctx, 10)
		if err != nil {
			t.Fatalf("BumpEpoch failed: %v", err)
		}
		if head != (domain.CacheHead{Version: 0, Epoch: 1}) {
			t.Errorf("unexpected head %+v", head)
		}
		entry, _, err := store.Load(ctx, 10)
		if err != nil {
			t.Fatalf("Load failed: %v", err)
		}
		if entry != nil {
			t.Errorf("expected nil entry, got %+v", entry)
		}
	})

	t.Run("ConcurrentCommitsSerialize", func(t *testing.T) {
		store := newStore(t)
		const writers = 8

		var wg sync.WaitGroup
		versions := make(chan uint64, writers)
		for i := 0; i < writers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				e, err := store.Commit(ctx, 11, sampleTokens(), 1, nil)
				if err != nil {
					t.Errorf("Commit failed: %v", err)
					return
				}
				versions <- e.Version
			}()
		}
		wg.Wait()
		close(versions)

		seen := make(map[uint64]bool)
		for v := range versions {
			if seen[v] {
				t.Errorf("version %d committed twice", v)
			}
			seen[v] = true
		}

		_, head, err := store.Load(ctx, 11)
		if err != nil {
			t.Fatalf("Load failed: %v", err)
		}
		if head.Version != writers {
			t.Errorf("head version mismatch: got %d, want %d", head.Version, writers)
		}
	})

	t.Run("ChainsIsolated", func(t *testing.T) {
		store := newStore(t)
		if _, err := store.Commit(ctx, 100, sampleTokens(), 1, nil); err != nil {
			t.Fatalf("Commit failed: %v", err)
		}
		if _, err := store.BumpEpoch(ctx, 101); err != nil {
			t.Fatalf("BumpEpoch failed: %v", err)
		}
		entry, head, err := store.Load(ctx, 100)
		if err != nil {
			t.Fatalf("Load failed: %v", err)
		}
		if entry.Head() != head {
			t.Errorf("invalidating chain 101 affected chain 100")
		}
	})
}
