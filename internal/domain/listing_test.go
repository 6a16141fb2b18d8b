package domain

import (
	"encoding/json"
	"testing"
)

func TestListingStatus_CanTransition(t *testing.T) {
	tests := []struct {
		from, to ListingStatus
		want     bool
	}{
		{ListingActive, ListingSold, true},
		{ListingActive, ListingCancelled, true},
		{ListingActive, ListingEnded, true},
		{ListingActive, ListingActive, true},
		{ListingSold, ListingActive, false},
		{ListingCancelled, ListingActive, false},
		{ListingEnded, ListingActive, false},
		{ListingSold, ListingCancelled, false},
		{ListingStatus(9), ListingSold, false},
	}

	for _, tc := range tests {
		if got := tc.from.CanTransition(tc.to); got != tc.want {
			t.Errorf("%s -> %s: got %v, want %v", tc.from, tc.to, got, tc.want)
		}
	}
}

func TestListing_JSONUsesNames(t *testing.T) {
	l := Listing{ListingID: 4, TokenID: 7, Type: ListingAuction, Status: ListingSold}

	data, err := json.Marshal(l)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if raw["type"] != "Auction" {
		t.Errorf("type: got %v, want Auction", raw["type"])
	}
	if raw["status"] != "Sold" {
		t.Errorf("status: got %v, want Sold", raw["status"])
	}
}

func TestMutationKind_IsValid(t *testing.T) {
	for _, k := range []MutationKind{MutationMint, MutationList, MutationBuy, MutationBid, MutationEndAuction, MutationApprove} {
		if !k.IsValid() {
			t.Errorf("%s should be valid", k)
		}
	}
	if MutationKind("Burn").IsValid() {
		t.Error("Burn should not be valid")
	}
	if MutationPending.IsTerminal() {
		t.Error("Pending must not be terminal")
	}
}
