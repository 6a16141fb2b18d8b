package domain

// MutationKind is the type of state-changing contract call.
type MutationKind string

const (
	MutationMint       MutationKind = "Mint"
	MutationList       MutationKind = "List"
	MutationBuy        MutationKind = "Buy"
	MutationBid        MutationKind = "Bid"
	MutationEndAuction MutationKind = "EndAuction"
	MutationApprove    MutationKind = "Approve"
)

// String returns the string representation of MutationKind.
func (k MutationKind) String() string {
	return string(k)
}

// IsValid checks if the kind is a valid value.
func (k MutationKind) IsValid() bool {
	switch k {
	case MutationMint, MutationList, MutationBuy, MutationBid, MutationEndAuction, MutationApprove:
		return true
	}
	return false
}

// MutationStatus is the lifecycle state of a submitted mutation.
type MutationStatus string

const (
	MutationPending   MutationStatus = "Pending"
	MutationConfirmed MutationStatus = "Confirmed"
	MutationReverted  MutationStatus = "Reverted"
)

// IsTerminal reports whether the status can no longer change.
func (s MutationStatus) IsTerminal() bool {
	return s == MutationConfirmed || s == MutationReverted
}

// PendingMutation tracks one write from submission to confirmation or revert.
type PendingMutation struct {
	ID             string         `json:"id"`
	ChainID        int64          `json:"chainId"`
	Kind           MutationKind   `json:"kind"`
	TransactionRef string         `json:"transactionRef,omitempty"` // tx hash
	Status         MutationStatus `json:"status"`
	Error          string         `json:"error,omitempty"`
	CacheVersion   uint64         `json:"cacheVersion,omitempty"` // version committed by the forced refresh
	SubmittedAt    int64          `json:"submittedAt"`            // unix ms
	ResolvedAt     int64          `json:"resolvedAt,omitempty"`   // unix ms
}
