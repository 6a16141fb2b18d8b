package domain

import "fmt"

// ListingType is the sale mechanism of a listing. Values match the marketplace contract enum.
type ListingType uint8

const (
	ListingFixedPrice ListingType = 0
	ListingAuction    ListingType = 1
)

// String returns the string representation of ListingType.
func (t ListingType) String() string {
	switch t {
	case ListingFixedPrice:
		return "FixedPrice"
	case ListingAuction:
		return "Auction"
	}
	return fmt.Sprintf("ListingType(%d)", uint8(t))
}

// IsValid checks if the listing type is a valid value.
func (t ListingType) IsValid() bool {
	return t == ListingFixedPrice || t == ListingAuction
}

// MarshalText encodes the type by name.
func (t ListingType) MarshalText() ([]byte, error) {
	if !t.IsValid() {
		return nil, fmt.Errorf("invalid listing type %d", uint8(t))
	}
	return []byte(t.String()), nil
}

// UnmarshalText decodes a type name.
func (t *ListingType) UnmarshalText(b []byte) error {
	switch string(b) {
	case "FixedPrice":
		*t = ListingFixedPrice
	case "Auction":
		*t = ListingAuction
	default:
		return fmt.Errorf("unknown listing type %q", string(b))
	}
	return nil
}

// ListingStatus is the lifecycle state of a listing. Values match the marketplace contract enum.
type ListingStatus uint8

const (
	ListingActive    ListingStatus = 0
	ListingSold      ListingStatus = 1
	ListingCancelled ListingStatus = 2
	ListingEnded     ListingStatus = 3
)

// String returns the string representation of ListingStatus.
func (s ListingStatus) String() string {
	switch s {
	case ListingActive:
		return "Active"
	case ListingSold:
		return "Sold"
	case ListingCancelled:
		return "Cancelled"
	case ListingEnded:
		return "Ended"
	}
	return fmt.Sprintf("ListingStatus(%d)", uint8(s))
}

// IsValid checks if the status is a valid value.
func (s ListingStatus) IsValid() bool {
	return s <= ListingEnded
}

// CanTransition reports whether a listing may move from s to next.
// Statuses are monotonic: once a listing leaves Active it never returns.
func (s ListingStatus) CanTransition(next ListingStatus) bool {
	if !s.IsValid() || !next.IsValid() {
		return false
	}
	if s == next {
		return true
	}
	return s == ListingActive
}

// MarshalText encodes the status by name.
func (s ListingStatus) MarshalText() ([]byte, error) {
	if !s.IsValid() {
		return nil, fmt.Errorf("invalid listing status %d", uint8(s))
	}
	return []byte(s.String()), nil
}

// Listing is a marketplace record offering a token for sale or auction.
type Listing struct {
	ListingID     uint64        `json:"listingId"`
	TokenID       uint64        `json:"tokenId"`
	Seller        string        `json:"seller"`
	Price         string        `json:"price"` // ether decimal string
	Type          ListingType   `json:"type"`
	Status        ListingStatus `json:"status"`
	HighestBid    string        `json:"highestBid"`
	HighestBidder string        `json:"highestBidder"`
	EndTime       int64         `json:"endTime"` // unix seconds, zero for fixed price
}

// MarketplaceStats is the aggregate state reported by the marketplace contract.
type MarketplaceStats struct {
	TotalListings  uint64 `json:"totalListings"`
	ActiveListings uint64 `json:"activeListings"`
	TotalSales     uint64 `json:"totalSales"`
	TotalVolume    string `json:"totalVolume"` // ether decimal string
}
