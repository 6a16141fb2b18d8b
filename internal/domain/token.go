package domain

// Attribute is one trait of a token's metadata.
type Attribute struct {
	TraitType string `json:"trait_type"`
	Value     any    `json:"value"`
}

// RawToken is a token as enumerated from the token contract, before metadata resolution.
type RawToken struct {
	ID    uint64 // contract-assigned, may have gaps due to burns
	Owner string // checksummed 0x address
	URI   string // tokenURI(id) as returned by the contract
}

// Token is a reconciled token record: chain state, resolved metadata and listing data.
type Token struct {
	ID              uint64       `json:"id"`
	Owner           string       `json:"owner"`
	Creator         string       `json:"creator"` // assumed equal to first owner
	MetadataURI     string       `json:"metadataUri"`
	Name            string       `json:"name"`
	Description     string       `json:"description"`
	Image           string       `json:"image"`
	Attributes      []Attribute  `json:"attributes"` // never nil
	Rarity          Rarity       `json:"rarity"`
	SecurityWarning string       `json:"securityWarning,omitempty"`
	IsListed        bool         `json:"isListed"`
	Price           string       `json:"price,omitempty"` // ether decimal string
	ListingID       *uint64      `json:"listingId,omitempty"`
	ListingType     *ListingType `json:"listingType,omitempty"`
}

// Rarity is the derived rarity tier of a token.
type Rarity string

const (
	RarityCommon    Rarity = "Common"
	RarityRare      Rarity = "Rare"
	RarityEpic      Rarity = "Epic"
	RarityLegendary Rarity = "Legendary"
)

// String returns the string representation of Rarity.
func (r Rarity) String() string {
	return string(r)
}

// IsValid checks if the rarity is a valid value.
func (r Rarity) IsValid() bool {
	switch r {
	case RarityCommon, RarityRare, RarityEpic, RarityLegendary:
		return true
	}
	return false
}
