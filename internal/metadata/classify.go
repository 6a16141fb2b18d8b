package metadata

import (
	"errors"
	"fmt"
	"strings"

	"github.com/mr-tron/base58"
)

// MutableStorageWarning is attached to tokens whose metadata lives on mutable hosting.
const MutableStorageWarning = "Consider using IPFS or Arweave for immutable metadata"

// immutableMarkers identify content-addressed or permanent storage.
var immutableMarkers = []string{"ipfs://", "/ipfs/", "ar://", "arweave.net"}

// Classify returns a security warning for uri, or "" when none applies.
// Empty and data: URIs carry their content on-chain and never warn.
func Classify(uri string) string {
	if uri == "" || hasPrefixFold(uri, "data:") {
		return ""
	}
	lower := strings.ToLower(uri)
	for _, marker := range immutableMarkers {
		if strings.Contains(lower, marker) {
			return ""
		}
	}
	return MutableStorageWarning
}

// ErrInvalidCID is returned for malformed CIDv0 identifiers.
var ErrInvalidCID = errors.New("invalid CIDv0")

// ValidateCID checks CIDv0 ("Qm...") identifiers: a base58btc encoded
// sha2-256 multihash. Other CID versions are passed through unchecked.
func ValidateCID(cid string) error {
	if !strings.HasPrefix(cid, "Qm") {
		return nil
	}
	raw, err := base58.Decode(cid)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidCID, cid, err)
	}
	// 0x12 = sha2-256, 0x20 = 32 byte digest
	if len(raw) != 34 || raw[0] != 0x12 || raw[1] != 0x20 {
		return fmt.Errorf("%w: %s: not a sha2-256 multihash", ErrInvalidCID, cid)
	}
	return nil
}
