package domain

// CacheHead is the latest committed version and invalidation epoch of a chain's cache.
// An entry is current only while both match the head.
type CacheHead struct {
	Version uint64 `json:"version"`
	Epoch   uint64 `json:"epoch"`
}

// CacheEntry is a reconciled token set committed for one chain.
type CacheEntry struct {
	ChainID   int64   `json:"chainId"`
	Tokens    []Token `json:"tokens"`
	Version   uint64  `json:"version"`
	Epoch     uint64  `json:"epoch"`
	Timestamp int64   `json:"timestamp"` // unix ms
}

// Head returns the version/epoch pair the entry was written under.
func (e *CacheEntry) Head() CacheHead {
	return CacheHead{Version: e.Version, Epoch: e.Epoch}
}
