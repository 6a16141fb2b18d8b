package domain

// RefreshRun records one execution of the reconciliation pipeline.
type RefreshRun struct {
	RunID            string
	ChainID          int64
	Version          uint64 // committed version, zero if the commit was discarded
	Forced           bool
	Committed        bool
	Supply           uint64
	TokensEnumerated int
	TokensDropped    int // enumerated but metadata did not resolve
	TokensReturned   int
	ActiveListings   int
	StartedAt        int64 // unix ms
	DurationMs       int64
}
