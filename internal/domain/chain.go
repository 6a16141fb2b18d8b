package domain

// ChainScope identifies the contracts a request operates on.
// It is passed explicitly into every reader, reconciler and mutation call.
type ChainScope struct {
	ChainID            int64
	TokenAddress       string
	MarketplaceAddress string
}
