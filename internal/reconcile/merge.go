package reconcile

import (
	"context"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"nft-market-sync/internal/domain"
	"nft-market-sync/internal/metadata"
)

// Resolver resolves metadata URIs. It returns nil when a URI cannot be resolved.
type Resolver interface {
	Resolve(ctx context.Context, uri string) *metadata.Metadata
}

// BuildToken assembles the merged record for one token. listing is nil when
// the token has no active listing.
func BuildToken(raw domain.RawToken, md *metadata.Metadata, listing *domain.Listing) domain.Token {
	attrs := md.Attributes
	if attrs == nil {
		attrs = []domain.Attribute{}
	}

	t := domain.Token{
		ID:              raw.ID,
		Owner:           raw.Owner,
		Creator:         raw.Owner,
		MetadataURI:     raw.URI,
		Name:            md.Name,
		Description:     md.Description,
		Image:           md.Image,
		Attributes:      attrs,
		Rarity:          ComputeRarity(raw.ID, len(attrs)),
		SecurityWarning: metadata.Classify(raw.URI),
	}

	if listing != nil {
		listingID := listing.ListingID
		listingType := listing.Type
		t.IsListed = true
		t.Price = listing.Price
		t.ListingID = &listingID
		t.ListingType = &listingType
	}
	return t
}

// Merge resolves metadata for every raw token with at most concurrency
// resolutions in flight and joins the result with the active listings.
// Tokens whose metadata does not resolve are dropped; the second return value
// holds their ids. The result is sorted by ascending id.
func Merge(ctx context.Context, raw []domain.RawToken, listings map[uint64]domain.Listing, resolver Resolver, concurrency int) ([]domain.Token, []uint64) {
	if concurrency <= 0 {
		concurrency = 16
	}

	var (
		mu      sync.Mutex
		tokens  = make([]domain.Token, 0, len(raw))
		dropped []uint64
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	for _, rt := range raw {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			md := resolver.Resolve(gctx, rt.URI)

			mu.Lock()
			defer mu.Unlock()
			if md == nil {
				dropped = append(dropped, rt.ID)
				return nil
			}
			var lp *domain.Listing
			if l, ok := listings[rt.ID]; ok {
				lp = &l
			}
			tokens = append(tokens, BuildToken(rt, md, lp))
			return nil
		})
	}
	_ = g.Wait()

	sort.Slice(tokens, func(i, j int) bool { return tokens[i].ID < tokens[j].ID })
	sort.Slice(dropped, func(i, j int) bool { return dropped[i] < dropped[j] })
	return tokens, dropped
}
