// Package service exposes the per-chain operations behind the HTTP API and CLI.
package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"nft-market-sync/internal/domain"
	"nft-market-sync/internal/storage"
)

// Registry holds the served chains by chain id.
type Registry struct {
	mu     sync.RWMutex
	chains map[int64]*Chain
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{chains: make(map[int64]*Chain)}
}

// Register adds a chain. Registering the same chain id twice is an error.
func (r *Registry) Register(c *Chain) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := c.Scope().ChainID
	if _, exists := r.chains[id]; exists {
		return fmt.Errorf("chain %d: %w", id, storage.ErrDuplicateKey)
	}
	r.chains[id] = c
	return nil
}

// Chain returns the chain registered under id.
func (r *Registry) Chain(id int64) (*Chain, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.chains[id]
	if !ok {
		return nil, fmt.Errorf("chain %d: %w", id, ErrUnknownChain)
	}
	return c, nil
}

// Scopes returns the scopes of all registered chains ordered by chain id.
func (r *Registry) Scopes() []domain.ChainScope {
	r.mu.RLock()
	defer r.mu.RUnlock()

	scopes := make([]domain.ChainScope, 0, len(r.chains))
	for _, c := range r.chains {
		scopes = append(scopes, c.Scope())
	}
	sort.Slice(scopes, func(i, j int) bool { return scopes[i].ChainID < scopes[j].ChainID })
	return scopes
}

// Close closes and removes every chain.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var errs []error
	for id, c := range r.chains {
		if err := c.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close chain %d: %w", id, err))
		}
		delete(r.chains, id)
	}
	return errors.Join(errs...)
}

// Mutation looks a mutation up across all registered chains.
func (r *Registry) Mutation(ctx context.Context, id string) (*domain.PendingMutation, error) {
	r.mu.RLock()
	chains := make([]*Chain, 0, len(r.chains))
	for _, c := range r.chains {
		chains = append(chains, c)
	}
	r.mu.RUnlock()

	for _, c := range chains {
		m, err := c.Mutation(ctx, id)
		if err == nil {
			return m, nil
		}
		if !errors.Is(err, storage.ErrNotFound) {
			return nil, err
		}
	}
	return nil, fmt.Errorf("mutation %s: %w", id, storage.ErrNotFound)
}
