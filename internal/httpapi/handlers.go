package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// handleHealth reports liveness and the served chains.
// GET /health
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, map[string]interface{}{
		"status": "healthy",
		"uptime": time.Since(s.started).Round(time.Second).String(),
		"chains": len(s.registry.Scopes()),
	})
}

// GET /chains
func (s *Server) handleChains(w http.ResponseWriter, r *http.Request) {
	type chainInfo struct {
		ChainID            int64  `json:"chainId"`
		TokenAddress       string `json:"tokenAddress"`
		MarketplaceAddress string `json:"marketplaceAddress"`
	}
	scopes := s.registry.Scopes()
	chains := make([]chainInfo, 0, len(scopes))
	for _, sc := range scopes {
		chains = append(chains, chainInfo{
			ChainID:            sc.ChainID,
			TokenAddress:       sc.TokenAddress,
			MarketplaceAddress: sc.MarketplaceAddress,
		})
	}
	respondJSON(w, map[string]interface{}{
		"chains": chains,
		"count":  len(chains),
	})
}

// handleTokens returns the reconciled token set.
// GET /chains/{chainID}/tokens?force=true
func (s *Server) handleTokens(w http.ResponseWriter, r *http.Request) {
	c, ok := s.chain(w, r)
	if !ok {
		return
	}

	force := false
	if v := r.URL.Query().Get("force"); v != "" {
		parsed, err := strconv.ParseBool(v)
		if err != nil {
			respondError(w, "invalid force parameter", http.StatusBadRequest)
			return
		}
		force = parsed
	}

	entry, err := c.Tokens(r.Context(), force)
	if err != nil {
		s.logger.Warn("token query failed", zap.Int64("chain_id", c.Scope().ChainID), zap.Error(err))
		respondError(w, err.Error(), statusFor(err))
		return
	}

	respondJSON(w, map[string]interface{}{
		"chainId":   entry.ChainID,
		"version":   entry.Version,
		"timestamp": entry.Timestamp,
		"count":     len(entry.Tokens),
		"tokens":    entry.Tokens,
	})
}

// GET /chains/{chainID}/tokens/{tokenID}
func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	c, ok := s.chain(w, r)
	if !ok {
		return
	}
	id, err := strconv.ParseUint(mux.Vars(r)["tokenID"], 10, 64)
	if err != nil {
		respondError(w, "invalid token id", http.StatusBadRequest)
		return
	}

	token, err := c.Token(r.Context(), id)
	if err != nil {
		respondError(w, err.Error(), statusFor(err))
		return
	}
	respondJSON(w, map[string]interface{}{
		"token": token,
	})
}

// POST /chains/{chainID}/invalidate
func (s *Server) handleInvalidate(w http.ResponseWriter, r *http.Request) {
	c, ok := s.chain(w, r)
	if !ok {
		return
	}
	if err := c.Invalidate(r.Context()); err != nil {
		respondError(w, err.Error(), statusFor(err))
		return
	}
	respondJSON(w, map[string]interface{}{
		"chainId":     c.Scope().ChainID,
		"invalidated": true,
	})
}

// GET /chains/{chainID}/stats
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	c, ok := s.chain(w, r)
	if !ok {
		return
	}
	stats, err := c.Stats(r.Context())
	if err != nil {
		respondError(w, err.Error(), statusFor(err))
		return
	}
	respondJSON(w, stats)
}

// handleApprovals reports the marketplace's approval over an owner's tokens.
// GET /chains/{chainID}/approvals?owner=0x...&tokenId=1
func (s *Server) handleApprovals(w http.ResponseWriter, r *http.Request) {
	c, ok := s.chain(w, r)
	if !ok {
		return
	}

	owner := r.URL.Query().Get("owner")
	if !common.IsHexAddress(owner) {
		respondError(w, "owner must be a 0x address", http.StatusBadRequest)
		return
	}

	var tokenID *uint64
	if v := r.URL.Query().Get("tokenId"); v != "" {
		id, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			respondError(w, "invalid tokenId", http.StatusBadRequest)
			return
		}
		tokenID = &id
	}

	approval, err := c.Approvals(r.Context(), common.HexToAddress(owner), tokenID)
	if err != nil {
		respondError(w, err.Error(), statusFor(err))
		return
	}
	respondJSON(w, approval)
}

// GET /chains/{chainID}/runs?limit=20
func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	c, ok := s.chain(w, r)
	if !ok {
		return
	}
	limit := parseLimit(r, 20, 500)

	runs, err := c.Runs(r.Context(), limit)
	if err != nil {
		respondError(w, err.Error(), statusFor(err))
		return
	}
	respondJSON(w, map[string]interface{}{
		"runs":  runs,
		"count": len(runs),
	})
}

// parseLimit reads the limit query parameter, clamped to [1, maxLimit].
func parseLimit(r *http.Request, def, maxLimit int) int {
	v := r.URL.Query().Get("limit")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	if n > maxLimit {
		return maxLimit
	}
	return n
}
