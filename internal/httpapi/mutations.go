package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"nft-market-sync/internal/contracts"
	"nft-market-sync/internal/domain"
	"nft-market-sync/internal/mutation"
)

// maxBodyBytes bounds mutation request bodies.
const maxBodyBytes = 64 << 10

// mutationRequest is the body of POST /chains/{chainID}/mutations.
// Amounts are ether decimal strings.
type mutationRequest struct {
	Kind domain.MutationKind `json:"kind"`

	// Mint
	To         string `json:"to,omitempty"`
	URI        string `json:"uri,omitempty"`
	RoyaltyBps uint16 `json:"royaltyBps,omitempty"`
	Public     bool   `json:"public,omitempty"`

	// List
	TokenID     *uint64            `json:"tokenId,omitempty"`
	Price       string             `json:"price,omitempty"`
	ListingType domain.ListingType `json:"listingType,omitempty"`
	Duration    uint64             `json:"duration,omitempty"`

	// Buy, Bid, EndAuction
	ListingID *uint64 `json:"listingId,omitempty"`
	Value     string  `json:"value,omitempty"`

	// Approve
	Operator string `json:"operator,omitempty"`
	All      bool   `json:"all,omitempty"`
	Approved *bool  `json:"approved,omitempty"`
}

func optionalEther(field, s string) (*big.Int, error) {
	if s == "" {
		return nil, nil
	}
	wei, err := contracts.ParseEther(s)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", field, err)
	}
	return wei, nil
}

func optionalAddress(field, s string) (common.Address, error) {
	if s == "" {
		return common.Address{}, nil
	}
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("%s must be a 0x address", field)
	}
	return common.HexToAddress(s), nil
}

func requireID(field string, id *uint64) (uint64, error) {
	if id == nil {
		return 0, fmt.Errorf("%s is required", field)
	}
	return *id, nil
}

// args converts the request into typed mutation arguments. Semantic checks
// are left to the mutation package.
func (req mutationRequest) args() (mutation.Args, error) {
	value, err := optionalEther("value", req.Value)
	if err != nil {
		return nil, err
	}

	switch req.Kind {
	case domain.MutationMint:
		to, err := optionalAddress("to", req.To)
		if err != nil {
			return nil, err
		}
		return mutation.MintArgs{To: to, URI: req.URI, RoyaltyBps: req.RoyaltyBps, Public: req.Public, Value: value}, nil

	case domain.MutationList:
		id, err := requireID("tokenId", req.TokenID)
		if err != nil {
			return nil, err
		}
		price, err := optionalEther("price", req.Price)
		if err != nil {
			return nil, err
		}
		return mutation.ListArgs{TokenID: id, PriceWei: price, ListingType: req.ListingType, Duration: req.Duration}, nil

	case domain.MutationBuy, domain.MutationBid, domain.MutationEndAuction:
		id, err := requireID("listingId", req.ListingID)
		if err != nil {
			return nil, err
		}
		switch req.Kind {
		case domain.MutationBuy:
			return mutation.BuyArgs{ListingID: id, Value: value}, nil
		case domain.MutationBid:
			return mutation.BidArgs{ListingID: id, Value: value}, nil
		default:
			return mutation.EndAuctionArgs{ListingID: id}, nil
		}

	case domain.MutationApprove:
		operator, err := optionalAddress("operator", req.Operator)
		if err != nil {
			return nil, err
		}
		approved := true
		if req.Approved != nil {
			approved = *req.Approved
		}
		return mutation.ApproveArgs{Operator: operator, TokenID: req.TokenID, All: req.All, Approved: approved}, nil
	}

	return nil, fmt.Errorf("unknown mutation kind %q", req.Kind)
}

// handleSubmit sends a mutation and waits for its outcome.
// POST /chains/{chainID}/mutations
//
// 200 confirmed, 202 still pending after the confirmation timeout,
// 422 reverted. Reverted and pending responses carry the mutation record.
func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	c, ok := s.chain(w, r)
	if !ok {
		return
	}

	var req mutationRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		respondError(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}

	args, err := req.args()
	if err != nil {
		respondError(w, err.Error(), http.StatusBadRequest)
		return
	}

	m, err := c.Submit(r.Context(), args)

	var revertErr *mutation.TransactionRevertError
	switch {
	case err == nil:
		respondJSON(w, map[string]interface{}{"mutation": m})
	case errors.Is(err, mutation.ErrInvalidArgs):
		respondError(w, err.Error(), http.StatusBadRequest)
	case errors.As(err, &revertErr):
		respondStatus(w, http.StatusUnprocessableEntity, map[string]interface{}{
			"error":    err.Error(),
			"reason":   revertErr.Reason,
			"mutation": m,
		})
	case m != nil && m.Status == domain.MutationPending:
		respondStatus(w, http.StatusAccepted, map[string]interface{}{
			"error":    err.Error(),
			"mutation": m,
		})
	default:
		s.logger.Warn("mutation failed",
			zap.Int64("chain_id", c.Scope().ChainID),
			zap.String("kind", string(req.Kind)),
			zap.Error(err))
		body := map[string]interface{}{"error": err.Error()}
		if m != nil {
			body["mutation"] = m
		}
		respondStatus(w, statusFor(err), body)
	}
}

// GET /chains/{chainID}/mutations
func (s *Server) handleMutations(w http.ResponseWriter, r *http.Request) {
	c, ok := s.chain(w, r)
	if !ok {
		return
	}
	list, err := c.Mutations(r.Context())
	if err != nil {
		respondError(w, err.Error(), statusFor(err))
		return
	}
	respondJSON(w, map[string]interface{}{
		"mutations": list,
		"count":     len(list),
	})
}

// GET /mutations/{id}
func (s *Server) handleMutation(w http.ResponseWriter, r *http.Request) {
	m, err := s.registry.Mutation(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		respondError(w, err.Error(), statusFor(err))
		return
	}
	respondJSON(w, map[string]interface{}{"mutation": m})
}
