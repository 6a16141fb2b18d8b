// Package httpapi serves the per-chain token, marketplace and mutation
// operations over HTTP.
package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"nft-market-sync/internal/observability"
	"nft-market-sync/internal/service"
	"nft-market-sync/internal/storage"
)

// Server routes HTTP requests to the registered chains.
type Server struct {
	registry *service.Registry
	logger   *zap.Logger
	started  time.Time
}

// NewServer creates a Server over registry.
func NewServer(registry *service.Registry, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		registry: registry,
		logger:   logger,
		started:  time.Now(),
	}
}

// Handler returns the router with every route registered.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.Handle("/metrics", observability.Handler()).Methods(http.MethodGet)

	r.HandleFunc("/chains", s.handleChains).Methods(http.MethodGet)
	c := r.PathPrefix("/chains/{chainID:[0-9]+}").Subrouter()
	c.HandleFunc("/tokens", s.handleTokens).Methods(http.MethodGet)
	c.HandleFunc("/tokens/{tokenID:[0-9]+}", s.handleToken).Methods(http.MethodGet)
	c.HandleFunc("/invalidate", s.handleInvalidate).Methods(http.MethodPost)
	c.HandleFunc("/stats", s.handleStats).Methods(http.MethodGet)
	c.HandleFunc("/approvals", s.handleApprovals).Methods(http.MethodGet)
	c.HandleFunc("/runs", s.handleRuns).Methods(http.MethodGet)
	c.HandleFunc("/mutations", s.handleSubmit).Methods(http.MethodPost)
	c.HandleFunc("/mutations", s.handleMutations).Methods(http.MethodGet)

	r.HandleFunc("/mutations/{id}", s.handleMutation).Methods(http.MethodGet)

	r.Use(s.logRequests)
	return r
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.Duration("duration", time.Since(started)))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// chain resolves the {chainID} path variable, writing the error response on failure.
func (s *Server) chain(w http.ResponseWriter, r *http.Request) (*service.Chain, bool) {
	id, err := strconv.ParseInt(mux.Vars(r)["chainID"], 10, 64)
	if err != nil {
		respondError(w, "invalid chain id", http.StatusBadRequest)
		return nil, false
	}
	c, err := s.registry.Chain(id)
	if err != nil {
		respondError(w, err.Error(), http.StatusNotFound)
		return nil, false
	}
	return c, true
}

// statusFor maps service and storage errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, service.ErrUnknownChain),
		errors.Is(err, service.ErrTokenNotFound),
		errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrReadOnly):
		return http.StatusForbidden
	case errors.Is(err, storage.ErrInvalidInput):
		return http.StatusBadRequest
	default:
		return http.StatusBadGateway
	}
}

func respondJSON(w http.ResponseWriter, data interface{}) {
	respondStatus(w, http.StatusOK, data)
}

func respondStatus(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, message string, statusCode int) {
	respondStatus(w, statusCode, map[string]interface{}{
		"error": message,
	})
}
