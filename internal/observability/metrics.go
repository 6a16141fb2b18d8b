// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	// Refresh pipeline metrics
	RefreshRunsTotal   *prometheus.CounterVec
	RefreshDuration    *prometheus.HistogramVec
	TokensReturned     *prometheus.GaugeVec
	TokensDropped      *prometheus.CounterVec
	ListingsExcluded   *prometheus.CounterVec
	ListingConflicts   *prometheus.CounterVec
	ListingRegressions *prometheus.CounterVec
	MetadataFetches    *prometheus.CounterVec

	// Cache metrics
	CacheLookups   *prometheus.CounterVec
	CacheConflicts *prometheus.CounterVec
	CacheVersion   *prometheus.GaugeVec

	// Chain metrics
	RPCCallLatency *prometheus.HistogramVec
	RPCCallErrors  *prometheus.CounterVec
	WatcherEvents  *prometheus.CounterVec

	// Mutation metrics
	MutationsTotal  *prometheus.CounterVec
	MutationLatency *prometheus.HistogramVec

	// Database metrics
	DBQueryDuration *prometheus.HistogramVec
	DBQueryErrors   *prometheus.CounterVec

	// Health metrics
	LastSuccessfulRefresh *prometheus.GaugeVec
}

// NewMetrics creates a new Metrics instance with all metrics registered.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "nft_market_sync"
	}

	return &Metrics{
		// Refresh pipeline metrics
		RefreshRunsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "refresh",
			Name:      "runs_total",
			Help:      "Total number of reconciliation runs by mode and outcome",
		}, []string{"chain_id", "mode", "outcome"}),
		RefreshDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "refresh",
			Name:      "duration_seconds",
			Help:      "Reconciliation run duration in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		}, []string{"chain_id", "mode"}),
		TokensReturned: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "refresh",
			Name:      "tokens",
			Help:      "Number of tokens in the last committed token set",
		}, []string{"chain_id"}),
		TokensDropped: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "refresh",
			Name:      "tokens_dropped_total",
			Help:      "Total number of token ids excluded from a run by reason",
		}, []string{"chain_id", "reason"}),
		ListingsExcluded: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "refresh",
			Name:      "listings_excluded_total",
			Help:      "Total number of listing reads that failed and were excluded",
		}, []string{"chain_id"}),
		ListingConflicts: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "refresh",
			Name:      "listing_conflicts_total",
			Help:      "Total number of tokens referenced by more than one active listing",
		}, []string{"chain_id"}),
		ListingRegressions: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "refresh",
			Name:      "listing_regressions_total",
			Help:      "Total number of listings whose status moved backwards between runs",
		}, []string{"chain_id"}),
		MetadataFetches: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "metadata",
			Name:      "resolutions_total",
			Help:      "Total number of metadata resolutions by outcome",
		}, []string{"outcome"}),

		// Cache metrics
		CacheLookups: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "lookups_total",
			Help:      "Total number of cache lookups by result",
		}, []string{"chain_id", "result"}),
		CacheConflicts: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "version_conflicts_total",
			Help:      "Total number of stale refreshes discarded on commit",
		}, []string{"chain_id"}),
		CacheVersion: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "version",
			Help:      "Latest committed cache version",
		}, []string{"chain_id"}),

		// Chain metrics
		RPCCallLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "evm",
			Name:      "rpc_call_latency_seconds",
			Help:      "EVM JSON-RPC call latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),
		RPCCallErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "evm",
			Name:      "rpc_call_errors_total",
			Help:      "Total number of failed EVM JSON-RPC calls",
		}, []string{"method"}),
		WatcherEvents: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "watcher",
			Name:      "events_total",
			Help:      "Total number of contract logs received",
		}, []string{"chain_id", "contract"}),

		// Mutation metrics
		MutationsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "mutation",
			Name:      "total",
			Help:      "Total number of mutations by kind and final status",
		}, []string{"kind", "status"}),
		MutationLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "mutation",
			Name:      "confirmation_seconds",
			Help:      "Time from submission to a terminal status",
			Buckets:   []float64{1, 2, 5, 10, 15, 30, 60, 120, 300},
		}, []string{"kind"}),

		// Database metrics
		DBQueryDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_duration_seconds",
			Help:      "Database query duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"database", "operation"}),
		DBQueryErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_errors_total",
			Help:      "Total number of database query errors",
		}, []string{"database", "operation"}),

		// Health metrics
		LastSuccessfulRefresh: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "last_successful_refresh_timestamp",
			Help:      "Unix timestamp of the last committed refresh",
		}, []string{"chain_id"}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// DefaultMetrics is the default metrics instance.
var DefaultMetrics = NewMetrics("")

func chainLabel(chainID int64) string {
	return strconv.FormatInt(chainID, 10)
}

// RecordRefreshRun records a finished reconciliation run.
// mode is "lazy" or "forced"; outcome is "committed", "conflict" or "failed".
func RecordRefreshRun(chainID int64, mode, outcome string, d time.Duration) {
	label := chainLabel(chainID)
	DefaultMetrics.RefreshRunsTotal.WithLabelValues(label, mode, outcome).Inc()
	DefaultMetrics.RefreshDuration.WithLabelValues(label, mode).Observe(d.Seconds())
}

// RecordCommit records a committed cache entry.
func RecordCommit(chainID int64, version uint64, tokens int) {
	label := chainLabel(chainID)
	DefaultMetrics.CacheVersion.WithLabelValues(label).Set(float64(version))
	DefaultMetrics.TokensReturned.WithLabelValues(label).Set(float64(tokens))
	DefaultMetrics.LastSuccessfulRefresh.WithLabelValues(label).SetToCurrentTime()
}

// RecordTokenDropped records a token id excluded from a run.
// reason is "nonexistent", "transient" or "metadata".
func RecordTokenDropped(chainID int64, reason string) {
	DefaultMetrics.TokensDropped.WithLabelValues(chainLabel(chainID), reason).Inc()
}

// RecordListingExcluded records a listing read that failed.
func RecordListingExcluded(chainID int64) {
	DefaultMetrics.ListingsExcluded.WithLabelValues(chainLabel(chainID)).Inc()
}

// RecordListingConflict records two active listings for one token.
func RecordListingConflict(chainID int64) {
	DefaultMetrics.ListingConflicts.WithLabelValues(chainLabel(chainID)).Inc()
}

// RecordListingRegression records a listing status that moved backwards.
func RecordListingRegression(chainID int64) {
	DefaultMetrics.ListingRegressions.WithLabelValues(chainLabel(chainID)).Inc()
}

// RecordMetadataFetch records a metadata resolution outcome ("ok" or "failed").
func RecordMetadataFetch(outcome string) {
	DefaultMetrics.MetadataFetches.WithLabelValues(outcome).Inc()
}

// RecordCacheLookup records a cache lookup ("hit", "miss" or "error").
func RecordCacheLookup(chainID int64, result string) {
	DefaultMetrics.CacheLookups.WithLabelValues(chainLabel(chainID), result).Inc()
}

// RecordCacheConflict records a stale commit that was discarded.
func RecordCacheConflict(chainID int64) {
	DefaultMetrics.CacheConflicts.WithLabelValues(chainLabel(chainID)).Inc()
}

// RecordRPCCall records RPC call latency and failures.
func RecordRPCCall(method string, d time.Duration, err error) {
	DefaultMetrics.RPCCallLatency.WithLabelValues(method).Observe(d.Seconds())
	if err != nil {
		DefaultMetrics.RPCCallErrors.WithLabelValues(method).Inc()
	}
}

// RecordWatcherEvent records a contract log received by the watcher.
func RecordWatcherEvent(chainID int64, contract string) {
	DefaultMetrics.WatcherEvents.WithLabelValues(chainLabel(chainID), contract).Inc()
}

// RecordMutation records a mutation reaching a terminal status.
func RecordMutation(kind, status string, d time.Duration) {
	DefaultMetrics.MutationsTotal.WithLabelValues(kind, status).Inc()
	DefaultMetrics.MutationLatency.WithLabelValues(kind).Observe(d.Seconds())
}

// RecordDBQuery records database query metrics.
func RecordDBQuery(database, operation string, d time.Duration, err error) {
	DefaultMetrics.DBQueryDuration.WithLabelValues(database, operation).Observe(d.Seconds())
	if err != nil {
		DefaultMetrics.DBQueryErrors.WithLabelValues(database, operation).Inc()
	}
}
