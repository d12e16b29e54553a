package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RPCCallsTotal tracks RPC calls per chain and endpoint
	RPCCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "apex_rpc_calls_total",
			Help: "Total number of RPC calls",
		},
		[]string{"chain", "endpoint", "method"},
	)

	// RPCErrorsTotal tracks RPC errors per chain and endpoint
	RPCErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "apex_rpc_errors_total",
			Help: "Total number of RPC errors",
		},
		[]string{"chain", "endpoint", "error_type"},
	)

	// RPCLatency tracks RPC call latency
	RPCLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "apex_rpc_latency_seconds",
			Help:    "RPC call latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"chain", "endpoint", "method"},
	)

	// PoolEndpointState tracks the state of each pooled endpoint
	// (0 = healthy, 1 = degraded, 2 = dead)
	PoolEndpointState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "apex_pool_endpoint_state",
			Help: "Endpoint state: 0 healthy, 1 degraded, 2 dead",
		},
		[]string{"chain", "endpoint"},
	)

	// CacheHits tracks cache hits per entry kind
	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "apex_cache_hits_total",
			Help: "Total number of cache hits",
		},
		[]string{"kind"},
	)

	// CacheMisses tracks cache misses per entry kind
	CacheMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "apex_cache_misses_total",
			Help: "Total number of cache misses",
		},
		[]string{"kind"},
	)

	// CacheEvictions tracks cache evictions
	CacheEvictions = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "apex_cache_evictions_total",
			Help: "Total number of cache evictions",
		},
	)

	// CacheSize tracks the current number of cached entries
	CacheSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "apex_cache_size",
			Help: "Current number of cached entries",
		},
	)

	// TxSubmitted tracks transactions submitted per chain
	TxSubmitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "apex_tx_submitted_total",
			Help: "Total number of transactions submitted",
		},
		[]string{"chain"},
	)

	// TxConfirmed tracks transactions confirmed per chain
	TxConfirmed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "apex_tx_confirmed_total",
			Help: "Total number of transactions confirmed",
		},
		[]string{"chain"},
	)

	// TxFailed tracks transactions that failed per chain
	TxFailed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "apex_tx_failed_total",
			Help: "Total number of transactions that failed",
		},
		[]string{"chain"},
	)

	// NonceConflicts tracks nonce conflicts detected on submission
	NonceConflicts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "apex_nonce_conflicts_total",
			Help: "Total number of nonce conflicts detected on submission",
		},
		[]string{"chain"},
	)

	// BridgeTransfersByState tracks bridge transfer state transitions
	BridgeTransfersByState = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "apex_bridge_transfers_total",
			Help: "Total number of bridge transfer state transitions",
		},
		[]string{"state"},
	)

	// BridgeTransferDuration tracks end-to-end bridge transfer duration
	BridgeTransferDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "apex_bridge_transfer_duration_seconds",
			Help:    "End-to-end bridge transfer duration in seconds",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
		},
	)

	// EventsDropped tracks events dropped by slow subscribers
	EventsDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "apex_events_dropped_total",
			Help: "Total number of events dropped due to slow subscribers",
		},
		[]string{"kind"},
	)

	// DBConnectionPoolUsage tracks database connection pool utilization
	DBConnectionPoolUsage = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "apex_db_pool_usage_percent",
			Help: "Database connection pool usage percentage",
		},
	)
)
