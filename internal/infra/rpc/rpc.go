// Package rpc provides a resilient RPC client for blockchain networks.
//
// This package offers robust connectivity with:
//   - Multiple endpoints per chain (Alchemy, Infura, OnFinality, ...)
//   - Automatic failover and rotation
//   - Dead-endpoint cooldown with live-traffic probing
//   - Quota/budget management
//   - Health monitoring
//
// # Quick Start
//
//	import "github.com/vietddude/apex/internal/infra/rpc"
//
//	// Setup
//	budget := rpc.NewBudgetTracker(100000, map[domain.ChainID]float64{domain.ChainIDEthereum: 1.0})
//	router := rpc.NewRouter(budget)
//	router.AddProvider(domain.ChainIDEthereum, rpc.NewHTTPProvider("alchemy", alchemyURL, 30*time.Second))
//	router.AddProvider(domain.ChainIDEthereum, rpc.NewHTTPProvider("infura", infuraURL, 30*time.Second))
//
//	// Create client
//	client := rpc.NewClient(domain.ChainIDEthereum, router, budget)
//
//	// Make calls
//	result, err := client.Call(ctx, "eth_blockNumber", nil)
//
// # Package Structure
//
// The package is organized into sub-packages for maintainability:
//
//   - provider/ - Endpoint implementations (HTTPProvider, monitoring, pooling)
//   - routing/  - Endpoint selection, rotation strategies, retry logic
//   - budget/   - Quota tracking
//
// Most types are re-exported at the root level for convenience.
package rpc

import (
	"time"

	"github.com/vietddude/apex/internal/core/domain"
	"github.com/vietddude/apex/internal/infra/rpc/budget"
	"github.com/vietddude/apex/internal/infra/rpc/provider"
	"github.com/vietddude/apex/internal/infra/rpc/routing"
)

// =============================================================================
// Re-exported types from provider package
// =============================================================================

// Provider is the core interface for RPC endpoints.
type Provider = provider.Provider

// RPCProvider is the interface for endpoints that support JSON-RPC calls.
type RPCProvider = provider.RPCProvider

// HTTPProvider implements Provider for JSON-RPC over HTTP.
type HTTPProvider = provider.HTTPProvider

// EndpointMonitor tracks endpoint health and rate limiting.
type EndpointMonitor = provider.EndpointMonitor

// Pool manages the endpoints of one chain.
type Pool = provider.Pool

// EndpointStatus represents the health state of an endpoint.
type EndpointStatus = provider.EndpointStatus

// StateChangeFunc is invoked when an endpoint transitions between states.
type StateChangeFunc = provider.StateChangeFunc

// MonitorStats holds monitoring statistics for an endpoint.
type MonitorStats = provider.MonitorStats

// HealthStatus represents the health state of an endpoint.
type HealthStatus = provider.HealthStatus

// BatchRequest represents a single request in a batch call.
type BatchRequest = provider.BatchRequest

// BatchResponse represents a single response from a batch call.
type BatchResponse = provider.BatchResponse

// Operation represents a JSON-RPC operation to execute.
type Operation = provider.Operation

// Endpoint status constants
const (
	StatusHealthy  = provider.StatusHealthy
	StatusDegraded = provider.StatusDegraded
	StatusDead     = provider.StatusDead
)

// NewHTTPProvider creates a new HTTP-based RPC endpoint.
func NewHTTPProvider(name, endpoint string, timeout time.Duration) *HTTPProvider {
	return provider.NewHTTPProvider(name, endpoint, timeout)
}

// NewPool creates a pool for a chain.
func NewPool(chain domain.ChainID, healthCheckInterval time.Duration) *Pool {
	return provider.NewPool(chain, healthCheckInterval)
}

// =============================================================================
// Re-exported types from routing package
// =============================================================================

// Router handles endpoint selection and health tracking.
type Router = routing.Router

// DefaultRouter implements endpoint selection with a circuit breaker.
type DefaultRouter = routing.DefaultRouter

// RotationStrategy defines how endpoints are rotated.
type RotationStrategy = routing.RotationStrategy

// RetryConfig defines retry behavior.
type RetryConfig = routing.RetryConfig

// Rotation strategy constants
const (
	RotationRoundRobin = routing.RotationRoundRobin
	RotationAdaptive   = routing.RotationAdaptive
)

// DefaultRetryConfig provides sensible retry defaults.
var DefaultRetryConfig = routing.DefaultRetryConfig

// NewRouter creates a new router with round-robin rotation.
func NewRouter(b budget.BudgetTracker) *DefaultRouter {
	return routing.NewRouter(b)
}

// NewRouterWithStrategy creates a router with a specific rotation strategy.
func NewRouterWithStrategy(b budget.BudgetTracker, strategy RotationStrategy) *DefaultRouter {
	return routing.NewRouterWithStrategy(b, strategy)
}

// CallWithRetry executes an RPC call with exponential backoff.
var CallWithRetry = routing.CallWithRetry

// CallWithRetryAndFailover tries every endpoint of a chain with retry.
var CallWithRetryAndFailover = routing.CallWithRetryAndFailover

// =============================================================================
// Re-exported types from budget package
// =============================================================================

// BudgetTracker manages RPC quota and rate limiting.
type BudgetTracker = budget.BudgetTracker

// DefaultBudgetTracker implements BudgetTracker with per-chain tracking.
type DefaultBudgetTracker = budget.DefaultBudgetTracker

// UsageStats holds quota usage statistics.
type UsageStats = budget.UsageStats

// BudgetConfig holds budget configuration.
type BudgetConfig = budget.Config

// NewBudgetTracker creates a new budget tracker.
func NewBudgetTracker(dailyLimit int, budgetAllocation map[domain.ChainID]float64) *DefaultBudgetTracker {
	return budget.NewBudgetTracker(dailyLimit, budgetAllocation)
}
