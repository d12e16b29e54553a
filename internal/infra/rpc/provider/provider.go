// Package provider implements RPC endpoint management.
//
// This package contains:
//   - Provider interface: core abstraction for RPC endpoints
//   - HTTPProvider: JSON-RPC over HTTP implementation
//   - EndpointMonitor: health, latency and rate tracking
//   - Pool: per-chain connection pooling with round-robin and health probes
package provider

import (
	"context"
	"time"
)

// Operation represents a JSON-RPC operation to execute.
type Operation struct {
	// Name identifies the method (e.g. "eth_blockNumber", "chain_getHeader")
	Name string

	// Cost is the quota cost for this operation (default 1)
	Cost int

	// Params are the positional JSON-RPC parameters
	Params []any
}

// Provider defines the core interface for an RPC endpoint. It serves as the
// base abstraction for health checking, metrics, and lifecycle management.
type Provider interface {
	// GetName returns the endpoint identifier (e.g. "alchemy", "onfinality")
	GetName() string

	// GetHealth returns current health metrics
	GetHealth() HealthStatus

	// IsAvailable checks if the endpoint is healthy enough to use
	IsAvailable() bool

	// HasQuotaRemaining checks if the endpoint has not exceeded its rate limits
	HasQuotaRemaining() bool

	// HasCapacity checks if the endpoint has capacity for the given cost
	HasCapacity(cost int) bool

	// Close cleans up resources
	Close() error
}

// RPCProvider extends Provider with methods for making JSON-RPC calls.
type RPCProvider interface {
	Provider

	// Call makes a single RPC request
	Call(ctx context.Context, method string, params []any) (any, error)

	// BatchCall makes multiple RPC calls in one request
	BatchCall(ctx context.Context, requests []BatchRequest) ([]BatchResponse, error)
}

// BatchRequest represents a single request in a batch call.
type BatchRequest struct {
	Method string
	Params []any
}

// BatchResponse represents a single response from a batch call.
type BatchResponse struct {
	Result any
	Error  error
}

// HealthStatus represents the health state of an endpoint.
type HealthStatus struct {
	Available           bool
	Latency             time.Duration
	ErrorRate           float64
	ConsecutiveFailures int
	LastSuccessAt       time.Time
	LastFailureAt       time.Time
}
