// Package routing handles endpoint selection, rotation, and failover logic.
//
// This package contains:
//   - Router: interface for endpoint selection and health tracking
//   - DefaultRouter: implementation with per-endpoint circuit breaker
//   - Rotator: rotation strategies (round-robin, adaptive)
//   - Retry: retry logic with exponential backoff, jitter, and failover
package routing

import (
	"fmt"
	"sync"
	"time"

	"github.com/vietddude/apex/internal/core/domain"
	"github.com/vietddude/apex/internal/infra/rpc/provider"
)

// Router handles endpoint selection and health tracking.
type Router interface {
	// AddProvider registers an endpoint for a specific chain
	AddProvider(chainID domain.ChainID, p provider.Provider)

	// GetProvider returns the best available endpoint for a chain
	GetProvider(chainID domain.ChainID) (provider.Provider, error)

	// GetProviderWithHint returns the best endpoint with a preference hint
	GetProviderWithHint(chainID domain.ChainID, preferred string) (provider.Provider, error)

	// RotateProvider forces an endpoint rotation for a chain
	RotateProvider(chainID domain.ChainID) (provider.Provider, error)

	// GetAllProviders returns all endpoints for a chain
	GetAllProviders(chainID domain.ChainID) []provider.Provider

	// RecordSuccess tracks successful calls
	RecordSuccess(providerName string, latency time.Duration)

	// RecordFailure tracks failed calls
	RecordFailure(providerName string, err error)
}

// BudgetChecker is a minimal interface for budget checking in routing.
type BudgetChecker interface {
	CanUseProvider(chainID domain.ChainID, providerName string) bool
}

type providerMetrics struct {
	successCount     int
	failureCount     int
	totalLatency     time.Duration
	lastSuccessAt    time.Time
	lastFailureAt    time.Time
	consecutiveFails int
	circuitOpen      bool
}

// circuitThreshold is the consecutive-failure count that opens an
// endpoint's circuit; one success closes it again.
const circuitThreshold = 3

// DefaultRouter implements endpoint selection over per-chain pools with a
// consecutive-failure circuit breaker.
type DefaultRouter struct {
	mu             sync.RWMutex
	chainPools     map[domain.ChainID]*provider.Pool
	providerHealth map[string]*providerMetrics
	rotator        *Rotator
	budget         BudgetChecker
	onStateChange  provider.StateChangeFunc
	sweepInterval  time.Duration
}

// NewRouter creates a new router with round-robin rotation.
func NewRouter(budget BudgetChecker) *DefaultRouter {
	return NewRouterWithStrategy(budget, RotationRoundRobin)
}

// NewRouterWithStrategy creates a router with a specific rotation strategy.
func NewRouterWithStrategy(budget BudgetChecker, strategy RotationStrategy) *DefaultRouter {
	return &DefaultRouter{
		chainPools:     make(map[domain.ChainID]*provider.Pool),
		providerHealth: make(map[string]*providerMetrics),
		rotator:        NewRotator(strategy),
		budget:         budget,
		sweepInterval:  30 * time.Second,
	}
}

// OnStateChange registers a callback fired when any endpoint changes state.
func (r *DefaultRouter) OnStateChange(fn provider.StateChangeFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onStateChange = fn
	for _, pool := range r.chainPools {
		pool.OnStateChange(fn)
	}
}

// AddProvider registers an endpoint for a chain.
func (r *DefaultRouter) AddProvider(chainID domain.ChainID, p provider.Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()

	pool, ok := r.chainPools[chainID]
	if !ok {
		pool = provider.NewPool(chainID, r.sweepInterval)
		if r.onStateChange != nil {
			pool.OnStateChange(r.onStateChange)
		}
		r.chainPools[chainID] = pool
	}
	pool.Add(p)
	r.providerHealth[p.GetName()] = &providerMetrics{
		lastSuccessAt: time.Now(),
	}
}

// Pool returns the pool serving a chain, or nil when none is registered.
func (r *DefaultRouter) Pool(chainID domain.ChainID) *provider.Pool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.chainPools[chainID]
}

// GetProvider returns the best available endpoint for a chain.
func (r *DefaultRouter) GetProvider(chainID domain.ChainID) (provider.Provider, error) {
	pool := r.Pool(chainID)
	if pool == nil {
		return nil, fmt.Errorf("%w: no endpoints registered for chain %s", domain.ErrPoolExhausted, chainID)
	}

	available := pool.Available()
	if len(available) == 0 {
		return nil, fmt.Errorf("%w: all endpoints for chain %s are dead", domain.ErrPoolExhausted, chainID)
	}

	// Skip circuit-open endpoints while alternatives remain
	var closed []provider.Provider
	for _, p := range available {
		if !r.circuitOpen(p.GetName()) {
			closed = append(closed, p)
		}
	}
	if len(closed) > 0 {
		available = closed
	}

	// Filter by budget availability
	if r.budget != nil {
		var budgetAvailable []provider.Provider
		for _, p := range available {
			if r.budget.CanUseProvider(chainID, p.GetName()) {
				budgetAvailable = append(budgetAvailable, p)
			}
		}
		if len(budgetAvailable) > 0 {
			available = budgetAvailable
		}
	}

	return r.rotator.Select(chainID, available)
}

// GetProviderWithHint returns an endpoint with preference for the hint.
func (r *DefaultRouter) GetProviderWithHint(chainID domain.ChainID, preferred string) (provider.Provider, error) {
	if preferred != "" {
		pool := r.Pool(chainID)
		if pool != nil {
			for _, p := range pool.All() {
				if p.GetName() == preferred && p.IsAvailable() && !r.circuitOpen(p.GetName()) {
					return p, nil
				}
			}
		}
	}
	return r.GetProvider(chainID)
}

// RotateProvider forces an endpoint rotation.
func (r *DefaultRouter) RotateProvider(chainID domain.ChainID) (provider.Provider, error) {
	pool := r.Pool(chainID)
	if pool == nil {
		return nil, fmt.Errorf("%w: no endpoints registered for chain %s", domain.ErrPoolExhausted, chainID)
	}
	return pool.Next()
}

// GetAllProviders returns all endpoints for a chain.
func (r *DefaultRouter) GetAllProviders(chainID domain.ChainID) []provider.Provider {
	pool := r.Pool(chainID)
	if pool == nil {
		return nil
	}
	return pool.All()
}

// RecordSuccess records a successful call and closes the circuit.
func (r *DefaultRouter) RecordSuccess(providerName string, latency time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	metrics, ok := r.providerHealth[providerName]
	if !ok {
		return
	}

	metrics.successCount++
	metrics.totalLatency += latency
	metrics.lastSuccessAt = time.Now()
	metrics.consecutiveFails = 0
	metrics.circuitOpen = false
}

// RecordFailure records a failed call; the circuit opens on the third
// consecutive failure.
func (r *DefaultRouter) RecordFailure(providerName string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	metrics, ok := r.providerHealth[providerName]
	if !ok {
		return
	}

	metrics.failureCount++
	metrics.lastFailureAt = time.Now()
	metrics.consecutiveFails++

	if metrics.consecutiveFails >= circuitThreshold {
		metrics.circuitOpen = true
	}
}

// Close shuts down every pool.
func (r *DefaultRouter) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var firstErr error
	for _, pool := range r.chainPools {
		if err := pool.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (r *DefaultRouter) circuitOpen(providerName string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	metrics, ok := r.providerHealth[providerName]
	return ok && metrics.circuitOpen
}
