package provider

import (
	"fmt"
	"sync"
	"time"

	"github.com/vietddude/apex/internal/core/domain"
)

// StateChangeFunc is invoked when an endpoint transitions between states.
type StateChangeFunc func(chain domain.ChainID, endpoint string, from, to EndpointStatus)

// Pool manages the RPC endpoints of one chain. Selection is round-robin over
// endpoints that can take traffic; dead endpoints are skipped until their
// cooldown elapses, at which point they re-enter rotation as a probe.
type Pool struct {
	mu sync.RWMutex

	chain     domain.ChainID
	providers []Provider
	current   int

	lastStatus    map[string]EndpointStatus
	onStateChange StateChangeFunc

	healthCheckInterval time.Duration
	stopHealthCheck     chan struct{}
	stopOnce            sync.Once
}

// NewPool creates a pool for a chain. A non-zero healthCheckInterval starts
// a background sweep that reports endpoint state transitions.
func NewPool(chain domain.ChainID, healthCheckInterval time.Duration) *Pool {
	pool := &Pool{
		chain:               chain,
		providers:           make([]Provider, 0, 4),
		lastStatus:          make(map[string]EndpointStatus),
		healthCheckInterval: healthCheckInterval,
		stopHealthCheck:     make(chan struct{}),
	}

	if healthCheckInterval > 0 {
		go pool.healthCheckLoop()
	}

	return pool
}

// OnStateChange registers the transition callback. Must be set before the
// first sweep observes a transition.
func (p *Pool) OnStateChange(fn StateChangeFunc) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onStateChange = fn
}

// Chain returns the chain this pool serves.
func (p *Pool) Chain() domain.ChainID {
	return p.chain
}

// Add adds an endpoint to the pool.
func (p *Pool) Add(provider Provider) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.providers = append(p.providers, provider)
	p.lastStatus[provider.GetName()] = StatusHealthy
}

// Len returns the number of endpoints in the pool.
func (p *Pool) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.providers)
}

// All returns every endpoint regardless of health.
func (p *Pool) All() []Provider {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make([]Provider, len(p.providers))
	copy(out, p.providers)
	return out
}

// Available returns the endpoints currently able to take traffic.
func (p *Pool) Available() []Provider {
	p.mu.RLock()
	defer p.mu.RUnlock()

	var out []Provider
	for _, provider := range p.providers {
		if provider.IsAvailable() {
			out = append(out, provider)
		}
	}
	return out
}

// Next returns the next available endpoint in round-robin order. When every
// endpoint is dead it returns domain.ErrPoolExhausted.
func (p *Pool) Next() (Provider, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.providers) == 0 {
		return nil, fmt.Errorf("%w: no endpoints configured for chain %s", domain.ErrPoolExhausted, p.chain)
	}

	for i := 0; i < len(p.providers); i++ {
		provider := p.providers[p.current]
		p.current = (p.current + 1) % len(p.providers)
		if provider.IsAvailable() {
			return provider, nil
		}
	}

	return nil, fmt.Errorf("%w: all %d endpoints for chain %s are dead", domain.ErrPoolExhausted, len(p.providers), p.chain)
}

// Close closes all endpoints and stops the health sweep.
func (p *Pool) Close() error {
	p.stopOnce.Do(func() { close(p.stopHealthCheck) })

	p.mu.Lock()
	defer p.mu.Unlock()

	var firstErr error
	for _, provider := range p.providers {
		if err := provider.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (p *Pool) healthCheckLoop() {
	ticker := time.NewTicker(p.healthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			p.Sweep()
		case <-p.stopHealthCheck:
			return
		}
	}
}

// Sweep re-evaluates every endpoint and fires the state-change callback for
// transitions. Exposed so tests and the control plane can force a pass.
func (p *Pool) Sweep() {
	p.mu.Lock()
	providers := make([]Provider, len(p.providers))
	copy(providers, p.providers)
	callback := p.onStateChange
	p.mu.Unlock()

	type transition struct {
		name     string
		from, to EndpointStatus
	}
	var transitions []transition

	for _, provider := range providers {
		status := endpointStatus(provider)

		p.mu.Lock()
		prev, seen := p.lastStatus[provider.GetName()]
		if !seen || prev != status {
			p.lastStatus[provider.GetName()] = status
			if seen {
				transitions = append(transitions, transition{provider.GetName(), prev, status})
			}
		}
		p.mu.Unlock()
	}

	if callback != nil {
		for _, tr := range transitions {
			callback(p.chain, tr.name, tr.from, tr.to)
		}
	}
}

func endpointStatus(p Provider) EndpointStatus {
	if httpProv, ok := p.(*HTTPProvider); ok {
		return httpProv.Monitor.CheckStatus()
	}
	if p.IsAvailable() {
		return StatusHealthy
	}
	return StatusDead
}
