package routing

import (
	"fmt"
	"math/rand"
	"sort"
	"sync"

	"github.com/vietddude/apex/internal/core/domain"
	"github.com/vietddude/apex/internal/infra/rpc/provider"
)

// RotationStrategy defines how endpoints are rotated.
type RotationStrategy int

const (
	RotationRoundRobin RotationStrategy = iota // Simple sequential rotation
	RotationAdaptive                           // Based on latency and error history
)

// Rotator selects the next endpoint from the available set.
type Rotator struct {
	mu       sync.Mutex
	strategy RotationStrategy

	lastUsedIndex map[domain.ChainID]int
}

// NewRotator creates a new rotator with the given strategy.
func NewRotator(strategy RotationStrategy) *Rotator {
	return &Rotator{
		strategy:      strategy,
		lastUsedIndex: make(map[domain.ChainID]int),
	}
}

// Select chooses the next endpoint based on the strategy.
func (rt *Rotator) Select(chainID domain.ChainID, providers []provider.Provider) (provider.Provider, error) {
	switch rt.strategy {
	case RotationAdaptive:
		return rt.adaptive(providers)
	default:
		return rt.roundRobin(chainID, providers)
	}
}

func (rt *Rotator) roundRobin(chainID domain.ChainID, providers []provider.Provider) (provider.Provider, error) {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	if len(providers) == 0 {
		return nil, fmt.Errorf("no endpoints available")
	}

	index := rt.lastUsedIndex[chainID] % len(providers)
	p := providers[index]
	rt.lastUsedIndex[chainID] = (index + 1) % len(providers)

	return p, nil
}

func (rt *Rotator) adaptive(providers []provider.Provider) (provider.Provider, error) {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	type providerScore struct {
		provider provider.Provider
		score    float64
	}

	var scored []providerScore
	for _, p := range providers {
		httpProv, ok := p.(*provider.HTTPProvider)
		if !ok {
			scored = append(scored, providerScore{provider: p, score: 50})
			continue
		}

		stats := httpProv.Monitor.GetStats()
		if stats.Status == provider.StatusDead {
			continue
		}

		score := adaptiveScore(stats, p.GetHealth())
		if score > 0 {
			scored = append(scored, providerScore{provider: p, score: score})
		}
	}

	if len(scored) == 0 {
		return nil, fmt.Errorf("no endpoints with positive score")
	}

	sort.Slice(scored, func(i, j int) bool {
		return scored[i].score > scored[j].score
	})

	// Sample among the top fifth to avoid hammering a single winner
	topN := max(1, len(scored)/5)
	return scored[rand.Intn(topN)].provider, nil
}

func adaptiveScore(stats provider.MonitorStats, health provider.HealthStatus) float64 {
	score := 100.0

	if stats.UsagePercentage > 90 {
		score -= 50
	} else if stats.UsagePercentage > 75 {
		score -= 30
	} else if stats.UsagePercentage > 50 {
		score -= 10
	}

	latencyMs := stats.AverageLatency.Milliseconds()
	if latencyMs > 3000 {
		score -= 40
	} else if latencyMs > 1000 {
		score -= 20
	} else if latencyMs > 500 {
		score -= 10
	}

	score -= float64(stats.ThrottleCount429) * 5
	score -= float64(stats.ThrottleCount403) * 10
	score -= float64(stats.ConsecutiveFailures) * 15
	score -= health.ErrorRate * 50

	if stats.Status == provider.StatusDegraded {
		score -= 25
	}

	return max(0, score)
}
