package health

import (
	"context"
	"sync"
	"time"

	"github.com/vietddude/apex/internal/core/domain"
	"github.com/vietddude/apex/internal/infra/chain"
	"github.com/vietddude/apex/internal/infra/storage"
)

// CheckFunc probes one backing dependency.
type CheckFunc func(ctx context.Context) error

// Monitor aggregates health status from chain adapters, the transfer
// store, and any registered backing dependencies.
type Monitor struct {
	adapters   map[domain.ChainID]chain.Adapter
	transfers  storage.TransferRepository
	deps       map[string]CheckFunc
	lastCheck  time.Time
	lastReport *HealthReport
	mu         sync.Mutex
}

// NewMonitor creates a new health monitor. transfers may be nil when no
// bridge is configured.
func NewMonitor(adapters map[domain.ChainID]chain.Adapter, transfers storage.TransferRepository) *Monitor {
	return &Monitor{
		adapters:  adapters,
		transfers: transfers,
		deps:      make(map[string]CheckFunc),
	}
}

// AddDependency registers a named backing service (database, cache) to
// probe on each check.
func (m *Monitor) AddDependency(name string, check CheckFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deps[name] = check
}

// CheckHealth performs a full health check. Results are cached for 10
// seconds to avoid spamming RPC endpoints.
func (m *Monitor) CheckHealth(ctx context.Context) *HealthReport {
	m.mu.Lock()
	defer m.mu.Unlock()

	if time.Since(m.lastCheck) < 10*time.Second && m.lastReport != nil {
		return m.lastReport
	}

	report := &HealthReport{
		SystemStatus: StatusHealthy,
		Chains:       make(map[string]ChainHealth),
		Stores:       make(map[string]string),
	}

	var unreachable int
	for chainID, adapter := range m.adapters {
		ch := ChainHealth{
			ChainID:   string(chainID),
			Ecosystem: string(adapter.Ecosystem()),
			Status:    StatusHealthy,
		}
		head, err := adapter.LatestBlock(ctx)
		if err != nil {
			ch.Status = StatusDegraded
			ch.Error = err.Error()
			unreachable++
		} else {
			ch.HeadNumber = head.Number
		}
		report.Chains[string(chainID)] = ch
	}

	for name, check := range m.deps {
		if err := check(ctx); err != nil {
			report.Stores[name] = err.Error()
			report.SystemStatus = StatusCritical
		} else {
			report.Stores[name] = "ok"
		}
	}

	if m.transfers != nil {
		pending, err := m.transfers.ListByState(ctx,
			domain.TransferInitiated, domain.TransferSourceLocked, domain.TransferAwaitingRelay)
		if err == nil {
			report.PendingTransfers = len(pending)
		}
		failed, err := m.transfers.ListByState(ctx, domain.TransferFailed)
		if err == nil {
			report.FailedTransfers = len(failed)
		}
	}

	// Evaluate overall status (worst case wins). A dead store already
	// forced critical above; chains only degrade the system unless none
	// are reachable.
	if report.SystemStatus != StatusCritical {
		switch {
		case len(m.adapters) > 0 && unreachable == len(m.adapters):
			report.SystemStatus = StatusCritical
		case unreachable > 0 || report.FailedTransfers > 0:
			report.SystemStatus = StatusDegraded
		}
	}

	m.lastCheck = time.Now()
	m.lastReport = report
	return report
}
