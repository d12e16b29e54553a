package worker

import (
	"context"
	logger "log/slog"
	"time"

	"github.com/vietddude/apex/internal/core/domain"
	"github.com/vietddude/apex/internal/infra/storage"
)

// PrunerConfig sets how long records are kept. A zero duration disables
// that prune.
type PrunerConfig struct {
	// TransferRetention is how long terminal transfers stay in the live
	// store after their last update.
	TransferRetention time.Duration
	// HistoryRetention is how long transition log rows are kept. Audit
	// rows usually outlive the records they describe.
	HistoryRetention time.Duration
}

// Pruner deletes old data based on retention policy.
type Pruner struct {
	cfg       PrunerConfig
	transfers storage.TransferRepository
	history   storage.TransferHistoryRepository
	log       logger.Logger
}

// NewPruner creates a new Pruner worker.
func NewPruner(
	cfg PrunerConfig,
	transfers storage.TransferRepository,
	history storage.TransferHistoryRepository,
) *Pruner {
	return &Pruner{
		cfg:       cfg,
		transfers: transfers,
		history:   history,
		log:       *logger.Default(),
	}
}

// Start runs the pruner loop.
func (p *Pruner) Start(ctx context.Context) {
	retention := p.shortestRetention()
	if retention <= 0 {
		return // Retention disabled
	}

	// Check interval is 10% of the shortest retention, capped at 1 hour.
	interval := min(retention/10, 1*time.Hour)
	interval = max(interval, 1*time.Minute)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	// Initial prune
	p.prune(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.prune(ctx)
		}
	}
}

func (p *Pruner) shortestRetention() time.Duration {
	r := p.cfg.TransferRetention
	if p.cfg.HistoryRetention > 0 && (r <= 0 || p.cfg.HistoryRetention < r) {
		r = p.cfg.HistoryRetention
	}
	return r
}

func (p *Pruner) prune(ctx context.Context) {
	if p.cfg.TransferRetention > 0 {
		p.pruneTransfers(ctx, time.Now().Add(-p.cfg.TransferRetention))
	}
	if p.cfg.HistoryRetention > 0 {
		removed, err := p.history.DeleteOlderThan(ctx, time.Now().Add(-p.cfg.HistoryRetention))
		if err != nil {
			p.log.Error("history prune failed", "error", err)
		} else if removed > 0 {
			p.log.Info("pruned transition rows", "count", removed)
		}
	}
}

// pruneTransfers removes terminal transfers past retention. Non-terminal
// records are never touched here no matter how old; the relay worker
// owns those.
func (p *Pruner) pruneTransfers(ctx context.Context, cutoff time.Time) {
	done, err := p.transfers.ListByState(ctx,
		domain.TransferDestinationReleased, domain.TransferFailed)
	if err != nil {
		p.log.Error("terminal transfer list failed", "error", err)
		return
	}

	var removed int
	for _, t := range done {
		if !t.UpdatedAt.Before(cutoff) {
			continue
		}
		if err := p.transfers.Delete(ctx, t.ID); err != nil {
			p.log.Error("transfer prune failed", "transfer", t.ID, "error", err)
			continue
		}
		removed++
	}
	if removed > 0 {
		p.log.Info("pruned terminal transfers", "count", removed)
	}
}
