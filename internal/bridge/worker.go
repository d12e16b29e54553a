package bridge

import (
	"context"
	"time"

	logger "log/slog"

	"github.com/vietddude/apex/internal/core/domain"
	"github.com/vietddude/apex/internal/infra/storage"
)

// WorkerConfig holds the relay worker knobs.
type WorkerConfig struct {
	Interval time.Duration // sweep period
	ClaimTTL time.Duration // per-transfer claim duration
	// MinAge keeps the sweep off records the coordinator touched moments
	// ago; the claim is the real fence, this just avoids churn.
	MinAge time.Duration
}

// DefaultWorkerConfig returns the standard sweep cadence.
func DefaultWorkerConfig() WorkerConfig {
	return WorkerConfig{
		Interval: 15 * time.Second,
		ClaimTTL: 10 * time.Minute,
		MinAge:   30 * time.Second,
	}
}

// Worker drives transfers the coordinator left behind: records found
// mid-flight after a restart, and releases whose driver died. Claims keep
// concurrent workers off the same transfer.
type Worker struct {
	coord *Coordinator
	store storage.TransferRepository
	cfg   WorkerConfig
	log   logger.Logger
}

func NewWorker(coord *Coordinator, store storage.TransferRepository, cfg WorkerConfig) *Worker {
	def := DefaultWorkerConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.ClaimTTL <= 0 {
		cfg.ClaimTTL = def.ClaimTTL
	}
	if cfg.MinAge <= 0 {
		cfg.MinAge = def.MinAge
	}
	return &Worker{
		coord: coord,
		store: store,
		cfg:   cfg,
		log:   *logger.Default(),
	}
}

// Run sweeps until the context ends. The first sweep runs immediately so
// a restart requeues in-flight transfers without waiting an interval.
func (w *Worker) Run(ctx context.Context) error {
	w.log.Info("relay worker starting", "interval", w.cfg.Interval)
	w.Sweep(ctx)

	ticker := time.NewTicker(w.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			w.log.Info("relay worker stopped")
			return nil
		case <-ticker.C:
			w.Sweep(ctx)
		}
	}
}

// Sweep resumes every claimable in-flight transfer once. Exported so
// admin tooling can force a pass.
func (w *Worker) Sweep(ctx context.Context) {
	cutoff := time.Now().Add(-w.cfg.MinAge)
	transfers, err := w.store.ListStale(ctx, cutoff)
	if err != nil {
		w.log.Error("list in-flight transfers failed", "error", err)
		return
	}

	for _, t := range transfers {
		if ctx.Err() != nil {
			return
		}
		w.resumeOne(ctx, t)
	}
}

func (w *Worker) resumeOne(ctx context.Context, t *domain.BridgeTransfer) {
	claimed, err := w.store.Claim(ctx, t.ID, w.cfg.ClaimTTL)
	if err != nil {
		w.log.Error("claim transfer failed", "transfer", t.ID, "error", err)
		return
	}
	if !claimed {
		return
	}
	defer w.store.ReleaseClaim(ctx, t.ID)

	// The record may have advanced between listing and claiming.
	current, err := w.store.Get(ctx, t.ID)
	if err != nil {
		w.log.Error("reload transfer failed", "transfer", t.ID, "error", err)
		return
	}
	if current.Terminal() {
		return
	}

	w.log.Info("resuming transfer", "transfer", current.ID, "state", current.State)
	if err := w.coord.Resume(ctx, current); err != nil {
		w.log.Warn("transfer resume failed", "transfer", current.ID, "error", err)
	}
}
