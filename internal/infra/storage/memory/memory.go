package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/vietddude/apex/internal/core/domain"
)

// MemoryStorage backs the repositories when no database is configured.
// Everything is process-lifetime; tests and single-node deployments use it.
type MemoryStorage struct {
	transfers map[string]*domain.BridgeTransfer
	claims    map[string]time.Time
	history   map[string][]domain.TransferTransition
	wallets   map[string]*domain.WalletRecord
	mu        sync.RWMutex
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		transfers: make(map[string]*domain.BridgeTransfer),
		claims:    make(map[string]time.Time),
		history:   make(map[string][]domain.TransferTransition),
		wallets:   make(map[string]*domain.WalletRecord),
	}
}

// -----------------------------------------------------------------------------
// Transfer Repository
// -----------------------------------------------------------------------------

type TransferRepo struct {
	store *MemoryStorage
}

func NewTransferRepo(store *MemoryStorage) *TransferRepo {
	return &TransferRepo{store: store}
}

func (r *TransferRepo) Save(ctx context.Context, transfer *domain.BridgeTransfer) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	clone := cloneTransfer(transfer)
	r.store.transfers[transfer.ID] = clone
	return nil
}

func (r *TransferRepo) Get(ctx context.Context, id string) (*domain.BridgeTransfer, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	t, ok := r.store.transfers[id]
	if !ok {
		return nil, domain.ErrTransferNotFound
	}
	return cloneTransfer(t), nil
}

func (r *TransferRepo) ListByState(ctx context.Context, states ...domain.TransferState) ([]*domain.BridgeTransfer, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	var out []*domain.BridgeTransfer
	for _, t := range r.store.transfers {
		for _, s := range states {
			if t.State == s {
				out = append(out, cloneTransfer(t))
				break
			}
		}
	}
	sortByUpdated(out)
	return out, nil
}

func (r *TransferRepo) ListStale(ctx context.Context, cutoff time.Time) ([]*domain.BridgeTransfer, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	var out []*domain.BridgeTransfer
	for _, t := range r.store.transfers {
		if !t.Terminal() && t.UpdatedAt.Before(cutoff) {
			out = append(out, cloneTransfer(t))
		}
	}
	sortByUpdated(out)
	return out, nil
}

func (r *TransferRepo) Delete(ctx context.Context, id string) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	delete(r.store.transfers, id)
	delete(r.store.claims, id)
	return nil
}

func (r *TransferRepo) Count(ctx context.Context) (int, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	return len(r.store.transfers), nil
}

func (r *TransferRepo) Claim(ctx context.Context, id string, ttl time.Duration) (bool, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	if expiry, held := r.store.claims[id]; held && time.Now().Before(expiry) {
		return false, nil
	}
	r.store.claims[id] = time.Now().Add(ttl)
	return true, nil
}

func (r *TransferRepo) RefreshClaim(ctx context.Context, id string, ttl time.Duration) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	if _, held := r.store.claims[id]; held {
		r.store.claims[id] = time.Now().Add(ttl)
	}
	return nil
}

func (r *TransferRepo) ReleaseClaim(ctx context.Context, id string) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	delete(r.store.claims, id)
	return nil
}

func cloneTransfer(t *domain.BridgeTransfer) *domain.BridgeTransfer {
	clone := *t
	clone.History = make([]domain.TransferTransition, len(t.History))
	copy(clone.History, t.History)
	return &clone
}

func sortByUpdated(transfers []*domain.BridgeTransfer) {
	sort.Slice(transfers, func(i, j int) bool {
		return transfers[i].UpdatedAt.Before(transfers[j].UpdatedAt)
	})
}

// -----------------------------------------------------------------------------
// Transfer History Repository
// -----------------------------------------------------------------------------

type HistoryRepo struct {
	store *MemoryStorage
}

func NewHistoryRepo(store *MemoryStorage) *HistoryRepo {
	return &HistoryRepo{store: store}
}

func (r *HistoryRepo) Append(ctx context.Context, transferID string, tr domain.TransferTransition) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	r.store.history[transferID] = append(r.store.history[transferID], tr)
	return nil
}

func (r *HistoryRepo) ListByTransfer(ctx context.Context, transferID string) ([]domain.TransferTransition, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	rows := r.store.history[transferID]
	out := make([]domain.TransferTransition, len(rows))
	copy(out, rows)
	return out, nil
}

func (r *HistoryRepo) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	var removed int64
	for id, rows := range r.store.history {
		kept := rows[:0]
		for _, tr := range rows {
			if tr.At.Before(cutoff) {
				removed++
				continue
			}
			kept = append(kept, tr)
		}
		if len(kept) == 0 {
			delete(r.store.history, id)
		} else {
			r.store.history[id] = kept
		}
	}
	return removed, nil
}

// -----------------------------------------------------------------------------
// Wallet Repository
// -----------------------------------------------------------------------------

type WalletRepo struct {
	store *MemoryStorage
}

func NewWalletRepo(store *MemoryStorage) *WalletRepo {
	return &WalletRepo{store: store}
}

func (r *WalletRepo) Save(ctx context.Context, wallet *domain.WalletRecord) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	clone := *wallet
	r.store.wallets[wallet.Name] = &clone
	return nil
}

func (r *WalletRepo) GetByName(ctx context.Context, name string) (*domain.WalletRecord, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	w, ok := r.store.wallets[name]
	if !ok {
		return nil, nil
	}
	clone := *w
	return &clone, nil
}

func (r *WalletRepo) GetByAddress(ctx context.Context, address string) (*domain.WalletRecord, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	for _, w := range r.store.wallets {
		if w.Address == address {
			clone := *w
			return &clone, nil
		}
	}
	return nil, nil
}

func (r *WalletRepo) GetAll(ctx context.Context) ([]*domain.WalletRecord, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	out := make([]*domain.WalletRecord, 0, len(r.store.wallets))
	for _, w := range r.store.wallets {
		clone := *w
		out = append(out, &clone)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (r *WalletRepo) Delete(ctx context.Context, name string) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	delete(r.store.wallets, name)
	return nil
}
