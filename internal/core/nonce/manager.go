// Package nonce serializes transaction submission per account. Both
// ecosystems reject gaps and duplicates in an account's nonce sequence, so
// the fetch-build-sign-submit window must be exclusive within one account.
// Across accounts there is no ordering.
package nonce

import (
	"context"
	"sync"

	"github.com/vietddude/apex/internal/core/domain"
)

// Source reads the next valid nonce from the chain. chain.Adapter
// satisfies this; the builder passes a cache-backed wrapper.
type Source interface {
	Nonce(ctx context.Context, account domain.Account) (uint64, error)
}

// Manager hands out per-account reservations. A reservation holds the
// account's lock from nonce acquisition until the node accepts the
// transaction or the caller abandons the attempt.
type Manager struct {
	mu    sync.Mutex
	locks map[string]*accountLock
}

// accountLock fields past sem are guarded by holding sem, not mu.
type accountLock struct {
	sem  chan struct{}
	next uint64
	seen bool
}

func NewManager() *Manager {
	return &Manager{locks: make(map[string]*accountLock)}
}

func (m *Manager) lockFor(account domain.Account) *accountLock {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := account.Key()
	l, ok := m.locks[key]
	if !ok {
		l = &accountLock{sem: make(chan struct{}, 1)}
		m.locks[key] = l
	}
	return l
}

// Acquire locks the account and resolves the nonce for its next
// transaction. The chain's answer is the base; the account's advisory
// snapshot and nonces this process already had accepted act as floors,
// covering the window where the node's pending view lags its own pool.
// The reservation must be closed through Accepted or Abandon.
func (m *Manager) Acquire(ctx context.Context, source Source, account domain.Account) (*Reservation, error) {
	l := m.lockFor(account)

	select {
	case l.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	chainNonce, err := source.Nonce(ctx, account)
	if err != nil {
		<-l.sem
		return nil, err
	}

	nonce := chainNonce
	if account.Nonce != nil && *account.Nonce > nonce {
		nonce = *account.Nonce
	}
	if l.seen && l.next > nonce {
		nonce = l.next
	}
	return &Reservation{account: account, nonce: nonce, lock: l}, nil
}

// Reservation is an exclusive claim on one account's next nonce.
type Reservation struct {
	account domain.Account
	nonce   uint64
	lock    *accountLock
	once    sync.Once
}

func (r *Reservation) Nonce() uint64 { return r.nonce }

func (r *Reservation) Account() domain.Account { return r.account }

// Refresh rereads the chain nonce after a node rejection, dropping every
// local floor: the node's view wins a conflict. The account stays locked,
// so the caller can rebuild and resubmit under the same reservation.
func (r *Reservation) Refresh(ctx context.Context, source Source) (uint64, error) {
	chainNonce, err := source.Nonce(ctx, r.account)
	if err != nil {
		return 0, err
	}
	r.lock.seen = false
	r.nonce = chainNonce
	return chainNonce, nil
}

// Accepted records that the node took the transaction at this nonce and
// releases the account.
func (r *Reservation) Accepted() {
	r.once.Do(func() {
		if !r.lock.seen || r.nonce+1 > r.lock.next {
			r.lock.next = r.nonce + 1
			r.lock.seen = true
		}
		<-r.lock.sem
	})
}

// Abandon releases the account without consuming the nonce.
func (r *Reservation) Abandon() {
	r.once.Do(func() {
		<-r.lock.sem
	})
}
