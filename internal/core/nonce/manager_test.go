package nonce

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/vietddude/apex/internal/core/domain"
)

type fakeSource struct {
	NonceFunc func(ctx context.Context, account domain.Account) (uint64, error)
}

func (f *fakeSource) Nonce(ctx context.Context, account domain.Account) (uint64, error) {
	return f.NonceFunc(ctx, account)
}

func fixedSource(n uint64) *fakeSource {
	return &fakeSource{NonceFunc: func(context.Context, domain.Account) (uint64, error) {
		return n, nil
	}}
}

func evmAccount(t *testing.T, hexAddr string) domain.Account {
	t.Helper()
	addr, err := domain.ParseEVMAddress(hexAddr)
	if err != nil {
		t.Fatalf("parse address: %v", err)
	}
	return domain.Account{Address: addr, Chain: domain.ChainIDEthereum}
}

func TestAcquire_UsesChainNonce(t *testing.T) {
	m := NewManager()
	account := evmAccount(t, "0x70997970C51812dc3A010C7d01b50e0d17dc79C8")

	res, err := m.Acquire(context.Background(), fixedSource(5), account)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer res.Abandon()

	if res.Nonce() != 5 {
		t.Errorf("expected nonce 5, got %d", res.Nonce())
	}
}

func TestAcquire_AdvisorySnapshotIsFloor(t *testing.T) {
	m := NewManager()
	account := evmAccount(t, "0x70997970C51812dc3A010C7d01b50e0d17dc79C8").WithNonce(9)

	res, err := m.Acquire(context.Background(), fixedSource(5), account)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer res.Abandon()

	if res.Nonce() != 9 {
		t.Errorf("expected advisory floor 9 over chain 5, got %d", res.Nonce())
	}
}

func TestAcquire_AcceptedNonceIsFloor(t *testing.T) {
	m := NewManager()
	account := evmAccount(t, "0x70997970C51812dc3A010C7d01b50e0d17dc79C8")
	ctx := context.Background()
	source := fixedSource(5) // chain view never advances

	res, err := m.Acquire(ctx, source, account)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	res.Accepted()

	res, err = m.Acquire(ctx, source, account)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer res.Abandon()

	if res.Nonce() != 6 {
		t.Errorf("expected fast-forward to 6 past accepted 5, got %d", res.Nonce())
	}
}

func TestAcquire_ChainWinsWhenAhead(t *testing.T) {
	m := NewManager()
	account := evmAccount(t, "0x70997970C51812dc3A010C7d01b50e0d17dc79C8")
	ctx := context.Background()

	res, _ := m.Acquire(ctx, fixedSource(5), account)
	res.Accepted() // local next = 6

	res, err := m.Acquire(ctx, fixedSource(10), account)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer res.Abandon()

	if res.Nonce() != 10 {
		t.Errorf("expected chain nonce 10 over stale local 6, got %d", res.Nonce())
	}
}

func TestAcquire_AbandonDoesNotAdvance(t *testing.T) {
	m := NewManager()
	account := evmAccount(t, "0x70997970C51812dc3A010C7d01b50e0d17dc79C8")
	ctx := context.Background()
	source := fixedSource(5)

	res, _ := m.Acquire(ctx, source, account)
	res.Abandon()

	res, err := m.Acquire(ctx, source, account)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer res.Abandon()

	if res.Nonce() != 5 {
		t.Errorf("expected abandoned nonce 5 to be reissued, got %d", res.Nonce())
	}
}

func TestAcquire_SerializesSameAccount(t *testing.T) {
	m := NewManager()
	account := evmAccount(t, "0x70997970C51812dc3A010C7d01b50e0d17dc79C8")
	ctx := context.Background()
	source := fixedSource(5)

	first, err := m.Acquire(ctx, source, account)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got := make(chan uint64, 1)
	go func() {
		res, err := m.Acquire(ctx, source, account)
		if err != nil {
			return
		}
		got <- res.Nonce()
		res.Accepted()
	}()

	select {
	case n := <-got:
		t.Fatalf("second acquire should block while first holds the account, got %d", n)
	case <-time.After(30 * time.Millisecond):
	}

	first.Accepted()

	select {
	case n := <-got:
		if n != 6 {
			t.Errorf("expected serialized follower to get 6, got %d", n)
		}
	case <-time.After(time.Second):
		t.Fatal("second acquire never proceeded after release")
	}
}

func TestAcquire_IndependentAccounts(t *testing.T) {
	m := NewManager()
	ctx := context.Background()
	source := fixedSource(0)

	first, err := m.Acquire(ctx, source, evmAccount(t, "0x70997970C51812dc3A010C7d01b50e0d17dc79C8"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer first.Abandon()

	done := make(chan struct{})
	go func() {
		res, err := m.Acquire(ctx, source, evmAccount(t, "0x3C44CdDdB6a900fa2b585dd299e03d12FA4293BC"))
		if err == nil {
			res.Abandon()
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("a different account should not be blocked")
	}
}

func TestAcquire_ContextCanceledWhileLocked(t *testing.T) {
	m := NewManager()
	account := evmAccount(t, "0x70997970C51812dc3A010C7d01b50e0d17dc79C8")
	source := fixedSource(5)

	first, err := m.Acquire(context.Background(), source, account)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer first.Abandon()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if _, err := m.Acquire(ctx, source, account); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline error while account held, got %v", err)
	}
}

func TestAcquire_SourceErrorReleasesLock(t *testing.T) {
	m := NewManager()
	account := evmAccount(t, "0x70997970C51812dc3A010C7d01b50e0d17dc79C8")
	ctx := context.Background()

	boom := errors.New("node down")
	failing := &fakeSource{NonceFunc: func(context.Context, domain.Account) (uint64, error) {
		return 0, boom
	}}

	if _, err := m.Acquire(ctx, failing, account); !errors.Is(err, boom) {
		t.Fatalf("expected source error, got %v", err)
	}

	// The failed acquire must not leave the account locked.
	res, err := m.Acquire(ctx, fixedSource(5), account)
	if err != nil {
		t.Fatalf("expected lock released after source failure, got %v", err)
	}
	res.Abandon()
}

func TestRefresh_DropsLocalFloors(t *testing.T) {
	m := NewManager()
	account := evmAccount(t, "0x70997970C51812dc3A010C7d01b50e0d17dc79C8")
	ctx := context.Background()

	res, _ := m.Acquire(ctx, fixedSource(5), account)
	res.Accepted() // local next = 6

	res, err := m.Acquire(ctx, fixedSource(5), account)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Nonce() != 6 {
		t.Fatalf("expected fast-forward to 6, got %d", res.Nonce())
	}

	// Node rejected 6; its authoritative answer is 3.
	n, err := res.Refresh(ctx, fixedSource(3))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 3 || res.Nonce() != 3 {
		t.Errorf("expected refreshed nonce 3, got %d / %d", n, res.Nonce())
	}
	res.Abandon()

	// The dropped fast-forward state must not resurface.
	res, err = m.Acquire(ctx, fixedSource(3), account)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer res.Abandon()
	if res.Nonce() != 3 {
		t.Errorf("expected chain nonce 3 after refresh, got %d", res.Nonce())
	}
}

func TestReservation_DoubleCloseIsSafe(t *testing.T) {
	m := NewManager()
	account := evmAccount(t, "0x70997970C51812dc3A010C7d01b50e0d17dc79C8")
	ctx := context.Background()

	res, _ := m.Acquire(ctx, fixedSource(5), account)
	res.Accepted()
	res.Abandon() // no-op after Accepted

	res, err := m.Acquire(ctx, fixedSource(5), account)
	if err != nil {
		t.Fatalf("expected account released exactly once, got %v", err)
	}
	res.Abandon()
}
