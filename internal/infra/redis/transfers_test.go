package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/vietddude/apex/internal/core/domain"
)

func newTestStore(t *testing.T) (*TransferStore, *miniredis.Miniredis) {
	t.Helper()
	srv, err := miniredis.Run()
	if err != nil {
		t.Skipf("skip: miniredis unavailable: %v", err)
	}
	t.Cleanup(srv.Close)

	client, err := NewClient(Config{URL: "redis://" + srv.Addr()})
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() { client.Close() })

	return NewTransferStore(client), srv
}

func sampleTransfer(id string, state domain.TransferState, updated time.Time) *domain.BridgeTransfer {
	return &domain.BridgeTransfer{
		ID:            id,
		SourceChain:   domain.ChainIDEthereum,
		DestChain:     domain.ChainIDWestend,
		SourceAddress: "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266",
		DestAddress:   "5GrwvaEF5zXb26Fz9rcQpDWS57CtERHpNehXCPcNoHGKutQY",
		Amount:        "1000000000000",
		State:         state,
		CreatedAt:     updated,
		UpdatedAt:     updated,
	}
}

func TestTransferStore_SaveAndGet(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	saved := sampleTransfer("tr-1", domain.TransferAwaitingRelay, time.Now().UTC())
	saved.SourceTxHash = "0xlock"
	saved.History = []domain.TransferTransition{
		{From: domain.TransferInitiated, To: domain.TransferSourceLocked, At: time.Now().UTC(), Note: "lock confirmed"},
	}
	if err := store.Save(ctx, saved); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, err := store.Get(ctx, "tr-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.State != domain.TransferAwaitingRelay {
		t.Errorf("expected awaiting_relay, got %s", got.State)
	}
	if got.SourceTxHash != "0xlock" {
		t.Errorf("expected lock hash, got %q", got.SourceTxHash)
	}
	if got.Amount != "1000000000000" {
		t.Errorf("amount mismatch: %s", got.Amount)
	}
	if len(got.History) != 1 || got.History[0].Note != "lock confirmed" {
		t.Errorf("history did not survive the round trip: %+v", got.History)
	}

	if _, err := store.Get(ctx, "missing"); !errors.Is(err, domain.ErrTransferNotFound) {
		t.Errorf("expected ErrTransferNotFound, got %v", err)
	}
}

func TestTransferStore_ListByState(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	base := time.Now().UTC()

	for _, tr := range []*domain.BridgeTransfer{
		sampleTransfer("tr-a", domain.TransferAwaitingRelay, base.Add(-2*time.Minute)),
		sampleTransfer("tr-b", domain.TransferInitiated, base.Add(-time.Minute)),
		sampleTransfer("tr-c", domain.TransferFailed, base),
	} {
		if err := store.Save(ctx, tr); err != nil {
			t.Fatalf("save %s: %v", tr.ID, err)
		}
	}

	got, err := store.ListByState(ctx, domain.TransferAwaitingRelay, domain.TransferInitiated)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 transfers, got %d", len(got))
	}
	// Index order is oldest update first.
	if got[0].ID != "tr-a" || got[1].ID != "tr-b" {
		t.Errorf("unexpected order: %s, %s", got[0].ID, got[1].ID)
	}
}

func TestTransferStore_ListStale(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	for _, tr := range []*domain.BridgeTransfer{
		sampleTransfer("tr-old", domain.TransferAwaitingRelay, now.Add(-time.Hour)),
		sampleTransfer("tr-fresh", domain.TransferAwaitingRelay, now),
		sampleTransfer("tr-done", domain.TransferDestinationReleased, now.Add(-time.Hour)),
	} {
		if err := store.Save(ctx, tr); err != nil {
			t.Fatalf("save %s: %v", tr.ID, err)
		}
	}

	got, err := store.ListStale(ctx, now.Add(-30*time.Minute))
	if err != nil {
		t.Fatalf("list stale: %v", err)
	}
	if len(got) != 1 || got[0].ID != "tr-old" {
		t.Fatalf("expected only tr-old, got %+v", got)
	}
}

func TestTransferStore_ClaimLease(t *testing.T) {
	store, srv := newTestStore(t)
	ctx := context.Background()

	claimed, err := store.Claim(ctx, "tr-1", time.Minute)
	if err != nil || !claimed {
		t.Fatalf("first claim: claimed=%v err=%v", claimed, err)
	}
	claimed, err = store.Claim(ctx, "tr-1", time.Minute)
	if err != nil || claimed {
		t.Fatalf("second claim must be refused: claimed=%v err=%v", claimed, err)
	}

	if err := store.ReleaseClaim(ctx, "tr-1"); err != nil {
		t.Fatalf("release: %v", err)
	}
	claimed, err = store.Claim(ctx, "tr-1", time.Second)
	if err != nil || !claimed {
		t.Fatalf("reclaim after release: claimed=%v err=%v", claimed, err)
	}

	// The lease expires on its own if the holder dies.
	srv.FastForward(2 * time.Second)
	claimed, err = store.Claim(ctx, "tr-1", time.Minute)
	if err != nil || !claimed {
		t.Fatalf("claim after expiry: claimed=%v err=%v", claimed, err)
	}
}

func TestTransferStore_DeleteRemovesEverything(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	if err := store.Save(ctx, sampleTransfer("tr-1", domain.TransferInitiated, time.Now().UTC())); err != nil {
		t.Fatalf("save: %v", err)
	}
	if _, err := store.Claim(ctx, "tr-1", time.Minute); err != nil {
		t.Fatalf("claim: %v", err)
	}

	if err := store.Delete(ctx, "tr-1"); err != nil {
		t.Fatalf("delete: %v", err)
	}

	if _, err := store.Get(ctx, "tr-1"); !errors.Is(err, domain.ErrTransferNotFound) {
		t.Errorf("expected ErrTransferNotFound, got %v", err)
	}
	count, err := store.Count(ctx)
	if err != nil || count != 0 {
		t.Errorf("expected empty index, got count=%d err=%v", count, err)
	}
	claimed, err := store.Claim(ctx, "tr-1", time.Minute)
	if err != nil || !claimed {
		t.Errorf("delete must drop the claim too: claimed=%v err=%v", claimed, err)
	}
}

func TestTransferStore_SaveIsUpsert(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	tr := sampleTransfer("tr-1", domain.TransferInitiated, time.Now().UTC())
	if err := store.Save(ctx, tr); err != nil {
		t.Fatalf("save: %v", err)
	}
	tr.State = domain.TransferSourceLocked
	if err := store.Save(ctx, tr); err != nil {
		t.Fatalf("resave: %v", err)
	}

	count, err := store.Count(ctx)
	if err != nil || count != 1 {
		t.Fatalf("expected 1 record, got count=%d err=%v", count, err)
	}
	got, err := store.Get(ctx, "tr-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.State != domain.TransferSourceLocked {
		t.Errorf("expected the later write to win, got %s", got.State)
	}
}
