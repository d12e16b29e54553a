package bridge

import (
	"context"
	"testing"
	"time"

	"github.com/vietddude/apex/internal/core/domain"
)

func staleTransfer(t *testing.T, r *rig, id string) *domain.BridgeTransfer {
	t.Helper()
	transfer := domain.NewBridgeTransfer(id, *r.crossIntent(t))
	transfer.SourceTxHash = "0xstalelock"
	if err := transfer.TransitionTo(domain.TransferSourceLocked, "lock confirmed"); err != nil {
		t.Fatal(err)
	}
	if err := transfer.TransitionTo(domain.TransferAwaitingRelay, "handed to relay"); err != nil {
		t.Fatal(err)
	}
	transfer.UpdatedAt = time.Now().Add(-time.Hour)
	if err := r.store.Save(context.Background(), transfer); err != nil {
		t.Fatal(err)
	}
	return transfer
}

func TestWorker_SweepResumesStaleTransfer(t *testing.T) {
	r := newRig(t)
	staleTransfer(t, r, "tr-stale")

	w := NewWorker(r.coord, r.store, WorkerConfig{MinAge: 30 * time.Second})
	w.Sweep(context.Background())

	stored, err := r.store.Get(context.Background(), "tr-stale")
	if err != nil {
		t.Fatal(err)
	}
	if stored.State != domain.TransferDestinationReleased {
		t.Errorf("expected the sweep to finish the transfer, got %s", stored.State)
	}
	if got := r.dst.Calls("Submit"); got != 1 {
		t.Errorf("expected 1 release submit, got %d", got)
	}
}

func TestWorker_ClaimBlocksSweep(t *testing.T) {
	r := newRig(t)
	staleTransfer(t, r, "tr-claimed")

	claimed, err := r.store.Claim(context.Background(), "tr-claimed", time.Minute)
	if err != nil || !claimed {
		t.Fatalf("claim setup failed: claimed=%v err=%v", claimed, err)
	}

	w := NewWorker(r.coord, r.store, WorkerConfig{MinAge: 30 * time.Second})
	w.Sweep(context.Background())

	stored, err := r.store.Get(context.Background(), "tr-claimed")
	if err != nil {
		t.Fatal(err)
	}
	if stored.State != domain.TransferAwaitingRelay {
		t.Errorf("a claimed transfer must be left alone, got %s", stored.State)
	}
	if got := r.dst.Calls("Submit"); got != 0 {
		t.Errorf("expected no release submits, got %d", got)
	}
}

func TestWorker_SweepSkipsFreshAndTerminal(t *testing.T) {
	r := newRig(t)

	fresh := staleTransfer(t, r, "tr-fresh")
	fresh.UpdatedAt = time.Now()
	if err := r.store.Save(context.Background(), fresh); err != nil {
		t.Fatal(err)
	}

	failed := domain.NewBridgeTransfer("tr-failed", *r.crossIntent(t))
	if err := failed.TransitionTo(domain.TransferFailed, "source lock submit failed"); err != nil {
		t.Fatal(err)
	}
	failed.UpdatedAt = time.Now().Add(-time.Hour)
	if err := r.store.Save(context.Background(), failed); err != nil {
		t.Fatal(err)
	}

	w := NewWorker(r.coord, r.store, WorkerConfig{MinAge: 30 * time.Second})
	w.Sweep(context.Background())

	if got := r.dst.Calls("Submit"); got != 0 {
		t.Errorf("neither record should be resumed, got %d submits", got)
	}
	stored, _ := r.store.Get(context.Background(), "tr-failed")
	if stored.State != domain.TransferFailed {
		t.Errorf("terminal records must stay terminal, got %s", stored.State)
	}
}

func TestWorker_RunStopsOnCancel(t *testing.T) {
	r := newRig(t)
	w := NewWorker(r.coord, r.store, WorkerConfig{Interval: 5 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("expected clean shutdown, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("worker did not stop on cancel")
	}
}
