package e2e

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/vietddude/apex/internal/control"
	"github.com/vietddude/apex/internal/core/config"
	"github.com/vietddude/apex/internal/core/domain"
	redisclient "github.com/vietddude/apex/internal/infra/redis"
)

// TestGracefulShutdown runs the full component set (health server, audit
// recorder, relay worker, Redis transfer store) against stub RPC endpoints
// and an embedded Redis, then takes it down cleanly. No network access is
// needed because the saved transfer is too young for the sweeper to touch.
func TestGracefulShutdown(t *testing.T) {
	srv, err := miniredis.Run()
	if err != nil {
		t.Skipf("skip: miniredis unavailable: %v", err)
	}
	t.Cleanup(srv.Close)

	cfg := control.Config{
		Port:  0,
		Redis: redisclient.Config{URL: "redis://" + srv.Addr()},
		Chains: []config.ChainConfig{
			{
				ChainID:   domain.ChainIDEthereum,
				Ecosystem: domain.EcosystemEVM,
				Providers: []config.ProviderConfig{
					{Name: "stub", URL: "http://localhost:8545"},
				},
			},
			{
				ChainID:   domain.ChainIDWestend,
				Ecosystem: domain.EcosystemSubstrate,
				Providers: []config.ProviderConfig{
					{Name: "stub", URL: "http://localhost:9944"},
				},
			},
		},
		Bridge: config.BridgeConfig{
			Gateways: []config.GatewayConfig{
				{
					Chain:   domain.ChainIDEthereum,
					Custody: "0x70997970C51812dc3A010C7d01b50e0d17dc79C8",
					Reserve: DevRecipient,
				},
				{
					Chain:   domain.ChainIDWestend,
					Custody: AliceSS58,
					Reserve: BobSS58,
				},
			},
			MaxRetries:    1,
			InitialDelay:  time.Millisecond,
			MaxDelay:      10 * time.Millisecond,
			ClaimTTL:      time.Minute,
			SweepInterval: 100 * time.Millisecond,
		},
	}

	svc, err := control.NewService(cfg)
	if err != nil {
		t.Fatalf("Failed to create service: %v", err)
	}
	if svc.Bridge() == nil {
		t.Fatal("Bridge should be enabled with gateways configured")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := svc.Start(ctx); err != nil {
		t.Fatalf("Failed to start service: %v", err)
	}

	// Persist a transfer through the Redis store while workers are running
	from, err := domain.ParseAddress(DevRecipient)
	if err != nil {
		t.Fatalf("Failed to parse sender: %v", err)
	}
	to, err := domain.ParseAddress(AliceSS58)
	if err != nil {
		t.Fatalf("Failed to parse recipient: %v", err)
	}
	transfer := domain.NewBridgeTransfer("e2e-shutdown-1", domain.TransactionIntent{
		Source:      domain.NewAccount(from, domain.ChainIDEthereum),
		Destination: domain.NewAccount(to, domain.ChainIDWestend),
		Amount:      big.NewInt(1000),
	})
	if err := svc.Transfers().Save(ctx, transfer); err != nil {
		t.Fatalf("Failed to save transfer: %v", err)
	}

	// Let the relay worker sweep a few times over the saved transfer
	time.Sleep(500 * time.Millisecond)

	got, err := svc.Transfers().Get(ctx, "e2e-shutdown-1")
	if err != nil {
		t.Fatalf("Failed to load transfer back: %v", err)
	}
	if got.State != domain.TransferInitiated {
		t.Errorf("State = %s, want %s (sweeper must not touch fresh transfers)", got.State, domain.TransferInitiated)
	}

	// Trigger shutdown
	cancel()

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer stopCancel()

	if err := svc.Stop(stopCtx); err != nil {
		t.Errorf("Stop failed: %v", err)
	}
}
