package control

import (
	"context"
	"testing"
	"time"

	"github.com/vietddude/apex/internal/core/config"
	"github.com/vietddude/apex/internal/core/domain"
)

const (
	reserveKeyHex = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"
	devPhrase     = "bottom drive obey lake curtain smoke basket hold race lonely fit walk"
)

func bridgedConfig() Config {
	return Config{
		Port: 0, // Random port
		Chains: []config.ChainConfig{
			{
				ChainID:   domain.ChainIDEthereum,
				Ecosystem: domain.EcosystemEVM,
				Providers: []config.ProviderConfig{{Name: "test", URL: "http://localhost:8545"}},
			},
			{
				ChainID:   domain.ChainIDWestend,
				Ecosystem: domain.EcosystemSubstrate,
				Providers: []config.ProviderConfig{{Name: "test", URL: "http://localhost:9944"}},
			},
		},
		Signing: config.SigningConfig{
			Mnemonic: devPhrase,
			Keys: []config.KeyConfig{
				{Name: "reserve-evm", Scheme: "ecdsa", Seed: reserveKeyHex},
				{Name: "reserve-wnd", Scheme: "sr25519", Path: "//Alice"},
			},
		},
		Bridge: config.BridgeConfig{
			Gateways: []config.GatewayConfig{
				{
					Chain:   domain.ChainIDEthereum,
					Custody: "0x70997970C51812dc3A010C7d01b50e0d17dc79C8",
					Reserve: "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266",
				},
				{
					Chain:   domain.ChainIDWestend,
					Custody: "5GrwvaEF5zXb26Fz9rcQpDWS57CtERHpNehXCPcNoHGKutQY",
					Reserve: "5GrwvaEF5zXb26Fz9rcQpDWS57CtERHpNehXCPcNoHGKutQY",
				},
			},
			MaxRetries:    1,
			InitialDelay:  time.Millisecond,
			MaxDelay:      2 * time.Millisecond,
			SweepInterval: 50 * time.Millisecond,
		},
	}
}

func TestService_Lifecycle(t *testing.T) {
	s, err := NewService(bridgedConfig())
	if err != nil {
		t.Fatalf("NewService failed: %v", err)
	}

	if len(s.adapters) != 2 {
		t.Errorf("expected 2 adapters, got %d", len(s.adapters))
	}
	if s.Bridge() == nil {
		t.Error("expected bridge coordinator with gateways configured")
	}
	if s.relay == nil {
		t.Error("expected relay worker with gateways configured")
	}
	if s.keyring.Len() != 2 {
		t.Errorf("expected 2 signing keys, got %d", s.keyring.Len())
	}
	if s.Builder() == nil || s.Transfers() == nil || s.History() == nil {
		t.Fatal("core components missing")
	}

	ctx, cancel := context.WithCancel(context.Background())
	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	// Let goroutines spin up; RPC endpoints are dummies, nothing should
	// crash without traffic.
	time.Sleep(50 * time.Millisecond)
	cancel()

	stopCtx, stopCancel := context.WithTimeout(context.Background(), time.Second)
	defer stopCancel()
	if err := s.Stop(stopCtx); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
}

func TestService_BridgeDisabledWithoutGateways(t *testing.T) {
	cfg := bridgedConfig()
	cfg.Bridge.Gateways = nil

	s, err := NewService(cfg)
	if err != nil {
		t.Fatalf("NewService failed: %v", err)
	}
	if s.Bridge() != nil {
		t.Error("expected nil coordinator without gateways")
	}
	if s.relay != nil {
		t.Error("expected no relay worker without gateways")
	}
	if s.Builder() == nil {
		t.Error("single-chain builder must still work")
	}
}

func TestService_RejectsGatewayAddressFromWrongEcosystem(t *testing.T) {
	cfg := bridgedConfig()
	// Substrate address on an EVM chain.
	cfg.Bridge.Gateways[0].Custody = "5GrwvaEF5zXb26Fz9rcQpDWS57CtERHpNehXCPcNoHGKutQY"

	if _, err := NewService(cfg); err == nil {
		t.Fatal("expected gateway address parse failure")
	}
}

func TestService_RejectsUnknownSigningScheme(t *testing.T) {
	cfg := bridgedConfig()
	cfg.Signing.Keys = []config.KeyConfig{{Name: "bad", Scheme: "rsa", Seed: reserveKeyHex}}

	if _, err := NewService(cfg); err == nil {
		t.Fatal("expected unknown scheme error")
	}
}

func TestService_RequiresKeySourceMaterial(t *testing.T) {
	cfg := bridgedConfig()
	cfg.Signing.Mnemonic = ""
	cfg.Signing.Keys = []config.KeyConfig{{Name: "floating", Scheme: "sr25519", Path: "//Alice"}}

	if _, err := NewService(cfg); err == nil {
		t.Fatal("expected error for key with neither seed nor mnemonic")
	}
}
