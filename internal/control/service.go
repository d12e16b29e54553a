// Package control composes the SDK into a running process: storage, RPC
// transport, chain adapters, the transaction builder, and the bridge with
// its relay worker and audit recorder.
package control

import (
	"context"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"
	"time"

	logger "log/slog"

	"github.com/pressly/goose/v3"

	"github.com/vietddude/apex/internal/bridge"
	"github.com/vietddude/apex/internal/builder"
	"github.com/vietddude/apex/internal/core/config"
	"github.com/vietddude/apex/internal/core/domain"
	"github.com/vietddude/apex/internal/core/nonce"
	"github.com/vietddude/apex/internal/core/worker"
	"github.com/vietddude/apex/internal/events"
	"github.com/vietddude/apex/internal/health"
	"github.com/vietddude/apex/internal/infra/cache"
	"github.com/vietddude/apex/internal/infra/chain"
	"github.com/vietddude/apex/internal/infra/chain/evm"
	"github.com/vietddude/apex/internal/infra/chain/substrate"
	redisclient "github.com/vietddude/apex/internal/infra/redis"
	"github.com/vietddude/apex/internal/infra/rpc"
	"github.com/vietddude/apex/internal/infra/storage"
	"github.com/vietddude/apex/internal/infra/storage/memory"
	"github.com/vietddude/apex/internal/infra/storage/postgres"
	"github.com/vietddude/apex/internal/signing"
)

// Config holds the application configuration.
type Config struct {
	Port      int
	Chains    []config.ChainConfig
	Fees      config.FeeConfig
	Bridge    config.BridgeConfig
	Signing   config.SigningConfig
	Cache     config.CacheConfig
	Budget    rpc.BudgetConfig
	Retention config.RetentionConfig
	Redis     redisclient.Config
	Database  postgres.Config
}

// Service owns every long-lived component and their lifecycles.
type Service struct {
	cfg       Config
	bus       *events.Bus
	builder   *builder.Builder
	coord     *bridge.Coordinator
	relay     *bridge.Worker
	recorder  *bridge.Recorder
	pruner    *worker.Pruner
	keyring   *signing.Keyring
	adapters  map[domain.ChainID]chain.Adapter
	transfers storage.TransferRepository
	history   storage.TransferHistoryRepository
	wallets   storage.WalletRepository
	healthMon *health.Monitor
	healthSrv *health.Server
	db        *postgres.DB
	redis     *redisclient.Client
	log       logger.Logger
}

// NewService creates a Service with all dependencies initialized.
func NewService(cfg Config) (*Service, error) {
	ctx := context.Background()
	log := *logger.Default()

	// 1. Storage
	st, err := openStores(ctx, cfg)
	if err != nil {
		return nil, err
	}

	// 2. Event bus and audit recorder
	bus := events.NewBus()
	recorder := bridge.NewRecorder(bus, st.history)

	// 3. RPC transport and chain adapters
	allocation := make(map[domain.ChainID]float64)
	for _, c := range cfg.Chains {
		allocation[c.ChainID] = 1.0 / float64(len(cfg.Chains))
	}
	if len(cfg.Chains) == 0 {
		allocation["default"] = 1.0
	}
	quota := cfg.Budget.DailyQuota
	if quota == 0 {
		quota = 10000
	}
	budgetTracker := rpc.NewBudgetTracker(quota, allocation)

	adapters := make(map[domain.ChainID]chain.Adapter)
	policies := make(map[domain.ChainID]domain.ConfirmPolicy)
	for _, chainCfg := range cfg.Chains {
		router := rpc.NewRouter(budgetTracker)
		for _, p := range chainCfg.Providers {
			prov := rpc.NewHTTPProvider(p.Name, p.URL, 10*time.Second)
			if p.DailyQuota > 0 {
				prov.Monitor.SetDailyLimit(p.DailyQuota)
				budgetTracker.SetProviderAllocation(chainCfg.ChainID, p.Name, p.DailyQuota)
			}
			router.AddProvider(chainCfg.ChainID, prov)
		}
		client := rpc.NewClient(chainCfg.ChainID, router, budgetTracker)

		eco := chainCfg.Ecosystem
		if eco == "" {
			eco = domain.EcosystemOf(chainCfg.ChainID)
		}
		var adapter chain.Adapter
		switch eco {
		case domain.EcosystemSubstrate:
			adapter, err = substrate.NewSubstrateAdapter(chainCfg.ChainID, client, bus)
		default:
			adapter, err = evm.NewEVMAdapter(chainCfg.ChainID, client, bus)
		}
		if err != nil {
			return nil, fmt.Errorf("chain %s: %w", chainCfg.ChainID, err)
		}
		adapters[chainCfg.ChainID] = adapter

		policy := domain.DefaultConfirmPolicy(chainCfg.ChainID)
		if chainCfg.FinalityDepth > 0 {
			policy.Depth = chainCfg.FinalityDepth
		}
		if chainCfg.ConfirmTimeout > 0 {
			policy.Timeout = chainCfg.ConfirmTimeout
		}
		if chainCfg.PollInterval > 0 {
			policy.PollInterval = chainCfg.PollInterval
		}
		policies[chainCfg.ChainID] = policy
	}

	// 4. Signing keys
	keyring, err := loadKeyring(cfg.Signing)
	if err != nil {
		return nil, err
	}
	log.Info("Signing keys loaded", "count", keyring.Len())

	// 5. Transaction builder
	fees, err := builderFees(cfg.Fees)
	if err != nil {
		return nil, err
	}
	txBuilder := builder.New(builder.Config{
		Adapters: adapters,
		Signers:  keyring,
		Nonces:   nonce.NewManager(),
		Cache:    cache.New(cacheConfig(cfg.Cache)),
		Fees:     fees,
	})

	// 6. Bridge coordinator and relay worker
	var coord *bridge.Coordinator
	var relay *bridge.Worker
	if len(cfg.Bridge.Gateways) > 0 {
		gateways, err := loadGateways(cfg.Bridge.Gateways)
		if err != nil {
			return nil, err
		}
		coord = bridge.New(bridge.Config{
			Legs:     txBuilder,
			Adapters: adapters,
			Store:    st.transfers,
			Emitter:  bus,
			Gateways: gateways,
			Policies: policies,
			Retry: bridge.RetryConfig{
				MaxRetries:   cfg.Bridge.MaxRetries,
				InitialDelay: cfg.Bridge.InitialDelay,
				MaxDelay:     cfg.Bridge.MaxDelay,
			},
			ClaimTTL: cfg.Bridge.ClaimTTL,
		})
		// The builder and the coordinator reference each other; close the
		// loop before any traffic.
		txBuilder.SetBridge(coord)
		relay = bridge.NewWorker(coord, st.transfers, bridge.WorkerConfig{
			Interval: cfg.Bridge.SweepInterval,
			ClaimTTL: cfg.Bridge.ClaimTTL,
		})
		log.Info("Bridge enabled", "gateways", len(gateways))
	} else {
		log.Info("No bridge gateways configured, cross-chain transfers disabled")
	}

	// 7. Retention
	var pruner *worker.Pruner
	if cfg.Retention.Transfers > 0 || cfg.Retention.History > 0 {
		pruner = worker.NewPruner(worker.PrunerConfig{
			TransferRetention: cfg.Retention.Transfers,
			HistoryRetention:  cfg.Retention.History,
		}, st.transfers, st.history)
	}

	// 8. Health surface
	healthMon := health.NewMonitor(adapters, st.transfers)
	if st.db != nil {
		healthMon.AddDependency("postgres", st.db.Health)
	}
	if st.redis != nil {
		healthMon.AddDependency("redis", st.redis.Ping)
	}
	healthSrv := health.NewServer(healthMon, cfg.Port)

	if wallets, err := st.wallets.GetAll(ctx); err != nil {
		log.Warn("Failed to load wallet registry", "error", err)
	} else if len(wallets) > 0 {
		log.Info("Wallet registry loaded", "count", len(wallets))
	}

	return &Service{
		cfg:       cfg,
		bus:       bus,
		builder:   txBuilder,
		coord:     coord,
		relay:     relay,
		recorder:  recorder,
		pruner:    pruner,
		keyring:   keyring,
		adapters:  adapters,
		transfers: st.transfers,
		history:   st.history,
		wallets:   st.wallets,
		healthMon: healthMon,
		healthSrv: healthSrv,
		db:        st.db,
		redis:     st.redis,
		log:       log,
	}, nil
}

// Start launches the background components and returns immediately. The
// context governs every goroutine's lifetime.
func (s *Service) Start(ctx context.Context) error {
	go func() {
		if err := s.healthSrv.Start(); err != nil {
			s.log.Error("Health server failed", "error", err)
		}
	}()

	if s.db != nil {
		s.db.StartMetricsCollector(ctx)
	}

	go func() {
		if err := s.recorder.Run(ctx); err != nil {
			s.log.Error("Transition recorder failed", "error", err)
		}
	}()

	if s.relay != nil {
		go func() {
			if err := s.relay.Run(ctx); err != nil {
				s.log.Error("Relay worker failed", "error", err)
			}
		}()
	}

	if s.pruner != nil {
		go s.pruner.Start(ctx)
	}

	s.log.Info("Service started", "chains", len(s.adapters), "bridge", s.coord != nil)
	return nil
}

// Stop shuts the service down. Callers cancel the Start context first so
// the workers are already winding down when the bus closes.
func (s *Service) Stop(ctx context.Context) error {
	s.log.Info("Stopping service...")

	s.bus.Close()

	if s.redis != nil {
		if err := s.redis.Close(); err != nil {
			s.log.Warn("Failed to close Redis", "error", err)
		}
	}
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			s.log.Warn("Failed to close database", "error", err)
		}
	}

	return s.healthSrv.Stop(ctx)
}

// Builder exposes the transaction builder for embedding callers.
func (s *Service) Builder() *builder.Builder { return s.builder }

// Bridge exposes the coordinator; nil when no gateways are configured.
func (s *Service) Bridge() *bridge.Coordinator { return s.coord }

// Transfers exposes the transfer store.
func (s *Service) Transfers() storage.TransferRepository { return s.transfers }

// History exposes the transition log.
func (s *Service) History() storage.TransferHistoryRepository { return s.history }

// Wallets exposes the wallet registry.
func (s *Service) Wallets() storage.WalletRepository { return s.wallets }

// Monitor exposes the health monitor.
func (s *Service) Monitor() *health.Monitor { return s.healthMon }

type stores struct {
	transfers storage.TransferRepository
	history   storage.TransferHistoryRepository
	wallets   storage.WalletRepository
	db        *postgres.DB
	redis     *redisclient.Client
}

// openStores picks the persistence backend: postgres when a database URL
// is configured, redis as the lighter durable option, memory otherwise.
// Redis mode keeps the transfer state machine durable but the transition
// log and wallet registry stay per-process.
func openStores(ctx context.Context, cfg Config) (*stores, error) {
	log := logger.Default()

	switch {
	case cfg.Database.URL != "":
		db, err := postgres.NewDB(ctx, cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("failed to init db: %w", err)
		}
		if err := goose.SetDialect("postgres"); err != nil {
			return nil, err
		}
		migrations := cfg.Database.MigrationsDir
		if migrations == "" {
			// Relative to the working directory.
			migrations = "migrations"
		}
		if err := goose.Up(db.DB.DB, migrations); err != nil {
			return nil, fmt.Errorf("failed to migrate db: %w", err)
		}
		log.Info("Using PostgreSQL storage")
		return &stores{
			transfers: postgres.NewTransferRepo(db),
			history:   postgres.NewHistoryRepo(db),
			wallets:   postgres.NewWalletRepo(db),
			db:        db,
		}, nil

	case cfg.Redis.URL != "":
		client, err := redisclient.NewClient(cfg.Redis)
		if err != nil {
			return nil, fmt.Errorf("failed to init redis: %w", err)
		}
		mem := memory.NewMemoryStorage()
		log.Info("Using Redis transfer store")
		return &stores{
			transfers: redisclient.NewTransferStore(client),
			history:   memory.NewHistoryRepo(mem),
			wallets:   memory.NewWalletRepo(mem),
			redis:     client,
		}, nil

	default:
		mem := memory.NewMemoryStorage()
		log.Info("Using Memory storage")
		return &stores{
			transfers: memory.NewTransferRepo(mem),
			history:   memory.NewHistoryRepo(mem),
			wallets:   memory.NewWalletRepo(mem),
		}, nil
	}
}

// loadKeyring builds signers from explicit seeds and mnemonic paths.
func loadKeyring(cfg config.SigningConfig) (*signing.Keyring, error) {
	keyring := signing.NewKeyring()
	var wallet *signing.Wallet

	for _, key := range cfg.Keys {
		scheme, err := domain.ParseScheme(key.Scheme)
		if err != nil {
			return nil, fmt.Errorf("key %q: %w", key.Name, err)
		}

		var signer signing.Signer
		if key.Seed != "" {
			raw, err := hex.DecodeString(strings.TrimPrefix(key.Seed, "0x"))
			if err != nil {
				return nil, fmt.Errorf("key %q: seed is not hex: %w", key.Name, err)
			}
			signer, err = signerFromSeed(scheme, raw)
			if err != nil {
				return nil, fmt.Errorf("key %q: %w", key.Name, err)
			}
		} else {
			if cfg.Mnemonic == "" {
				return nil, fmt.Errorf("key %q: no seed and no mnemonic to derive from", key.Name)
			}
			if wallet == nil {
				wallet, err = signing.NewWalletFromMnemonic(cfg.Mnemonic)
				if err != nil {
					return nil, err
				}
			}
			signer, err = wallet.Signer(scheme, key.Path)
			if err != nil {
				return nil, fmt.Errorf("key %q: %w", key.Name, err)
			}
		}

		if err := keyring.Add(signer, key.Chains...); err != nil {
			return nil, fmt.Errorf("key %q: %w", key.Name, err)
		}
	}
	return keyring, nil
}

func signerFromSeed(scheme domain.SignatureScheme, raw []byte) (signing.Signer, error) {
	switch scheme {
	case domain.SchemeECDSA:
		return signing.NewECDSASignerFromBytes(raw)
	case domain.SchemeSr25519:
		return signing.NewSr25519Signer(raw)
	case domain.SchemeEd25519:
		return signing.NewEd25519Signer(raw)
	}
	return nil, fmt.Errorf("%w: scheme %q", domain.ErrUnsupportedChain, scheme)
}

// loadGateways parses the configured custody and reserve accounts.
func loadGateways(cfgs []config.GatewayConfig) (map[domain.ChainID]bridge.Gateway, error) {
	gateways := make(map[domain.ChainID]bridge.Gateway, len(cfgs))
	for _, g := range cfgs {
		eco := domain.EcosystemOf(g.Chain)
		custody, err := domain.ParseAddressFor(g.Custody, eco)
		if err != nil {
			return nil, fmt.Errorf("gateway %s custody: %w", g.Chain, err)
		}
		reserve, err := domain.ParseAddressFor(g.Reserve, eco)
		if err != nil {
			return nil, fmt.Errorf("gateway %s reserve: %w", g.Chain, err)
		}
		gateways[g.Chain] = bridge.Gateway{
			Custody: domain.NewAccount(custody, g.Chain),
			Reserve: domain.NewAccount(reserve, g.Chain),
		}
	}
	return gateways, nil
}

func builderFees(cfg config.FeeConfig) (builder.FeeConfig, error) {
	fees := builder.FeeConfig{Multiplier: cfg.Multiplier}
	if cfg.MaxFee != "" {
		v, ok := new(big.Int).SetString(cfg.MaxFee, 10)
		if !ok {
			return fees, fmt.Errorf("fees: max_fee %q is not a decimal amount", cfg.MaxFee)
		}
		fees.MaxFee = v
	}
	if cfg.Tip != "" {
		v, ok := new(big.Int).SetString(cfg.Tip, 10)
		if !ok {
			return fees, fmt.Errorf("fees: tip %q is not a decimal amount", cfg.Tip)
		}
		fees.Tip = v
	}
	return fees, nil
}

func cacheConfig(cfg config.CacheConfig) cache.Config {
	out := cache.DefaultConfig()
	if cfg.Capacity > 0 {
		out.Capacity = cfg.Capacity
	}
	if cfg.BalanceTTL > 0 {
		out.BalanceTTL = cfg.BalanceTTL
	}
	if cfg.NonceTTL > 0 {
		out.NonceTTL = cfg.NonceTTL
	}
	if cfg.TxStatusTTL > 0 {
		out.TxStatusTTL = cfg.TxStatusTTL
	}
	if cfg.BlockTTL > 0 {
		out.BlockTTL = cfg.BlockTTL
	}
	return out
}
