// Package builder turns chain-agnostic intents into chain-native
// transactions and drives their submission.
//
// Build is a pure transformation: it validates the intent, resolves the
// route, and prices it, with no submission side effect. Submit is the
// explicit second step, so callers can inspect a plan before anything
// irrevocable happens. Execute chains the two; intents that span
// ecosystems are handed to the bridge coordinator instead of producing a
// single transaction.
package builder

import (
	"context"
	"fmt"
	"math/big"

	logger "log/slog"

	"github.com/vietddude/apex/internal/core/domain"
	"github.com/vietddude/apex/internal/core/nonce"
	"github.com/vietddude/apex/internal/infra/cache"
	"github.com/vietddude/apex/internal/infra/chain"
	"github.com/vietddude/apex/internal/signing"
)

// Route tells how an intent reaches its destination.
type Route string

const (
	// RouteDirect submits one transaction on the source chain.
	RouteDirect Route = "direct"
	// RouteBridge hands the intent to the bridge coordinator.
	RouteBridge Route = "bridge"
)

// FeeConfig is the safety margin applied on top of adapter estimates.
type FeeConfig struct {
	// Multiplier scales the adapter's raw estimate; 1.2 when zero.
	Multiplier float64
	// MaxFee fails the build when the scaled estimate exceeds it.
	MaxFee *big.Int
	// Tip is attached to Substrate transactions and their estimates
	// unless the intent carries its own.
	Tip *big.Int
}

// DefaultFeeConfig returns the standard 20% safety margin, no cap, no tip.
func DefaultFeeConfig() FeeConfig {
	return FeeConfig{Multiplier: 1.2}
}

// SignerResolver maps an account to the signer holding its key.
type SignerResolver interface {
	SignerFor(account domain.Account) (signing.Signer, error)
}

// BridgeRouter accepts intents that span ecosystems. The bridge
// coordinator implements this.
type BridgeRouter interface {
	Initiate(ctx context.Context, intent *domain.TransactionIntent) (*domain.BridgeTransfer, error)
}

// Config wires the builder's collaborators.
type Config struct {
	Adapters map[domain.ChainID]chain.Adapter
	Signers  SignerResolver
	Nonces   *nonce.Manager
	Cache    *cache.Cache // optional read-through cache for nonce fetches
	Bridge   BridgeRouter // optional; cross-ecosystem intents fail without it
	Fees     FeeConfig
}

// Builder converts intents into signed transactions. Safe for concurrent
// use; per-account submission order is enforced through the nonce manager.
type Builder struct {
	adapters map[domain.ChainID]chain.Adapter
	signers  SignerResolver
	nonces   *nonce.Manager
	cache    *cache.Cache
	bridge   BridgeRouter
	fees     FeeConfig
	log      logger.Logger
}

func New(cfg Config) *Builder {
	fees := cfg.Fees
	if fees.Multiplier <= 0 {
		fees.Multiplier = DefaultFeeConfig().Multiplier
	}
	nonces := cfg.Nonces
	if nonces == nil {
		nonces = nonce.NewManager()
	}
	return &Builder{
		adapters: cfg.Adapters,
		signers:  cfg.Signers,
		nonces:   nonces,
		cache:    cfg.Cache,
		bridge:   cfg.Bridge,
		fees:     fees,
		log:      *logger.Default(),
	}
}

// SetBridge installs the cross-ecosystem router. The builder and the
// coordinator reference each other, so the composition root constructs
// the builder first and closes the loop here before serving traffic.
func (b *Builder) SetBridge(router BridgeRouter) {
	b.bridge = router
}

// BuiltTx is a priced, validated plan for one intent. The nonce is not
// part of the plan: it is resolved under the account lock at submit time.
type BuiltTx struct {
	Intent domain.TransactionIntent
	Route  Route
	// EstimatedFee carries the safety multiplier and, on Substrate, the
	// tip. Nil for bridge-routed intents, which are priced per leg by
	// the coordinator.
	EstimatedFee *big.Int
}

// Build validates and prices an intent. Same-ecosystem intents become a
// direct plan for the source chain's adapter; differing ecosystems are
// marked for the bridge and no single transaction is built.
func (b *Builder) Build(ctx context.Context, intent *domain.TransactionIntent) (*BuiltTx, error) {
	if intent == nil {
		return nil, fmt.Errorf("%w: nil intent", domain.ErrUnsupportedIntent)
	}
	if err := intent.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrUnsupportedIntent, err)
	}
	if err := checkAddressEcosystems(intent); err != nil {
		return nil, err
	}

	if intent.CrossChain() {
		return &BuiltTx{Intent: *intent, Route: RouteBridge}, nil
	}

	adapter, err := b.adapterFor(intent.Source.Chain)
	if err != nil {
		return nil, err
	}
	if intent.Source.Ecosystem() == domain.EcosystemSubstrate && len(intent.CallData) > 0 {
		return nil, fmt.Errorf("%w: substrate side supports balance transfers only, not arbitrary calls", domain.ErrUnsupportedIntent)
	}

	fee, err := b.priceIntent(ctx, adapter, intent)
	if err != nil {
		return nil, err
	}
	return &BuiltTx{Intent: *intent, Route: RouteDirect, EstimatedFee: fee}, nil
}

func (b *Builder) adapterFor(chainID domain.ChainID) (chain.Adapter, error) {
	adapter, ok := b.adapters[chainID]
	if !ok {
		return nil, fmt.Errorf("%w: no adapter registered for %s", domain.ErrUnsupportedChain, chainID)
	}
	return adapter, nil
}

// checkAddressEcosystems rejects intents whose addresses cannot exist on
// their chain, catching swapped fields before any network traffic.
func checkAddressEcosystems(intent *domain.TransactionIntent) error {
	if got, want := intent.Source.Address.Ecosystem(), intent.Source.Ecosystem(); got != want {
		return fmt.Errorf("%w: source address is %s but chain %s is %s",
			domain.ErrInvalidFormat, got, intent.Source.Chain, want)
	}
	if got, want := intent.Destination.Address.Ecosystem(), intent.Destination.Ecosystem(); got != want {
		return fmt.Errorf("%w: destination address is %s but chain %s is %s",
			domain.ErrInvalidFormat, got, intent.Destination.Chain, want)
	}
	return nil
}

// priceIntent applies the fee policy to the adapter's raw estimate. The
// cap is checked before the tip, matching how operators reason about it:
// the cap bounds what the chain charges, the tip is a deliberate extra.
func (b *Builder) priceIntent(ctx context.Context, adapter chain.Adapter, intent *domain.TransactionIntent) (*big.Int, error) {
	base, err := adapter.EstimateFee(ctx, intent)
	if err != nil {
		return nil, err
	}
	fee := scaleFee(base, b.fees.Multiplier)
	if b.fees.MaxFee != nil && fee.Cmp(b.fees.MaxFee) > 0 {
		return nil, fmt.Errorf("estimated fee %s exceeds maximum %s", fee, b.fees.MaxFee)
	}
	if tip := b.tipFor(intent); tip != nil {
		fee = new(big.Int).Add(fee, tip)
	}
	return fee, nil
}

// scaleFee applies the multiplier at millis precision, staying in integer
// space for arbitrary-size fees.
func scaleFee(base *big.Int, multiplier float64) *big.Int {
	scaled := new(big.Int).Mul(base, big.NewInt(int64(multiplier*1000)))
	return scaled.Div(scaled, big.NewInt(1000))
}

func (b *Builder) tipFor(intent *domain.TransactionIntent) *big.Int {
	if intent.Source.Ecosystem() != domain.EcosystemSubstrate {
		return nil
	}
	if intent.Tip != nil {
		return intent.Tip
	}
	return b.fees.Tip
}
