package builder

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/vietddude/apex/internal/core/domain"
	"github.com/vietddude/apex/internal/core/nonce"
	"github.com/vietddude/apex/internal/infra/cache"
	"github.com/vietddude/apex/internal/infra/chain"
	"github.com/vietddude/apex/internal/infra/chain/evm"
	"github.com/vietddude/apex/internal/infra/chain/substrate"
	"github.com/vietddude/apex/internal/signing"
)

// evmSigning is what the EVM submission path needs beyond the base
// adapter contract.
type evmSigning interface {
	NumericChainID() *big.Int
	SuggestFees(ctx context.Context) (*big.Int, *big.Int, error)
	GasLimitFor(ctx context.Context, intent *domain.TransactionIntent) (uint64, error)
}

// substrateSigning is the Substrate-side equivalent.
type substrateSigning interface {
	Runtime(ctx context.Context) (substrate.RuntimeContext, error)
}

// Submit signs and broadcasts a direct-route plan, returning the source
// chain transaction hash. The source account stays locked from nonce
// acquisition until the node accepts, and the account's cached reads are
// invalidated on every attempt that reached the node. A nonce rejection
// triggers exactly one rebuild against the node's own nonce answer; a
// second rejection surfaces to the caller.
func (b *Builder) Submit(ctx context.Context, built *BuiltTx) (domain.TxHash, error) {
	if built == nil || built.Route != RouteDirect {
		return "", fmt.Errorf("%w: only direct plans can be submitted; cross-ecosystem intents go through Execute", domain.ErrUnsupportedIntent)
	}
	intent := built.Intent

	adapter, err := b.adapterFor(intent.Source.Chain)
	if err != nil {
		return "", err
	}
	signer, err := b.signers.SignerFor(intent.Source)
	if err != nil {
		return "", err
	}
	derived, err := signer.Address(intent.Source.Chain)
	if err != nil {
		return "", err
	}
	if !derived.Equal(intent.Source.Address) {
		return "", fmt.Errorf("%w: resolved signer controls %s, not source %s",
			domain.ErrSigningUnavailable, derived, intent.Source.Address)
	}

	res, err := b.nonces.Acquire(ctx, b.nonceSource(adapter), intent.Source)
	if err != nil {
		return "", err
	}

	hash, err := b.submitOnce(ctx, adapter, signer, &intent, res.Nonce())
	if err == nil {
		res.Accepted()
		b.invalidate(intent.Source)
		return hash, nil
	}
	if !errors.Is(err, domain.ErrNonceConflict) {
		res.Abandon()
		b.invalidate(intent.Source)
		return "", err
	}

	// The node disagrees about the nonce. Drop our cached view, take the
	// node's answer with the account still locked, and resubmit once.
	b.invalidate(intent.Source)
	refreshed, rerr := res.Refresh(ctx, adapter)
	if rerr != nil {
		res.Abandon()
		return "", fmt.Errorf("nonce refresh after conflict failed: %w", rerr)
	}
	b.log.Warn("nonce conflict, resubmitting",
		"chain", intent.Source.Chain, "account", intent.Source.Address.String(), "nonce", refreshed)

	hash, err = b.submitOnce(ctx, adapter, signer, &intent, refreshed)
	if err != nil {
		res.Abandon()
		b.invalidate(intent.Source)
		return "", err
	}
	res.Accepted()
	b.invalidate(intent.Source)
	return hash, nil
}

func (b *Builder) submitOnce(ctx context.Context, adapter chain.Adapter, signer signing.Signer, intent *domain.TransactionIntent, nonceVal uint64) (domain.TxHash, error) {
	signed, err := b.sign(ctx, adapter, signer, intent, nonceVal)
	if err != nil {
		return "", err
	}
	return adapter.Submit(ctx, signed)
}

// sign produces the chain-native wire transaction at the given nonce.
func (b *Builder) sign(ctx context.Context, adapter chain.Adapter, signer signing.Signer, intent *domain.TransactionIntent, nonceVal uint64) (*domain.SignedTransaction, error) {
	switch adapter.Ecosystem() {
	case domain.EcosystemEVM:
		evmAdapter, ok := adapter.(evmSigning)
		if !ok {
			return nil, fmt.Errorf("%w: adapter for %s cannot build EVM transactions", domain.ErrUnsupportedChain, intent.Source.Chain)
		}
		feeCap, tipCap, err := evmAdapter.SuggestFees(ctx)
		if err != nil {
			return nil, err
		}
		gasLimit, err := evmAdapter.GasLimitFor(ctx, intent)
		if err != nil {
			return nil, err
		}
		return evm.BuildSignedTx(intent.Source.Chain, evmAdapter.NumericChainID(), signer, evm.TxParams{
			Nonce:     nonceVal,
			To:        intent.Destination.Address,
			Amount:    intent.Amount,
			GasLimit:  gasLimit,
			GasFeeCap: feeCap,
			GasTipCap: tipCap,
			Data:      intent.CallData,
		})

	case domain.EcosystemSubstrate:
		subAdapter, ok := adapter.(substrateSigning)
		if !ok {
			return nil, fmt.Errorf("%w: adapter for %s cannot build extrinsics", domain.ErrUnsupportedChain, intent.Source.Chain)
		}
		rt, err := subAdapter.Runtime(ctx)
		if err != nil {
			return nil, err
		}
		return substrate.BuildTransferExtrinsic(intent.Source.Chain, signer, rt, substrate.ExtrinsicParams{
			To:     intent.Destination.Address,
			Amount: intent.Amount,
			Nonce:  nonceVal,
			Tip:    b.tipFor(intent),
		})

	default:
		return nil, fmt.Errorf("%w: %s", domain.ErrUnsupportedChain, intent.Source.Chain)
	}
}

// cachedNonceSource reads nonces through the cache when one is wired.
// Refresh after a conflict goes straight to the adapter instead.
type cachedNonceSource struct {
	cache   *cache.Cache
	adapter chain.Adapter
}

func (s cachedNonceSource) Nonce(ctx context.Context, account domain.Account) (uint64, error) {
	if s.cache == nil {
		return s.adapter.Nonce(ctx, account)
	}
	v, err := s.cache.GetOrLoad(ctx, cache.NonceKey(account.Chain, account.Address), func(ctx context.Context) (any, error) {
		return s.adapter.Nonce(ctx, account)
	})
	if err != nil {
		return 0, err
	}
	n, ok := v.(uint64)
	if !ok {
		return s.adapter.Nonce(ctx, account)
	}
	return n, nil
}

func (b *Builder) nonceSource(adapter chain.Adapter) nonce.Source {
	return cachedNonceSource{cache: b.cache, adapter: adapter}
}

func (b *Builder) invalidate(account domain.Account) {
	if b.cache != nil {
		b.cache.InvalidateAccount(account.Chain, account.Address)
	}
}

// Result is the outcome of one executed intent. Direct intents carry the
// source hash and, when waited on, the receipt; bridged intents carry the
// transfer record's identifiers.
type Result struct {
	Route        Route
	SourceTxHash domain.TxHash
	DestTxHash   domain.TxHash
	TransferID   string
	Status       domain.TxStatus
	Receipt      *domain.Receipt
}

// Execute builds and submits in one step. Direct intents optionally wait
// for confirmation under policy (nil skips the wait); when the wait itself
// fails the submitted hash is still returned alongside the error, since
// cancelling a wait never retracts the transaction. Cross-ecosystem
// intents go to the bridge coordinator, whose relay completes the
// destination side asynchronously.
func (b *Builder) Execute(ctx context.Context, intent *domain.TransactionIntent, policy *domain.ConfirmPolicy) (*Result, error) {
	built, err := b.Build(ctx, intent)
	if err != nil {
		return nil, err
	}

	if built.Route == RouteBridge {
		if b.bridge == nil {
			return nil, fmt.Errorf("%w: intent spans ecosystems and no bridge is configured", domain.ErrUnsupportedIntent)
		}
		// A failed transfer still returns its record alongside the error;
		// the persisted state is what an operator recovers from.
		transfer, err := b.bridge.Initiate(ctx, &built.Intent)
		if transfer == nil {
			return nil, err
		}
		return &Result{
			Route:        RouteBridge,
			TransferID:   transfer.ID,
			SourceTxHash: transfer.SourceTxHash,
			DestTxHash:   transfer.DestTxHash,
			Status:       transferStatus(transfer),
		}, err
	}

	hash, err := b.Submit(ctx, built)
	if err != nil {
		return nil, err
	}
	result := &Result{Route: RouteDirect, SourceTxHash: hash, Status: domain.TxStatusPending}
	if policy == nil {
		return result, nil
	}

	adapter, err := b.adapterFor(intent.Source.Chain)
	if err != nil {
		return nil, err
	}
	receipt, err := adapter.WaitForConfirmation(ctx, hash, *policy)
	if err != nil {
		return result, err
	}
	result.Receipt = receipt
	result.Status = receipt.Status
	return result, nil
}

func transferStatus(tr *domain.BridgeTransfer) domain.TxStatus {
	switch tr.State {
	case domain.TransferDestinationReleased:
		return domain.TxStatusFinalized
	case domain.TransferFailed:
		return domain.TxStatusFailed
	default:
		return domain.TxStatusPending
	}
}
