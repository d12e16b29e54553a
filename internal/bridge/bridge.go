// Package bridge sequences cross-ecosystem transfers: lock value on the
// source chain, prove the lock confirmed, then release value on the
// destination chain from a bridge-operated reserve.
//
// Every state change is persisted and emitted before the next step runs,
// so a crashed process leaves a record an operator or the relay worker
// can pick up. The one hard rule: destination value is only released
// after the source lock is provably confirmed.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	logger "log/slog"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"

	"github.com/vietddude/apex/internal/builder"
	"github.com/vietddude/apex/internal/core/domain"
	"github.com/vietddude/apex/internal/events"
	"github.com/vietddude/apex/internal/infra/chain"
	"github.com/vietddude/apex/internal/infra/storage"
	"github.com/vietddude/apex/internal/metrics"
)

// LegRunner builds and submits single-chain legs. The transaction builder
// implements this; the coordinator drives confirmation itself so the
// submitted hash is on record before any wait begins.
type LegRunner interface {
	Build(ctx context.Context, intent *domain.TransactionIntent) (*builder.BuiltTx, error)
	Submit(ctx context.Context, built *builder.BuiltTx) (domain.TxHash, error)
}

// Gateway is the pair of bridge-operated accounts on one chain: Custody
// receives locked source-side funds, Reserve pays out released funds.
type Gateway struct {
	Custody domain.Account
	Reserve domain.Account
}

// RetryConfig bounds the destination-release loop. The delay doubles per
// attempt up to MaxDelay.
type RetryConfig struct {
	MaxRetries   uint64
	InitialDelay time.Duration
	MaxDelay     time.Duration
}

// DefaultRetryConfig retries three times past the first attempt, starting
// at two seconds and capping at thirty.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:   3,
		InitialDelay: 2 * time.Second,
		MaxDelay:     30 * time.Second,
	}
}

// Config wires the coordinator's collaborators.
type Config struct {
	Legs     LegRunner
	Adapters map[domain.ChainID]chain.Adapter
	Store    storage.TransferRepository
	Emitter  events.Emitter // optional
	Gateways map[domain.ChainID]Gateway
	// Policies tunes confirmation per chain; chains absent from the map
	// use Confirm when set, the registry default otherwise.
	Policies map[domain.ChainID]domain.ConfirmPolicy
	// Confirm overrides the default policy for both legs.
	Confirm *domain.ConfirmPolicy
	Retry   RetryConfig
	// ClaimTTL fences the relay worker off a transfer the coordinator is
	// actively driving. Ten minutes when zero.
	ClaimTTL time.Duration
}

// Coordinator owns the BridgeTransfer state machine. It is the only
// writer of transfer records; the relay worker funnels back into it
// through Resume.
type Coordinator struct {
	legs     LegRunner
	adapters map[domain.ChainID]chain.Adapter
	store    storage.TransferRepository
	emitter  events.Emitter
	gateways map[domain.ChainID]Gateway
	policies map[domain.ChainID]domain.ConfirmPolicy
	confirm  *domain.ConfirmPolicy
	retry    RetryConfig
	claimTTL time.Duration
	log      logger.Logger
}

var _ builder.BridgeRouter = (*Coordinator)(nil)

func New(cfg Config) *Coordinator {
	retryCfg := cfg.Retry
	if retryCfg.InitialDelay <= 0 {
		retryCfg.InitialDelay = DefaultRetryConfig().InitialDelay
	}
	if retryCfg.MaxDelay <= 0 {
		retryCfg.MaxDelay = DefaultRetryConfig().MaxDelay
	}
	if retryCfg.MaxRetries == 0 {
		retryCfg.MaxRetries = DefaultRetryConfig().MaxRetries
	}
	claimTTL := cfg.ClaimTTL
	if claimTTL <= 0 {
		claimTTL = 10 * time.Minute
	}
	return &Coordinator{
		legs:     cfg.Legs,
		adapters: cfg.Adapters,
		store:    cfg.Store,
		emitter:  cfg.Emitter,
		gateways: cfg.Gateways,
		policies: cfg.Policies,
		confirm:  cfg.Confirm,
		retry:    retryCfg,
		claimTTL: claimTTL,
		log:      *logger.Default(),
	}
}

// Initiate opens a transfer for a cross-ecosystem intent and drives it to
// a terminal state: lock on the source chain, confirm, release on the
// destination chain. The returned record is also persisted, so a non-nil
// transfer accompanies most errors; its state says how far things got.
func (c *Coordinator) Initiate(ctx context.Context, intent *domain.TransactionIntent) (*domain.BridgeTransfer, error) {
	if intent == nil {
		return nil, fmt.Errorf("%w: nil intent", domain.ErrUnsupportedIntent)
	}
	if err := intent.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrUnsupportedIntent, err)
	}
	if !intent.CrossChain() {
		return nil, fmt.Errorf("%w: source and destination share an ecosystem", domain.ErrUnsupportedIntent)
	}
	srcGate, err := c.gatewayFor(intent.Source.Chain)
	if err != nil {
		return nil, err
	}
	if _, err := c.gatewayFor(intent.Destination.Chain); err != nil {
		return nil, err
	}

	transfer := domain.NewBridgeTransfer(uuid.NewString(), *intent)
	if err := c.store.Save(ctx, transfer); err != nil {
		return nil, fmt.Errorf("open transfer record failed: %w", err)
	}
	c.emit(ctx, transfer, "", "transfer opened")
	metrics.BridgeTransfersByState.WithLabelValues(string(transfer.State)).Inc()

	// Fence the relay worker off while this call drives the transfer. A
	// fresh ID only fails to claim when the store is unhealthy.
	if claimed, claimErr := c.store.Claim(ctx, transfer.ID, c.claimTTL); claimErr != nil || !claimed {
		c.log.Warn("transfer claim unavailable, relay may race",
			"transfer", transfer.ID, "error", claimErr)
	}
	defer c.store.ReleaseClaim(ctx, transfer.ID)

	if err := c.lockSource(ctx, transfer, intent, srcGate); err != nil {
		return transfer, err
	}
	if err := c.release(ctx, transfer); err != nil {
		return transfer, err
	}
	return transfer, nil
}

// Resume drives a transfer onward from its last persisted state. Callers
// must hold the transfer's claim; the relay worker and the admin tooling
// both take it first.
func (c *Coordinator) Resume(ctx context.Context, transfer *domain.BridgeTransfer) error {
	switch transfer.State {
	case domain.TransferDestinationReleased, domain.TransferFailed:
		return nil
	case domain.TransferAwaitingRelay:
		return c.release(ctx, transfer)
	case domain.TransferSourceLocked:
		if err := c.transition(ctx, transfer, domain.TransferAwaitingRelay, "requeued"); err != nil {
			return err
		}
		return c.release(ctx, transfer)
	case domain.TransferInitiated:
		return c.resumeInitiated(ctx, transfer)
	default:
		return fmt.Errorf("transfer %s in unknown state %q", transfer.ID, transfer.State)
	}
}

// lockSource submits the user's funds to the custody account and waits
// for confirmation. The submitted hash is persisted before the wait so an
// interrupted transfer can still prove what happened on-chain.
func (c *Coordinator) lockSource(ctx context.Context, t *domain.BridgeTransfer, intent *domain.TransactionIntent, gate Gateway) error {
	lockIntent := &domain.TransactionIntent{
		Source:      intent.Source,
		Destination: gate.Custody,
		Amount:      intent.Amount,
		GasLimit:    intent.GasLimit,
		Tip:         intent.Tip,
	}

	built, err := c.legs.Build(ctx, lockIntent)
	if err != nil {
		c.fail(ctx, t, fmt.Sprintf("source lock build failed: %v", err))
		return err
	}
	hash, err := c.legs.Submit(ctx, built)
	if err != nil {
		c.fail(ctx, t, fmt.Sprintf("source lock submit failed: %v", err))
		return err
	}
	t.SourceTxHash = hash
	if err := c.store.Save(ctx, t); err != nil {
		c.log.Warn("persist source lock hash", "transfer", t.ID, "error", err)
	}

	receipt, err := c.waitFor(ctx, t.SourceChain, hash)
	if err != nil {
		c.fail(ctx, t, fmt.Sprintf("source lock %s unconfirmed: %v", hash, err))
		return err
	}
	if receipt.Status == domain.TxStatusFailed {
		err := fmt.Errorf("source lock %s reverted in block %d", hash, receipt.BlockNumber)
		c.fail(ctx, t, err.Error())
		return err
	}

	note := fmt.Sprintf("lock %s confirmed in block %d", hash, receipt.BlockNumber)
	if err := c.transition(ctx, t, domain.TransferSourceLocked, note); err != nil {
		return err
	}
	return c.transition(ctx, t, domain.TransferAwaitingRelay, "handed to relay")
}

// release pays the recipient from the destination reserve, retrying with
// backoff while source funds sit locked. Exhausting the budget fails the
// transfer with an explicit manual-intervention reason.
func (c *Coordinator) release(ctx context.Context, t *domain.BridgeTransfer) error {
	gate, err := c.gatewayFor(t.DestChain)
	if err != nil {
		c.fail(ctx, t, err.Error())
		return err
	}
	releaseIntent, err := c.releaseIntent(t, gate)
	if err != nil {
		c.fail(ctx, t, err.Error())
		return err
	}

	backoff := retry.WithMaxRetries(c.retry.MaxRetries,
		retry.WithCappedDuration(c.retry.MaxDelay, retry.NewExponential(c.retry.InitialDelay)))

	var receipt *domain.Receipt
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		t.Attempts++
		if saveErr := c.store.Save(ctx, t); saveErr != nil {
			c.log.Warn("persist attempt count", "transfer", t.ID, "error", saveErr)
		}

		built, buildErr := c.legs.Build(ctx, releaseIntent)
		if buildErr != nil {
			return c.retryable(t, buildErr)
		}
		hash, submitErr := c.legs.Submit(ctx, built)
		if submitErr != nil {
			return c.retryable(t, submitErr)
		}
		t.DestTxHash = hash
		if saveErr := c.store.Save(ctx, t); saveErr != nil {
			c.log.Warn("persist release hash", "transfer", t.ID, "error", saveErr)
		}

		var waitErr error
		receipt, waitErr = c.waitFor(ctx, t.DestChain, hash)
		if waitErr != nil {
			return c.retryable(t, waitErr)
		}
		if receipt.Status == domain.TxStatusFailed {
			return c.retryable(t, fmt.Errorf("release %s reverted in block %d", hash, receipt.BlockNumber))
		}
		return nil
	})
	if err != nil {
		c.fail(ctx, t, fmt.Sprintf("%v after %d attempts: %v", domain.ErrTransferStuck, t.Attempts, err))
		return fmt.Errorf("%w: destination release: %w", domain.ErrTransferStuck, err)
	}

	note := fmt.Sprintf("release %s confirmed in block %d", t.DestTxHash, receipt.BlockNumber)
	if err := c.transition(ctx, t, domain.TransferDestinationReleased, note); err != nil {
		return err
	}
	metrics.BridgeTransferDuration.Observe(time.Since(t.CreatedAt).Seconds())
	return nil
}

// resumeInitiated re-establishes whether an interrupted source lock made
// it on-chain. Without a recorded hash nothing is provable, and value is
// never released on evidence weaker than a confirmed lock.
func (c *Coordinator) resumeInitiated(ctx context.Context, t *domain.BridgeTransfer) error {
	if t.SourceTxHash == "" {
		err := errors.New("interrupted before the source lock was submitted")
		c.fail(ctx, t, err.Error())
		return err
	}
	receipt, err := c.waitFor(ctx, t.SourceChain, t.SourceTxHash)
	if err != nil {
		c.fail(ctx, t, fmt.Sprintf("source lock %s unconfirmed after resume: %v", t.SourceTxHash, err))
		return err
	}
	if receipt.Status == domain.TxStatusFailed {
		err := fmt.Errorf("source lock %s reverted", t.SourceTxHash)
		c.fail(ctx, t, err.Error())
		return err
	}

	note := fmt.Sprintf("lock %s confirmed after resume", t.SourceTxHash)
	if err := c.transition(ctx, t, domain.TransferSourceLocked, note); err != nil {
		return err
	}
	if err := c.transition(ctx, t, domain.TransferAwaitingRelay, "handed to relay"); err != nil {
		return err
	}
	return c.release(ctx, t)
}

// retryable wraps transient leg errors for another attempt; intent,
// format, chain and signing errors stop the loop since no retry fixes
// them.
func (c *Coordinator) retryable(t *domain.BridgeTransfer, err error) error {
	if errors.Is(err, domain.ErrUnsupportedIntent) ||
		errors.Is(err, domain.ErrInvalidFormat) ||
		errors.Is(err, domain.ErrUnsupportedChain) ||
		errors.Is(err, domain.ErrSigningUnavailable) {
		return err
	}
	c.log.Warn("destination release attempt failed",
		"transfer", t.ID, "attempt", t.Attempts, "error", err)
	return retry.RetryableError(err)
}

func (c *Coordinator) releaseIntent(t *domain.BridgeTransfer, gate Gateway) (*domain.TransactionIntent, error) {
	destAddr, err := domain.ParseAddressFor(t.DestAddress, domain.EcosystemOf(t.DestChain))
	if err != nil {
		return nil, fmt.Errorf("transfer %s destination address: %w", t.ID, err)
	}
	amount, ok := new(big.Int).SetString(t.Amount, 10)
	if !ok {
		return nil, fmt.Errorf("transfer %s amount %q unparseable", t.ID, t.Amount)
	}
	return &domain.TransactionIntent{
		Source:      gate.Reserve,
		Destination: domain.NewAccount(destAddr, t.DestChain),
		Amount:      amount,
	}, nil
}

func (c *Coordinator) waitFor(ctx context.Context, chainID domain.ChainID, hash domain.TxHash) (*domain.Receipt, error) {
	adapter, ok := c.adapters[chainID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrUnsupportedChain, chainID)
	}
	return adapter.WaitForConfirmation(ctx, hash, c.policyFor(chainID))
}

func (c *Coordinator) gatewayFor(chainID domain.ChainID) (Gateway, error) {
	gate, ok := c.gateways[chainID]
	if !ok {
		return Gateway{}, fmt.Errorf("%w: no bridge gateway on %s", domain.ErrUnsupportedChain, chainID)
	}
	return gate, nil
}

func (c *Coordinator) policyFor(chainID domain.ChainID) domain.ConfirmPolicy {
	if p, ok := c.policies[chainID]; ok {
		return p
	}
	if c.confirm != nil {
		return *c.confirm
	}
	return domain.DefaultConfirmPolicy(chainID)
}

// transition applies one state change, persisting and emitting it before
// the caller proceeds.
func (c *Coordinator) transition(ctx context.Context, t *domain.BridgeTransfer, to domain.TransferState, note string) error {
	from := t.State
	if err := t.TransitionTo(to, note); err != nil {
		return err
	}
	if err := c.store.Save(ctx, t); err != nil {
		return fmt.Errorf("persist %s transition failed: %w", to, err)
	}
	c.emit(ctx, t, from, note)
	metrics.BridgeTransfersByState.WithLabelValues(string(to)).Inc()
	return nil
}

// fail moves the transfer to Failed. Persistence problems are logged
// rather than returned so a store outage cannot mask the original error.
func (c *Coordinator) fail(ctx context.Context, t *domain.BridgeTransfer, note string) {
	from := t.State
	if err := t.TransitionTo(domain.TransferFailed, note); err != nil {
		c.log.Error("fail transition rejected", "transfer", t.ID, "error", err)
		return
	}
	if err := c.store.Save(ctx, t); err != nil {
		c.log.Error("persist failed state", "transfer", t.ID, "error", err)
	}
	c.emit(ctx, t, from, note)
	metrics.BridgeTransfersByState.WithLabelValues(string(domain.TransferFailed)).Inc()
}

func (c *Coordinator) emit(ctx context.Context, t *domain.BridgeTransfer, from domain.TransferState, note string) {
	if c.emitter == nil {
		return
	}
	ev := &domain.Event{
		ID:         uuid.NewString(),
		Type:       domain.EventTypeTransferTransition,
		ChainID:    t.SourceChain,
		TransferID: t.ID,
		Address:    t.SourceAddress,
		EmittedAt:  time.Now().UTC(),
		Metadata: map[string]any{
			"from":     string(from),
			"to":       string(t.State),
			"note":     note,
			"attempts": t.Attempts,
		},
	}
	if t.SourceTxHash != "" {
		ev.Metadata["source_tx"] = string(t.SourceTxHash)
	}
	if t.DestTxHash != "" {
		ev.Metadata["dest_tx"] = string(t.DestTxHash)
	}
	if err := c.emitter.Emit(ctx, ev); err != nil {
		c.log.Warn("transfer event emit failed", "transfer", t.ID, "error", err)
	}
}
