package chain

import (
	"context"
	"math/big"

	"github.com/vietddude/apex/internal/core/domain"
	"github.com/vietddude/apex/internal/events"
)

// Adapter is the chain-level execution interface.
// This is the boundary between the chain-agnostic core and chain-specific
// encoding: EVM and Substrate implementations share the contract and
// diverge only in how they talk to their node.
type Adapter interface {
	// ChainID returns the chain this adapter serves
	ChainID() domain.ChainID

	// Ecosystem returns the chain's ecosystem
	Ecosystem() domain.Ecosystem

	// LatestBlock returns the current chain head
	LatestBlock(ctx context.Context) (*domain.Block, error)

	// Balance returns the spendable balance of the account in base units
	Balance(ctx context.Context, account domain.Account) (*big.Int, error)

	// Nonce returns the next valid nonce for the account, read from the
	// chain (the account's advisory nonce is never trusted here)
	Nonce(ctx context.Context, account domain.Account) (uint64, error)

	// Submit broadcasts a fully signed transaction and returns its hash.
	// Fails with domain.ErrInsufficientFunds, domain.ErrNonceConflict or
	// a NodeError carrying the node's raw rejection reason.
	Submit(ctx context.Context, tx *domain.SignedTransaction) (domain.TxHash, error)

	// TxStatus reports the current lifecycle state of a transaction
	TxStatus(ctx context.Context, hash domain.TxHash) (*domain.Receipt, error)

	// WaitForConfirmation blocks until the policy is met (EVM: depth
	// confirmations on a stable block hash; Substrate: finality) or the
	// policy/context deadline expires with domain.ErrConfirmationTimeout.
	// Cancelling the wait never retracts the submitted transaction.
	WaitForConfirmation(ctx context.Context, hash domain.TxHash, policy domain.ConfirmPolicy) (*domain.Receipt, error)

	// EstimateFee predicts the fee for an intent in base units, before
	// any fee-policy multiplier is applied
	EstimateFee(ctx context.Context, intent *domain.TransactionIntent) (*big.Int, error)

	// ValidateAddress parses raw for this chain's ecosystem
	ValidateAddress(raw string) (domain.Address, error)

	// SubscribeEvents returns a stream of this chain's events matching
	// the filter
	SubscribeEvents(filter events.Filter) (*events.Subscription, error)
}
