package domain

import "math/big"

// TransactionIntent is a chain-agnostic description of a transfer or call.
// It is created by the caller and consumed exactly once by the transaction
// builder; building never submits.
type TransactionIntent struct {
	Source      Account
	Destination Account
	Amount      *big.Int
	CallData    []byte

	// GasLimit optionally bounds EVM execution; ignored for Substrate.
	GasLimit uint64
	// Tip is an optional Substrate transaction tip; ignored for EVM.
	Tip *big.Int
}

// CrossChain reports whether the intent spans ecosystems and therefore
// requires bridging rather than direct submission.
func (i *TransactionIntent) CrossChain() bool {
	return i.Source.Ecosystem() != i.Destination.Ecosystem()
}

// Validate checks the fields every ecosystem requires. Ecosystem-specific
// requirements (e.g. call data presence for contract calls) are enforced by
// the builder.
func (i *TransactionIntent) Validate() error {
	if i.Source.Address.IsZero() {
		return &ValidationError{Field: "source", Msg: "sender address required"}
	}
	if i.Destination.Address.IsZero() {
		return &ValidationError{Field: "destination", Msg: "recipient address required"}
	}
	if i.Amount == nil && len(i.CallData) == 0 {
		return &ValidationError{Field: "amount", Msg: "amount required"}
	}
	if i.Amount != nil && i.Amount.Sign() < 0 {
		return &ValidationError{Field: "amount", Msg: "amount must not be negative"}
	}
	if i.Source.Chain == "" {
		return &ValidationError{Field: "source", Msg: "source chain required"}
	}
	if i.Destination.Chain == "" {
		return &ValidationError{Field: "destination", Msg: "destination chain required"}
	}
	return nil
}
