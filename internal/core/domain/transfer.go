package domain

import (
	"fmt"
	"time"
)

type TransferState string

const (
	TransferInitiated           TransferState = "initiated"
	TransferSourceLocked        TransferState = "source_locked"
	TransferAwaitingRelay       TransferState = "awaiting_relay"
	TransferDestinationReleased TransferState = "destination_released"
	TransferFailed              TransferState = "failed"
)

// transferEdges is the legal transition set. Failed is reachable from every
// non-terminal state; nothing leaves a terminal state.
var transferEdges = map[TransferState][]TransferState{
	TransferInitiated:     {TransferSourceLocked, TransferFailed},
	TransferSourceLocked:  {TransferAwaitingRelay, TransferFailed},
	TransferAwaitingRelay: {TransferDestinationReleased, TransferFailed},
}

// TransferTransition is one recorded state change. The full history is kept
// on the transfer so a Failed record always carries how it got there.
type TransferTransition struct {
	From TransferState `json:"from"`
	To   TransferState `json:"to"`
	At   time.Time     `json:"at"`
	Note string        `json:"note,omitempty"`
}

// BridgeTransfer is the state machine record for one cross-chain transfer.
// Mutated only by the bridge coordinator; every transition is persisted and
// emitted before the next step proceeds, so an operator can recover a
// crashed transfer from its last recorded state.
type BridgeTransfer struct {
	ID            string               `json:"id"`
	SourceChain   ChainID              `json:"source_chain"`
	DestChain     ChainID              `json:"dest_chain"`
	SourceAddress string               `json:"source_address"`
	DestAddress   string               `json:"dest_address"`
	Amount        string               `json:"amount"`
	State         TransferState        `json:"state"`
	SourceTxHash  TxHash               `json:"source_tx_hash,omitempty"`
	DestTxHash    TxHash               `json:"dest_tx_hash,omitempty"`
	Attempts      int                  `json:"attempts"`
	FailureReason string               `json:"failure_reason,omitempty"`
	CreatedAt     time.Time            `json:"created_at"`
	UpdatedAt     time.Time            `json:"updated_at"`
	History       []TransferTransition `json:"history"`
}

// NewBridgeTransfer opens a transfer record in Initiated.
func NewBridgeTransfer(id string, intent TransactionIntent) *BridgeTransfer {
	now := time.Now().UTC()
	amount := "0"
	if intent.Amount != nil {
		amount = intent.Amount.String()
	}
	return &BridgeTransfer{
		ID:            id,
		SourceChain:   intent.Source.Chain,
		DestChain:     intent.Destination.Chain,
		SourceAddress: intent.Source.Address.String(),
		DestAddress:   intent.Destination.Address.String(),
		Amount:        amount,
		State:         TransferInitiated,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// Terminal reports whether the transfer can no longer change state.
func (t *BridgeTransfer) Terminal() bool {
	return t.State == TransferDestinationReleased || t.State == TransferFailed
}

// CanTransition checks the edge table.
func (t *BridgeTransfer) CanTransition(to TransferState) bool {
	for _, next := range transferEdges[t.State] {
		if next == to {
			return true
		}
	}
	return false
}

// TransitionTo applies a legal state change, recording it in History.
// Illegal edges are an internal-invariant violation and return an error
// rather than corrupting the record.
func (t *BridgeTransfer) TransitionTo(to TransferState, note string) error {
	if !t.CanTransition(to) {
		return fmt.Errorf("illegal transfer transition %s -> %s (id=%s)", t.State, to, t.ID)
	}
	now := time.Now().UTC()
	t.History = append(t.History, TransferTransition{From: t.State, To: to, At: now, Note: note})
	t.State = to
	t.UpdatedAt = now
	if to == TransferFailed {
		t.FailureReason = note
	}
	return nil
}
