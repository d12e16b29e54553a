package domain

import (
	"math/big"
	"time"
)

// TxHash is the chain-native transaction hash, 0x-prefixed hex on both
// ecosystems (EVM keccak; Substrate blake2b of the extrinsic bytes).
type TxHash string

type TxStatus string

const (
	TxStatusPending   TxStatus = "pending"
	TxStatusInMempool TxStatus = "in_mempool"
	TxStatusConfirmed TxStatus = "confirmed"
	TxStatusFinalized TxStatus = "finalized"
	TxStatusFailed    TxStatus = "failed"
	TxStatusUnknown   TxStatus = "unknown"
)

// Settled reports whether the status is one the chain will not move past
// confirmation-wise (finalized or failed).
func (s TxStatus) Settled() bool {
	return s == TxStatusFinalized || s == TxStatusFailed
}

// SignedTransaction is what adapters submit: the fully encoded wire bytes
// (RLP for EVM, SCALE extrinsic for Substrate) plus enough metadata for
// cache invalidation and event emission.
type SignedTransaction struct {
	Chain  ChainID
	From   Account
	To     Address
	Amount *big.Int
	Nonce  uint64
	Hash   TxHash
	Raw    []byte
	Sig    Signature
}

func (t *SignedTransaction) Ecosystem() Ecosystem {
	return EcosystemOf(t.Chain)
}

// Receipt describes the settled outcome of a submitted transaction.
type Receipt struct {
	TxHash        TxHash   `json:"tx_hash"`
	ChainID       ChainID  `json:"chain_id"`
	Status        TxStatus `json:"status"`
	BlockNumber   uint64   `json:"block_number"`
	BlockHash     string   `json:"block_hash"`
	Confirmations uint64   `json:"confirmations"`
	GasUsed       uint64   `json:"gas_used,omitempty"`
	Fee           *big.Int `json:"-"`
	FailureReason string   `json:"failure_reason,omitempty"`
}

// ConfirmPolicy controls wait_for_confirmation. Depth is the number of
// blocks that must build on top of the inclusion block (EVM); Substrate
// adapters ignore Depth and wait for finality instead. A zero Timeout
// means the caller's context is the only deadline.
type ConfirmPolicy struct {
	Depth        uint64
	Timeout      time.Duration
	PollInterval time.Duration
}

// DefaultConfirmPolicy derives a policy from the chain registry.
func DefaultConfirmPolicy(chain ChainID) ConfirmPolicy {
	p := ConfirmPolicy{Depth: 12, Timeout: 5 * time.Minute, PollInterval: 3 * time.Second}
	if info, ok := Chains[chain]; ok && info.FinalityDepth > 0 {
		p.Depth = info.FinalityDepth
	}
	if EcosystemOf(chain) == EcosystemSubstrate {
		p.PollInterval = 6 * time.Second
	}
	return p
}
