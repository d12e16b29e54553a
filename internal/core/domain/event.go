package domain

import "time"

// Event is one observation emitted to external subscribers: transaction
// lifecycle, cache effectiveness, connection health, transfer transitions.
type Event struct {
	ID          string
	Type        EventType
	ChainID     ChainID
	TxHash      TxHash
	Address     string
	TransferID  string
	BlockNumber uint64
	EmittedAt   time.Time
	Metadata    map[string]any
}

type EventType string

const (
	EventTypeTransactionSubmitted EventType = "transaction_submitted"
	EventTypeTransactionConfirmed EventType = "transaction_confirmed"
	EventTypeTransactionFailed    EventType = "transaction_failed"
	EventTypeCacheHit             EventType = "cache_hit"
	EventTypeCacheMiss            EventType = "cache_miss"
	EventTypeConnectionState      EventType = "connection_state_changed"
	EventTypeTransferTransition   EventType = "transfer_transition"
)
