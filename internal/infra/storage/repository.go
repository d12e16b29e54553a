package storage

import (
	"context"
	"time"

	"github.com/vietddude/apex/internal/core/domain"
)

// TransferRepository is the live store for bridge transfer records. The
// coordinator persists every state transition here before acting on it,
// so a crashed transfer is resumable from its last recorded state.
type TransferRepository interface {
	// Save upserts the full transfer record
	Save(ctx context.Context, transfer *domain.BridgeTransfer) error

	// Get retrieves a transfer by ID (domain.ErrTransferNotFound when absent)
	Get(ctx context.Context, id string) (*domain.BridgeTransfer, error)

	// ListByState retrieves transfers in any of the given states
	ListByState(ctx context.Context, states ...domain.TransferState) ([]*domain.BridgeTransfer, error)

	// ListStale retrieves non-terminal transfers not updated since the cutoff
	ListStale(ctx context.Context, cutoff time.Time) ([]*domain.BridgeTransfer, error)

	// Delete removes a transfer record
	Delete(ctx context.Context, id string) error

	// Count returns the number of live transfer records
	Count(ctx context.Context) (int, error)

	// Claim takes the relay lock for a transfer; false when already held
	Claim(ctx context.Context, id string, ttl time.Duration) (bool, error)

	// RefreshClaim extends a held relay lock
	RefreshClaim(ctx context.Context, id string, ttl time.Duration) error

	// ReleaseClaim drops the relay lock
	ReleaseClaim(ctx context.Context, id string) error
}

// TransferHistoryRepository is the append-only transition log. Rows
// outlive the live record and feed the audit surface.
type TransferHistoryRepository interface {
	// Append records one transition
	Append(ctx context.Context, transferID string, tr domain.TransferTransition) error

	// ListByTransfer retrieves a transfer's transitions, oldest first
	ListByTransfer(ctx context.Context, transferID string) ([]domain.TransferTransition, error)

	// DeleteOlderThan prunes rows recorded before the cutoff
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// WalletRepository handles wallet metadata storage
type WalletRepository interface {
	// Save saves a wallet record
	Save(ctx context.Context, wallet *domain.WalletRecord) error

	// GetByName retrieves a wallet by name
	GetByName(ctx context.Context, name string) (*domain.WalletRecord, error)

	// GetByAddress retrieves a wallet by address
	GetByAddress(ctx context.Context, address string) (*domain.WalletRecord, error)

	// GetAll retrieves all wallet records
	GetAll(ctx context.Context) ([]*domain.WalletRecord, error)

	// Delete removes a wallet record
	Delete(ctx context.Context, name string) error
}
