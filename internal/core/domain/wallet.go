package domain

import (
	"time"
)

// WalletRecord is the persisted metadata for a managed wallet: name, scheme
// and display address only. Key material never leaves the signing layer.
type WalletRecord struct {
	ID        uint64
	Name      string
	Scheme    SignatureScheme
	Address   string
	CreatedAt time.Time
	UpdatedAt time.Time
}
