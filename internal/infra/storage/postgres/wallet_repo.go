package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/vietddude/apex/internal/core/domain"
)

// WalletRepo implements storage.WalletRepository using PostgreSQL. Only
// metadata is stored here; key material never reaches the database.
type WalletRepo struct {
	db *DB
}

// NewWalletRepo creates a new PostgreSQL wallet repository.
func NewWalletRepo(db *DB) *WalletRepo {
	return &WalletRepo{db: db}
}

type walletRow struct {
	ID        uint64    `db:"id"`
	Name      string    `db:"name"`
	Scheme    string    `db:"scheme"`
	Address   string    `db:"address"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

func (row *walletRow) toDomain() *domain.WalletRecord {
	return &domain.WalletRecord{
		ID:        row.ID,
		Name:      row.Name,
		Scheme:    domain.SignatureScheme(row.Scheme),
		Address:   row.Address,
		CreatedAt: row.CreatedAt,
		UpdatedAt: row.UpdatedAt,
	}
}

// Save saves a wallet record.
func (r *WalletRepo) Save(ctx context.Context, wallet *domain.WalletRecord) error {
	const query = `
		INSERT INTO wallets (name, scheme, address, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (name) DO UPDATE SET
			scheme = EXCLUDED.scheme,
			address = EXCLUDED.address,
			updated_at = EXCLUDED.updated_at`

	now := time.Now().UTC()
	createdAt := wallet.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}
	_, err := r.db.ExecContext(ctx, query,
		wallet.Name, string(wallet.Scheme), wallet.Address, createdAt, now)
	if err != nil {
		return fmt.Errorf("failed to save wallet: %w", err)
	}
	return nil
}

// GetByName retrieves a wallet by name.
func (r *WalletRepo) GetByName(ctx context.Context, name string) (*domain.WalletRecord, error) {
	const query = `
		SELECT id, name, scheme, address, created_at, updated_at
		FROM wallets WHERE name = $1`

	var row walletRow
	if err := r.db.GetContext(ctx, &row, query, name); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get wallet: %w", err)
	}
	return row.toDomain(), nil
}

// GetByAddress retrieves a wallet by address.
func (r *WalletRepo) GetByAddress(ctx context.Context, address string) (*domain.WalletRecord, error) {
	const query = `
		SELECT id, name, scheme, address, created_at, updated_at
		FROM wallets WHERE address = $1`

	var row walletRow
	if err := r.db.GetContext(ctx, &row, query, address); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get wallet: %w", err)
	}
	return row.toDomain(), nil
}

// GetAll retrieves all wallet records.
func (r *WalletRepo) GetAll(ctx context.Context) ([]*domain.WalletRecord, error) {
	const query = `
		SELECT id, name, scheme, address, created_at, updated_at
		FROM wallets ORDER BY name`

	var rows []walletRow
	if err := r.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, fmt.Errorf("failed to list wallets: %w", err)
	}

	wallets := make([]*domain.WalletRecord, len(rows))
	for i := range rows {
		wallets[i] = rows[i].toDomain()
	}
	return wallets, nil
}

// Delete removes a wallet record.
func (r *WalletRepo) Delete(ctx context.Context, name string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM wallets WHERE name = $1`, name); err != nil {
		return fmt.Errorf("failed to delete wallet: %w", err)
	}
	return nil
}
