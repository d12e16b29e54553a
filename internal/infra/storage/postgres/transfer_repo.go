package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/vietddude/apex/internal/core/domain"
)

// TransferRepo implements storage.TransferRepository using PostgreSQL.
// Relay claims live on the row itself as a lease timestamp, so a claim
// held by a dead process expires without any cleanup pass.
type TransferRepo struct {
	db *DB
}

// NewTransferRepo creates a new PostgreSQL transfer repository.
func NewTransferRepo(db *DB) *TransferRepo {
	return &TransferRepo{db: db}
}

type transferRow struct {
	ID            string       `db:"id"`
	SourceChain   string       `db:"source_chain"`
	DestChain     string       `db:"dest_chain"`
	SourceAddress string       `db:"source_address"`
	DestAddress   string       `db:"dest_address"`
	Amount        string       `db:"amount"`
	State         string       `db:"state"`
	SourceTxHash  string       `db:"source_tx_hash"`
	DestTxHash    string       `db:"dest_tx_hash"`
	Attempts      int          `db:"attempts"`
	FailureReason string       `db:"failure_reason"`
	History       []byte       `db:"history"`
	CreatedAt     time.Time    `db:"created_at"`
	UpdatedAt     time.Time    `db:"updated_at"`
	ClaimedUntil  sql.NullTime `db:"claimed_until"`
}

const transferColumns = `id, source_chain, dest_chain, source_address, dest_address,
	amount, state, source_tx_hash, dest_tx_hash, attempts, failure_reason,
	history, created_at, updated_at, claimed_until`

func toRow(t *domain.BridgeTransfer) (*transferRow, error) {
	history := []byte("[]")
	if len(t.History) > 0 {
		var err error
		history, err = json.Marshal(t.History)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal history: %w", err)
		}
	}
	return &transferRow{
		ID:            t.ID,
		SourceChain:   string(t.SourceChain),
		DestChain:     string(t.DestChain),
		SourceAddress: t.SourceAddress,
		DestAddress:   t.DestAddress,
		Amount:        t.Amount,
		State:         string(t.State),
		SourceTxHash:  string(t.SourceTxHash),
		DestTxHash:    string(t.DestTxHash),
		Attempts:      t.Attempts,
		FailureReason: t.FailureReason,
		History:       history,
		CreatedAt:     t.CreatedAt,
		UpdatedAt:     t.UpdatedAt,
	}, nil
}

func toDomain(row *transferRow) (*domain.BridgeTransfer, error) {
	var history []domain.TransferTransition
	if len(row.History) > 0 {
		if err := json.Unmarshal(row.History, &history); err != nil {
			return nil, fmt.Errorf("failed to unmarshal history: %w", err)
		}
	}
	return &domain.BridgeTransfer{
		ID:            row.ID,
		SourceChain:   domain.ChainID(row.SourceChain),
		DestChain:     domain.ChainID(row.DestChain),
		SourceAddress: row.SourceAddress,
		DestAddress:   row.DestAddress,
		Amount:        row.Amount,
		State:         domain.TransferState(row.State),
		SourceTxHash:  domain.TxHash(row.SourceTxHash),
		DestTxHash:    domain.TxHash(row.DestTxHash),
		Attempts:      row.Attempts,
		FailureReason: row.FailureReason,
		History:       history,
		CreatedAt:     row.CreatedAt,
		UpdatedAt:     row.UpdatedAt,
	}, nil
}

// Save upserts the full transfer record. The claim lease is deliberately
// left out of the update so a save never steals or drops a held claim.
func (r *TransferRepo) Save(ctx context.Context, transfer *domain.BridgeTransfer) error {
	row, err := toRow(transfer)
	if err != nil {
		return err
	}

	const query = `
		INSERT INTO bridge_transfers (
			id, source_chain, dest_chain, source_address, dest_address,
			amount, state, source_tx_hash, dest_tx_hash, attempts,
			failure_reason, history, created_at, updated_at
		) VALUES (
			:id, :source_chain, :dest_chain, :source_address, :dest_address,
			:amount, :state, :source_tx_hash, :dest_tx_hash, :attempts,
			:failure_reason, :history, :created_at, :updated_at
		)
		ON CONFLICT (id) DO UPDATE SET
			state = EXCLUDED.state,
			source_tx_hash = EXCLUDED.source_tx_hash,
			dest_tx_hash = EXCLUDED.dest_tx_hash,
			attempts = EXCLUDED.attempts,
			failure_reason = EXCLUDED.failure_reason,
			history = EXCLUDED.history,
			updated_at = EXCLUDED.updated_at`

	if _, err := r.db.NamedExecContext(ctx, query, row); err != nil {
		return fmt.Errorf("failed to save transfer: %w", err)
	}
	return nil
}

// Get retrieves a transfer by ID.
func (r *TransferRepo) Get(ctx context.Context, id string) (*domain.BridgeTransfer, error) {
	var row transferRow
	query := fmt.Sprintf(`SELECT %s FROM bridge_transfers WHERE id = $1`, transferColumns)
	if err := r.db.GetContext(ctx, &row, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrTransferNotFound
		}
		return nil, fmt.Errorf("failed to get transfer: %w", err)
	}
	return toDomain(&row)
}

// ListByState retrieves transfers in any of the given states, oldest
// update first.
func (r *TransferRepo) ListByState(ctx context.Context, states ...domain.TransferState) ([]*domain.BridgeTransfer, error) {
	if len(states) == 0 {
		return nil, nil
	}
	names := make([]string, len(states))
	for i, s := range states {
		names[i] = string(s)
	}

	query, args, err := sqlx.In(fmt.Sprintf(
		`SELECT %s FROM bridge_transfers WHERE state IN (?) ORDER BY updated_at`,
		transferColumns), names)
	if err != nil {
		return nil, fmt.Errorf("failed to build query: %w", err)
	}

	var rows []transferRow
	if err := r.db.SelectContext(ctx, &rows, r.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("failed to list transfers: %w", err)
	}
	return r.collect(rows)
}

// ListStale retrieves non-terminal transfers not updated since the cutoff.
func (r *TransferRepo) ListStale(ctx context.Context, cutoff time.Time) ([]*domain.BridgeTransfer, error) {
	query, args, err := sqlx.In(fmt.Sprintf(
		`SELECT %s FROM bridge_transfers
		 WHERE state NOT IN (?) AND updated_at < ?
		 ORDER BY updated_at`,
		transferColumns),
		[]string{string(domain.TransferDestinationReleased), string(domain.TransferFailed)},
		cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to build query: %w", err)
	}

	var rows []transferRow
	if err := r.db.SelectContext(ctx, &rows, r.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("failed to list stale transfers: %w", err)
	}
	return r.collect(rows)
}

func (r *TransferRepo) collect(rows []transferRow) ([]*domain.BridgeTransfer, error) {
	out := make([]*domain.BridgeTransfer, 0, len(rows))
	for i := range rows {
		t, err := toDomain(&rows[i])
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

// Delete removes a transfer record.
func (r *TransferRepo) Delete(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM bridge_transfers WHERE id = $1`, id); err != nil {
		return fmt.Errorf("failed to delete transfer: %w", err)
	}
	return nil
}

// Count returns the number of live transfer records.
func (r *TransferRepo) Count(ctx context.Context) (int, error) {
	var count int
	if err := r.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM bridge_transfers`); err != nil {
		return 0, fmt.Errorf("failed to count transfers: %w", err)
	}
	return count, nil
}

// Claim takes the relay lease for a transfer. The database clock decides
// expiry so every process sees the same lease window.
func (r *TransferRepo) Claim(ctx context.Context, id string, ttl time.Duration) (bool, error) {
	const query = `
		UPDATE bridge_transfers
		SET claimed_until = now() + make_interval(secs => $2)
		WHERE id = $1 AND (claimed_until IS NULL OR claimed_until < now())`

	res, err := r.db.ExecContext(ctx, query, id, ttl.Seconds())
	if err != nil {
		return false, fmt.Errorf("failed to claim transfer: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read claim result: %w", err)
	}
	return n == 1, nil
}

// RefreshClaim extends a still-held lease. An expired lease is not
// revived; the holder lost it.
func (r *TransferRepo) RefreshClaim(ctx context.Context, id string, ttl time.Duration) error {
	const query = `
		UPDATE bridge_transfers
		SET claimed_until = now() + make_interval(secs => $2)
		WHERE id = $1 AND claimed_until IS NOT NULL AND claimed_until >= now()`

	if _, err := r.db.ExecContext(ctx, query, id, ttl.Seconds()); err != nil {
		return fmt.Errorf("failed to refresh claim: %w", err)
	}
	return nil
}

// ReleaseClaim drops the lease.
func (r *TransferRepo) ReleaseClaim(ctx context.Context, id string) error {
	const query = `UPDATE bridge_transfers SET claimed_until = NULL WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("failed to release claim: %w", err)
	}
	return nil
}
