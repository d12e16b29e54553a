package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/vietddude/apex/internal/core/domain"
)

// UnitOfWork bundles operator interventions into a single database
// transaction, ensuring atomicity (all succeed or all fail).
type UnitOfWork struct {
	db *DB
	tx *sqlx.Tx
}

// NewUnitOfWork creates a new unit of work with an active transaction.
func (db *DB) NewUnitOfWork(ctx context.Context) (*UnitOfWork, error) {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}

	return &UnitOfWork{db: db, tx: tx}, nil
}

// Commit commits the transaction.
func (u *UnitOfWork) Commit() error {
	if u.tx == nil {
		return fmt.Errorf("transaction already completed")
	}
	err := u.tx.Commit()
	u.tx = nil
	return err
}

// Rollback rolls back the transaction. Safe to call multiple times.
func (u *UnitOfWork) Rollback() error {
	if u.tx == nil {
		return nil // Already committed or rolled back
	}
	err := u.tx.Rollback()
	u.tx = nil
	return err
}

// RequeueTransfer puts a failed transfer back in front of the relay.
// Only a transfer whose source lock was actually submitted qualifies;
// it re-enters at initiated so the lock is proven again before any
// destination action. The override is recorded in the transition log.
func (u *UnitOfWork) RequeueTransfer(ctx context.Context, id string) error {
	const reset = `
		UPDATE bridge_transfers
		SET state = $2, failure_reason = '', attempts = 0,
		    claimed_until = NULL, updated_at = now()
		WHERE id = $1 AND state = $3 AND source_tx_hash <> ''`

	res, err := u.tx.ExecContext(ctx, reset, id,
		string(domain.TransferInitiated), string(domain.TransferFailed))
	if err != nil {
		return fmt.Errorf("failed to requeue transfer: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read requeue result: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("transfer %s is not requeueable", id)
	}

	const record = `
		INSERT INTO transfer_transitions (transfer_id, from_state, to_state, note, occurred_at)
		VALUES ($1, $2, $3, $4, $5)`

	_, err = u.tx.ExecContext(ctx, record, id,
		string(domain.TransferFailed), string(domain.TransferInitiated),
		"manual requeue", time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to record requeue: %w", err)
	}
	return nil
}

// ReleaseAllClaims clears every relay lease, held or expired. For use
// after a fleet restart when no worker can still be holding one.
func (u *UnitOfWork) ReleaseAllClaims(ctx context.Context) (int64, error) {
	res, err := u.tx.ExecContext(ctx,
		`UPDATE bridge_transfers SET claimed_until = NULL WHERE claimed_until IS NOT NULL`)
	if err != nil {
		return 0, fmt.Errorf("failed to release claims: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read release result: %w", err)
	}
	return n, nil
}
