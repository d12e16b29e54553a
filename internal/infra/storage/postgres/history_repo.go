package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/vietddude/apex/internal/core/domain"
)

// HistoryRepo implements storage.TransferHistoryRepository using
// PostgreSQL. Rows are append-only and outlive the live transfer record.
type HistoryRepo struct {
	db *DB
}

// NewHistoryRepo creates a new PostgreSQL transfer history repository.
func NewHistoryRepo(db *DB) *HistoryRepo {
	return &HistoryRepo{db: db}
}

type transitionRow struct {
	FromState  string    `db:"from_state"`
	ToState    string    `db:"to_state"`
	Note       string    `db:"note"`
	OccurredAt time.Time `db:"occurred_at"`
}

// Append records one transition.
func (r *HistoryRepo) Append(ctx context.Context, transferID string, tr domain.TransferTransition) error {
	const query = `
		INSERT INTO transfer_transitions (transfer_id, from_state, to_state, note, occurred_at)
		VALUES ($1, $2, $3, $4, $5)`

	_, err := r.db.ExecContext(ctx, query,
		transferID, string(tr.From), string(tr.To), tr.Note, tr.At)
	if err != nil {
		return fmt.Errorf("failed to append transition: %w", err)
	}
	return nil
}

// ListByTransfer retrieves a transfer's transitions, oldest first.
func (r *HistoryRepo) ListByTransfer(ctx context.Context, transferID string) ([]domain.TransferTransition, error) {
	const query = `
		SELECT from_state, to_state, note, occurred_at
		FROM transfer_transitions
		WHERE transfer_id = $1
		ORDER BY id`

	var rows []transitionRow
	if err := r.db.SelectContext(ctx, &rows, query, transferID); err != nil {
		return nil, fmt.Errorf("failed to list transitions: %w", err)
	}

	out := make([]domain.TransferTransition, len(rows))
	for i, row := range rows {
		out[i] = domain.TransferTransition{
			From: domain.TransferState(row.FromState),
			To:   domain.TransferState(row.ToState),
			Note: row.Note,
			At:   row.OccurredAt,
		}
	}
	return out, nil
}

// DeleteOlderThan prunes rows recorded before the cutoff.
func (r *HistoryRepo) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM transfer_transitions WHERE occurred_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to prune transitions: %w", err)
	}
	removed, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read prune result: %w", err)
	}
	return removed, nil
}
