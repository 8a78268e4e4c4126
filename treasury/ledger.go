package treasury

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Transfer directions as stored in the transfers table.
const (
	DirectionIn  = "in"
	DirectionOut = "out"
)

// PGLedger records boundary crossings in the transfers table.
type PGLedger struct {
	pool *pgxpool.Pool
}

// NewLedger wires a pgxpool-backed transfer ledger.
func NewLedger(pool *pgxpool.Pool) *PGLedger {
	return &PGLedger{pool: pool}
}

// RecordInbound writes a received-payment row inside the caller's
// transaction and returns its reference.
func (l *PGLedger) RecordInbound(ctx context.Context, tx pgx.Tx, from string, amount int64, offerID int64) (string, error) {
	ref := uuid.NewString()
	const insertSQL = `
		INSERT INTO transfers (id, direction, counterparty, amount, offer_id)
		VALUES ($1, 'in', $2, $3, $4)
	`
	if _, err := tx.Exec(ctx, insertSQL, ref, from, amount, offerID); err != nil {
		return "", fmt.Errorf("treasury: record inbound: %w", err)
	}
	return ref, nil
}

// RecordOutbound writes a payout row inside the caller's transaction and
// returns its reference. It rolls back with the transaction when the
// dispatch that follows it fails.
func (l *PGLedger) RecordOutbound(ctx context.Context, tx pgx.Tx, to string, amount int64) (string, error) {
	ref := uuid.NewString()
	const insertSQL = `
		INSERT INTO transfers (id, direction, counterparty, amount)
		VALUES ($1, 'out', $2, $3)
	`
	if _, err := tx.Exec(ctx, insertSQL, ref, to, amount); err != nil {
		return "", fmt.Errorf("treasury: record outbound: %w", err)
	}
	return ref, nil
}

// Totals returns the lifetime sums of received and paid-out value.
func (l *PGLedger) Totals(ctx context.Context) (in int64, out int64, err error) {
	const sumSQL = `
		SELECT
			COALESCE(SUM(amount) FILTER (WHERE direction = 'in'), 0),
			COALESCE(SUM(amount) FILTER (WHERE direction = 'out'), 0)
		FROM transfers
	`
	if err := l.pool.QueryRow(ctx, sumSQL).Scan(&in, &out); err != nil {
		return 0, 0, fmt.Errorf("treasury: totals: %w", err)
	}
	return in, out, nil
}
