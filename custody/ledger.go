package custody

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PGLedger persists the balance buckets in PostgreSQL. Mutators take the
// caller's transaction so a balance move commits or rolls back together
// with the offer transition that caused it.
type PGLedger struct {
	pool *pgxpool.Pool
}

// NewLedger wires a pgxpool-backed ledger.
func NewLedger(pool *pgxpool.Pool) *PGLedger {
	return &PGLedger{pool: pool}
}

// CreditProvider adds amount to the provider's pending withdrawals.
func (l *PGLedger) CreditProvider(ctx context.Context, tx pgx.Tx, provider string, amount int64) error {
	if amount <= 0 {
		return fmt.Errorf("custody: credit provider: non-positive amount %d", amount)
	}

	const upsertSQL = `
		INSERT INTO pending_withdrawals (address, amount)
		VALUES ($1, $2)
		ON CONFLICT (address) DO UPDATE
		SET amount = pending_withdrawals.amount + EXCLUDED.amount
	`
	if _, err := tx.Exec(ctx, upsertSQL, provider, amount); err != nil {
		return fmt.Errorf("custody: credit provider: %w", err)
	}
	return nil
}

// CreditPlatform adds amount to the operator's fee balance. A zero amount
// is a no-op so 0-fee confirmations (price < 50) stay cheap.
func (l *PGLedger) CreditPlatform(ctx context.Context, tx pgx.Tx, amount int64) error {
	if amount == 0 {
		return nil
	}
	if amount < 0 {
		return fmt.Errorf("custody: credit platform: negative amount %d", amount)
	}

	if _, err := tx.Exec(ctx, `UPDATE platform_fees SET amount = amount + $1 WHERE singleton`, amount); err != nil {
		return fmt.Errorf("custody: credit platform: %w", err)
	}
	return nil
}

// DebitProviderAll locks the provider's balance row, zeroes it, and
// returns the prior value. It returns 0 when the provider has no balance.
// The read and the write share the row lock so no concurrent withdrawal
// can observe the stale amount.
func (l *PGLedger) DebitProviderAll(ctx context.Context, tx pgx.Tx, provider string) (int64, error) {
	var amount int64
	err := tx.QueryRow(ctx, `SELECT amount FROM pending_withdrawals WHERE address = $1 FOR UPDATE`, provider).Scan(&amount)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("custody: lock provider balance: %w", err)
	}
	if amount == 0 {
		return 0, nil
	}

	if _, err := tx.Exec(ctx, `UPDATE pending_withdrawals SET amount = 0 WHERE address = $1`, provider); err != nil {
		return 0, fmt.Errorf("custody: zero provider balance: %w", err)
	}
	return amount, nil
}

// DebitPlatformAll zeroes and returns the operator's fee balance.
func (l *PGLedger) DebitPlatformAll(ctx context.Context, tx pgx.Tx) (int64, error) {
	var amount int64
	err := tx.QueryRow(ctx, `SELECT amount FROM platform_fees WHERE singleton FOR UPDATE`).Scan(&amount)
	if err != nil {
		return 0, fmt.Errorf("custody: lock platform balance: %w", err)
	}
	if amount == 0 {
		return 0, nil
	}

	if _, err := tx.Exec(ctx, `UPDATE platform_fees SET amount = 0 WHERE singleton`); err != nil {
		return 0, fmt.Errorf("custody: zero platform balance: %w", err)
	}
	return amount, nil
}

// PendingBalance reads a provider's withdrawable balance.
func (l *PGLedger) PendingBalance(ctx context.Context, provider string) (int64, error) {
	var amount int64
	err := l.pool.QueryRow(ctx, `SELECT amount FROM pending_withdrawals WHERE address = $1`, provider).Scan(&amount)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("custody: pending balance: %w", err)
	}
	return amount, nil
}

// PlatformBalance reads the operator's accumulated fee balance.
func (l *PGLedger) PlatformBalance(ctx context.Context) (int64, error) {
	var amount int64
	if err := l.pool.QueryRow(ctx, `SELECT amount FROM platform_fees WHERE singleton`).Scan(&amount); err != nil {
		return 0, fmt.Errorf("custody: platform balance: %w", err)
	}
	return amount, nil
}
