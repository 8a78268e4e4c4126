package offer

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound signals the requested offer does not exist.
var ErrNotFound = errors.New("offer: not found")

// PGRepository persists the append-only offer table. Transition writes
// take the caller's transaction; reads go through the pool.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository wires a pgxpool-backed offer repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

const recordColumns = `id, provider, client, price, description_hash, status, escrowed, created_at, updated_at`

// Insert appends a new open offer and returns it with its assigned id.
// Ids come from the table identity and are sequential from 0.
func (r *PGRepository) Insert(ctx context.Context, tx pgx.Tx, provider, descriptionHash string, price int64) (Record, error) {
	const insertSQL = `
		INSERT INTO offers (provider, price, description_hash, status)
		VALUES ($1, $2, $3, 'open')
		RETURNING ` + recordColumns

	rec, err := scanRecord(tx.QueryRow(ctx, insertSQL, provider, price, descriptionHash))
	if err != nil {
		return Record{}, fmt.Errorf("offer: insert: %w", err)
	}
	return rec, nil
}

// GetForUpdate fetches an offer and locks its row for the remainder of
// the transaction. Every transition goes through this lock.
func (r *PGRepository) GetForUpdate(ctx context.Context, tx pgx.Tx, id int64) (Record, error) {
	const selectSQL = `SELECT ` + recordColumns + ` FROM offers WHERE id = $1 FOR UPDATE`

	rec, err := scanRecord(tx.QueryRow(ctx, selectSQL, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Record{}, ErrNotFound
		}
		return Record{}, fmt.Errorf("offer: get for update: %w", err)
	}
	return rec, nil
}

// SetAccepted binds the client and escrowed payment to a locked open offer.
func (r *PGRepository) SetAccepted(ctx context.Context, tx pgx.Tx, id int64, client string, escrowed int64) error {
	const updateSQL = `
		UPDATE offers
		SET status = 'accepted', client = $2, escrowed = $3, updated_at = now()
		WHERE id = $1 AND status = 'open' AND client IS NULL
	`

	tag, err := tx.Exec(ctx, updateSQL, id, client, escrowed)
	if err != nil {
		return fmt.Errorf("offer: set accepted: %w", err)
	}
	if tag.RowsAffected() != 1 {
		return fmt.Errorf("offer: set accepted: offer %d not open", id)
	}
	return nil
}

// SetCompleted marks a locked accepted offer completed and releases its
// escrowed amount.
func (r *PGRepository) SetCompleted(ctx context.Context, tx pgx.Tx, id int64) error {
	const updateSQL = `
		UPDATE offers
		SET status = 'completed', escrowed = 0, updated_at = now()
		WHERE id = $1 AND status = 'accepted'
	`

	tag, err := tx.Exec(ctx, updateSQL, id)
	if err != nil {
		return fmt.Errorf("offer: set completed: %w", err)
	}
	if tag.RowsAffected() != 1 {
		return fmt.Errorf("offer: set completed: offer %d not accepted", id)
	}
	return nil
}

// Get fetches an offer by id without locking.
func (r *PGRepository) Get(ctx context.Context, id int64) (Record, error) {
	const selectSQL = `SELECT ` + recordColumns + ` FROM offers WHERE id = $1`

	rec, err := scanRecord(r.pool.QueryRow(ctx, selectSQL, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Record{}, ErrNotFound
		}
		return Record{}, fmt.Errorf("offer: get: %w", err)
	}
	return rec, nil
}

// List returns a page of offers plus the total count for the filters.
func (r *PGRepository) List(ctx context.Context, filters ListFilters) ([]Record, int, error) {
	if filters.Page <= 0 {
		filters.Page = 1
	}
	if filters.PageSize <= 0 || filters.PageSize > 100 {
		filters.PageSize = 20
	}

	where := ""
	args := []any{}
	if filters.Provider != "" {
		args = append(args, filters.Provider)
		where = fmt.Sprintf("WHERE provider = $%d", len(args))
	}
	if filters.Status != "" {
		args = append(args, filters.Status)
		if where == "" {
			where = fmt.Sprintf("WHERE status = $%d", len(args))
		} else {
			where += fmt.Sprintf(" AND status = $%d", len(args))
		}
	}

	countArgs := make([]any, len(args))
	copy(countArgs, args)

	args = append(args, filters.PageSize)
	limitIdx := len(args)
	args = append(args, (filters.Page-1)*filters.PageSize)
	offsetIdx := len(args)

	query := fmt.Sprintf(
		`SELECT %s FROM offers %s ORDER BY id ASC LIMIT $%d OFFSET $%d`,
		recordColumns, where, limitIdx, offsetIdx,
	)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("offer: list: %w", err)
	}
	defer rows.Close()

	records := []Record{}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("offer: scan: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("offer: iterate: %w", err)
	}

	var total int
	if err := r.pool.QueryRow(ctx, fmt.Sprintf(`SELECT COUNT(*) FROM offers %s`, where), countArgs...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("offer: count: %w", err)
	}

	return records, total, nil
}

// Count returns the running offer counter (the next id to be assigned).
func (r *PGRepository) Count(ctx context.Context) (int64, error) {
	var count int64
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM offers`).Scan(&count); err != nil {
		return 0, fmt.Errorf("offer: count: %w", err)
	}
	return count, nil
}

func scanRecord(row pgx.Row) (Record, error) {
	var rec Record
	err := row.Scan(
		&rec.ID,
		&rec.Provider,
		&rec.Client,
		&rec.Price,
		&rec.DescriptionHash,
		&rec.Status,
		&rec.Escrowed,
		&rec.CreatedAt,
		&rec.UpdatedAt,
	)
	if err != nil {
		return Record{}, err
	}
	return rec, nil
}
