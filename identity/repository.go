package identity

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrAlreadyRegistered signals the address already holds a role.
var ErrAlreadyRegistered = errors.New("identity: already registered")

// Repository handles data access for the participant registry.
type Repository interface {
	Create(ctx context.Context, address string, role Role) (Participant, error)
	RoleOf(ctx context.Context, address string) (Role, error)
}

// PGRepository implements Repository backed by PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a PostgreSQL-backed registry repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

// Create inserts the role mapping for an address. The primary key on
// participants enforces the register-once policy.
func (r *PGRepository) Create(ctx context.Context, address string, role Role) (Participant, error) {
	const insertSQL = `
		INSERT INTO participants (address, role)
		VALUES ($1, $2)
		RETURNING address, role, created_at
	`

	var p Participant
	err := r.pool.QueryRow(ctx, insertSQL, address, role).Scan(&p.Address, &p.Role, &p.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return Participant{}, ErrAlreadyRegistered
		}
		return Participant{}, fmt.Errorf("identity: create participant: %w", err)
	}

	return p, nil
}

// RoleOf returns the role recorded for an address, or RoleNone when the
// address never registered.
func (r *PGRepository) RoleOf(ctx context.Context, address string) (Role, error) {
	const selectSQL = `SELECT role FROM participants WHERE address = $1`

	var role Role
	err := r.pool.QueryRow(ctx, selectSQL, address).Scan(&role)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return RoleNone, nil
		}
		return RoleNone, fmt.Errorf("identity: role lookup: %w", err)
	}

	return role, nil
}
