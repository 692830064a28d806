package deposit

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/agentpay/agent_pay/internal/ledger"
)

// Repository persists deposit address assignments.
type Repository interface {
	SaveAddress(ctx context.Context, a Address) error
	FindAddress(ctx context.Context, workerID string, chain ledger.Chain) (Address, bool, error)
}

// PostgresRepository stores assignments in PostgreSQL. The table carries a
// unique constraint on (worker_id, chain) so concurrent issuance collapses
// to a single row.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository builds a repository backed by PostgreSQL.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// SaveAddress inserts an assignment. A concurrent insert for the same
// worker and chain wins silently; the caller re-reads afterwards.
func (r *PostgresRepository) SaveAddress(ctx context.Context, a Address) error {
	id, err := uuid.Parse(a.ID)
	if err != nil {
		return err
	}
	_, err = r.db.Exec(ctx, `INSERT INTO deposit_addresses
        (id, worker_id, chain, derivation_index, address, created_at)
        VALUES ($1, $2, $3, $4, $5, $6)
        ON CONFLICT (worker_id, chain) DO NOTHING`,
		id, a.WorkerID, a.Chain, a.Index, a.Address, a.CreatedAt.UTC())
	return err
}

// FindAddress fetches the assignment for a worker and chain, if any.
func (r *PostgresRepository) FindAddress(ctx context.Context, workerID string, chain ledger.Chain) (Address, bool, error) {
	row := r.db.QueryRow(ctx, `SELECT id, worker_id, chain, derivation_index, address, created_at
        FROM deposit_addresses WHERE worker_id = $1 AND chain = $2`, workerID, chain)
	var a Address
	if err := row.Scan(&a.ID, &a.WorkerID, &a.Chain, &a.Index, &a.Address, &a.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Address{}, false, nil
		}
		return Address{}, false, err
	}
	return a, true, nil
}
