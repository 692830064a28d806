package worker

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/agentpay/agent_pay/internal/ledger"
)

// ErrNotFound indicates the worker does not exist.
var ErrNotFound = errors.New("worker not found")

// Repository reads worker profiles and their saved payout addresses.
type Repository interface {
	Get(ctx context.Context, id string) (Worker, error)
	FindPayoutAddress(ctx context.Context, workerID string, chain ledger.Chain, address string) (PayoutAddress, bool, error)
}

// PostgresRepository reads workers from PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository builds a repository backed by PostgreSQL.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Get fetches a worker profile by identifier.
func (r *PostgresRepository) Get(ctx context.Context, id string) (Worker, error) {
	workerID, err := uuid.Parse(id)
	if err != nil {
		return Worker{}, ErrNotFound
	}
	row := r.db.QueryRow(ctx, `SELECT id, status, reputation, created_at FROM workers WHERE id = $1`, workerID)

	var w Worker
	var idVal uuid.UUID
	if err := row.Scan(&idVal, &w.Status, &w.Reputation, &w.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Worker{}, ErrNotFound
		}
		return Worker{}, err
	}
	w.ID = idVal.String()
	return w, nil
}

// FindPayoutAddress looks up a saved destination for the worker on a chain.
// The boolean reports whether a matching saved address exists.
func (r *PostgresRepository) FindPayoutAddress(ctx context.Context, workerID string, chain ledger.Chain, address string) (PayoutAddress, bool, error) {
	row := r.db.QueryRow(ctx, `SELECT id, worker_id, chain, address, verified, added_at
        FROM payout_addresses WHERE worker_id = $1 AND chain = $2 AND address = $3`,
		workerID, chain, address)

	var p PayoutAddress
	var id, wid uuid.UUID
	if err := row.Scan(&id, &wid, &p.Chain, &p.Address, &p.Verified, &p.AddedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return PayoutAddress{}, false, nil
		}
		return PayoutAddress{}, false, err
	}
	p.ID = id.String()
	p.WorkerID = wid.String()
	return p, true, nil
}
