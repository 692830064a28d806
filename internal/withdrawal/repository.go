package withdrawal

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound indicates the withdrawal request does not exist.
var ErrNotFound = errors.New("withdrawal request not found")

// Repository persists withdrawal requests.
type Repository interface {
	Create(ctx context.Context, r Request) error
	Get(ctx context.Context, id string) (Request, error)
	Update(ctx context.Context, r Request) error
	ListByWorkerSince(ctx context.Context, workerID string, since time.Time) ([]Request, error)
}

// PostgresRepository stores withdrawal requests in PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository builds a repository backed by PostgreSQL.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Create inserts a withdrawal request record.
func (r *PostgresRepository) Create(ctx context.Context, req Request) error {
	id, err := uuid.Parse(req.ID)
	if err != nil {
		return err
	}
	_, err = r.db.Exec(ctx, `INSERT INTO withdrawal_requests
        (id, worker_id, chain, amount, destination_address, status, risk_score, risk_reasons, tx_hash, status_reason, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NULLIF($9,''), NULLIF($10,''), $11, $11)`,
		id, req.WorkerID, req.Chain, req.Amount, req.DestinationAddress, req.Status,
		req.RiskScore, req.RiskReasons, req.TxHash, req.StatusReason, req.CreatedAt.UTC())
	return err
}

// Get fetches a withdrawal request by identifier.
func (r *PostgresRepository) Get(ctx context.Context, id string) (Request, error) {
	reqID, err := uuid.Parse(id)
	if err != nil {
		return Request{}, ErrNotFound
	}
	row := r.db.QueryRow(ctx, `SELECT id, worker_id, chain, amount, destination_address, status,
        risk_score, risk_reasons, COALESCE(tx_hash,''), COALESCE(status_reason,''), created_at, updated_at
        FROM withdrawal_requests WHERE id = $1`, reqID)
	return scanRequest(row)
}

// Update rewrites the mutable columns of a withdrawal request.
func (r *PostgresRepository) Update(ctx context.Context, req Request) error {
	id, err := uuid.Parse(req.ID)
	if err != nil {
		return ErrNotFound
	}
	tag, err := r.db.Exec(ctx, `UPDATE withdrawal_requests SET status = $1, risk_score = $2,
        risk_reasons = $3, tx_hash = NULLIF($4,''), status_reason = NULLIF($5,''), updated_at = $6
        WHERE id = $7`,
		req.Status, req.RiskScore, req.RiskReasons, req.TxHash, req.StatusReason, time.Now().UTC(), id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ListByWorkerSince returns the worker's requests created at or after since,
// newest first.
func (r *PostgresRepository) ListByWorkerSince(ctx context.Context, workerID string, since time.Time) ([]Request, error) {
	rows, err := r.db.Query(ctx, `SELECT id, worker_id, chain, amount, destination_address, status,
        risk_score, risk_reasons, COALESCE(tx_hash,''), COALESCE(status_reason,''), created_at, updated_at
        FROM withdrawal_requests WHERE worker_id = $1 AND created_at >= $2 ORDER BY created_at DESC`,
		workerID, since.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var requests []Request
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		requests = append(requests, req)
	}
	return requests, rows.Err()
}

func scanRequest(row pgx.Row) (Request, error) {
	var req Request
	var id uuid.UUID
	if err := row.Scan(&id, &req.WorkerID, &req.Chain, &req.Amount, &req.DestinationAddress,
		&req.Status, &req.RiskScore, &req.RiskReasons, &req.TxHash, &req.StatusReason,
		&req.CreatedAt, &req.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Request{}, ErrNotFound
		}
		return Request{}, err
	}
	req.ID = id.String()
	return req, nil
}
