package task

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound indicates the task does not exist.
var ErrNotFound = errors.New("task not found")

// Repository persists task rows.
type Repository interface {
	Create(ctx context.Context, t Task) error
	Get(ctx context.Context, id string) (Task, error)
	UpdateEscrow(ctx context.Context, id string, escrowStatus EscrowStatus, status string) error
}

// PostgresRepository stores tasks in PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository builds a repository backed by PostgreSQL.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Create inserts a task record.
func (r *PostgresRepository) Create(ctx context.Context, t Task) error {
	taskID, err := uuid.Parse(t.ID)
	if err != nil {
		return err
	}
	_, err = r.db.Exec(ctx, `INSERT INTO tasks
        (id, creator_worker_id, claimed_by, chain, escrow_amount, escrow_status, status, created_at, updated_at)
        VALUES ($1, $2, NULLIF($3,''), $4, $5, $6, $7, $8, $8)`,
		taskID, t.CreatorWorkerID, t.ClaimedBy, t.Chain, t.EscrowAmount, t.EscrowStatus, t.Status, t.CreatedAt.UTC())
	return err
}

// Get fetches a task by identifier.
func (r *PostgresRepository) Get(ctx context.Context, id string) (Task, error) {
	taskID, err := uuid.Parse(id)
	if err != nil {
		return Task{}, ErrNotFound
	}
	row := r.db.QueryRow(ctx, `SELECT id, creator_worker_id, COALESCE(claimed_by,''), chain,
        escrow_amount, escrow_status, status, created_at, updated_at
        FROM tasks WHERE id = $1`, taskID)

	var t Task
	var idVal uuid.UUID
	if err := row.Scan(&idVal, &t.CreatorWorkerID, &t.ClaimedBy, &t.Chain,
		&t.EscrowAmount, &t.EscrowStatus, &t.Status, &t.CreatedAt, &t.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Task{}, ErrNotFound
		}
		return Task{}, err
	}
	t.ID = idVal.String()
	return t, nil
}

// UpdateEscrow moves the escrow state machine and, when status is non-empty,
// the task status alongside it.
func (r *PostgresRepository) UpdateEscrow(ctx context.Context, id string, escrowStatus EscrowStatus, status string) error {
	taskID, err := uuid.Parse(id)
	if err != nil {
		return ErrNotFound
	}
	tag, err := r.db.Exec(ctx, `UPDATE tasks SET escrow_status = $1,
        status = COALESCE(NULLIF($2,''), status), updated_at = $3 WHERE id = $4`,
		escrowStatus, status, time.Now().UTC(), taskID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
