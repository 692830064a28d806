package escrow

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/agentpay/agent_pay/internal/events"
	"github.com/agentpay/agent_pay/internal/ledger"
)

// ReleaseStore persists pending payout releases.
type ReleaseStore interface {
	Schedule(ctx context.Context, release PendingRelease) error
	Due(ctx context.Context, now time.Time) ([]PendingRelease, error)
	MarkReleased(ctx context.Context, id string, at time.Time) error
}

// PostgresReleaseStore keeps pending releases in PostgreSQL.
type PostgresReleaseStore struct {
	db *pgxpool.Pool
}

// NewPostgresReleaseStore builds a Postgres-backed release store.
func NewPostgresReleaseStore(db *pgxpool.Pool) *PostgresReleaseStore {
	return &PostgresReleaseStore{db: db}
}

// Schedule inserts a pending release row.
func (s *PostgresReleaseStore) Schedule(ctx context.Context, release PendingRelease) error {
	id, err := uuid.Parse(release.ID)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(ctx, `INSERT INTO pending_releases (id, task_id, worker_id, chain, amount, release_at)
        VALUES ($1, $2, $3, $4, $5, $6)`,
		id, release.TaskID, release.WorkerID, release.Chain, release.Amount, release.ReleaseAt.UTC())
	return err
}

// Due lists unreleased rows whose release time has passed.
func (s *PostgresReleaseStore) Due(ctx context.Context, now time.Time) ([]PendingRelease, error) {
	rows, err := s.db.Query(ctx, `SELECT id, task_id, worker_id, chain, amount, release_at
        FROM pending_releases WHERE released_at IS NULL AND release_at <= $1 ORDER BY release_at ASC`, now.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var due []PendingRelease
	for rows.Next() {
		var r PendingRelease
		var id uuid.UUID
		if err := rows.Scan(&id, &r.TaskID, &r.WorkerID, &r.Chain, &r.Amount, &r.ReleaseAt); err != nil {
			return nil, err
		}
		r.ID = id.String()
		due = append(due, r)
	}
	return due, rows.Err()
}

// MarkReleased stamps the row so it is never picked up again.
func (s *PostgresReleaseStore) MarkReleased(ctx context.Context, id string, at time.Time) error {
	releaseID, err := uuid.Parse(id)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(ctx, `UPDATE pending_releases SET released_at = $1 WHERE id = $2 AND released_at IS NULL`,
		at.UTC(), releaseID)
	return err
}

// MemoryReleaseStore is an in-memory release store for tests and dev mode.
type MemoryReleaseStore struct {
	mu       sync.Mutex
	releases map[string]PendingRelease
}

// NewMemoryReleaseStore constructs an in-memory release store.
func NewMemoryReleaseStore() *MemoryReleaseStore {
	return &MemoryReleaseStore{releases: make(map[string]PendingRelease)}
}

// Schedule stores a pending release.
func (s *MemoryReleaseStore) Schedule(_ context.Context, release PendingRelease) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.releases[release.ID] = release
	return nil
}

// Due lists unreleased entries whose release time has passed.
func (s *MemoryReleaseStore) Due(_ context.Context, now time.Time) ([]PendingRelease, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var due []PendingRelease
	for _, r := range s.releases {
		if r.ReleasedAt == nil && !r.ReleaseAt.After(now) {
			due = append(due, r)
		}
	}
	return due, nil
}

// MarkReleased stamps the release so it is never picked up again.
func (s *MemoryReleaseStore) MarkReleased(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.releases[id]; ok && r.ReleasedAt == nil {
		r.ReleasedAt = &at
		s.releases[id] = r
	}
	return nil
}

// ReleaseDue moves every due payout from the worker's locked bucket to
// available. Exposed separately from Run so tests and operational tooling
// can drive it with an explicit clock.
func (s *Service) ReleaseDue(ctx context.Context, now time.Time) (int, error) {
	due, err := s.releases.Due(ctx, now)
	if err != nil {
		return 0, err
	}
	released := 0
	for _, r := range due {
		workerRef := ledger.WorkerRef(r.WorkerID, ledger.Chain(r.Chain))
		if _, clamped, err := s.ledger.DebitClamped(ctx, workerRef, ledger.BucketLocked, r.Amount); err != nil {
			return released, err
		} else if clamped {
			s.logger.Error("worker locked balance short of pending release",
				"task_id", r.TaskID, "worker_id", r.WorkerID, "amount", r.Amount)
		}
		if _, err := s.ledger.Credit(ctx, workerRef, ledger.BucketAvailable, r.Amount); err != nil {
			return released, err
		}
		if _, err := s.ledger.RecordEntry(ctx, ledger.Entry{
			Chain:    ledger.Chain(r.Chain),
			Type:     ledger.EntryPayoutRelease,
			Amount:   r.Amount,
			ToOwner:  r.WorkerID,
			TaskID:   r.TaskID,
			Metadata: map[string]string{"release_id": r.ID},
		}); err != nil {
			return released, err
		}
		if err := s.releases.MarkReleased(ctx, r.ID, now); err != nil {
			return released, err
		}
		s.sink.Emit(ctx, events.Event{Kind: events.KindPayoutReleased, Subject: r.TaskID, Fields: map[string]string{
			"worker_id": r.WorkerID,
			"amount":    r.Amount,
		}})
		released++
	}
	return released, nil
}

// Run polls for due releases until the context is cancelled. The hold is a
// scheduled continuation, never a sleep inside a request handler.
func (s *Service) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.ReleaseDue(ctx, time.Now().UTC()); err != nil {
				s.logger.Error("release pending payouts", "error", err)
			}
		}
	}
}
