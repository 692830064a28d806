package derivation

import (
	"context"
	"errors"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/agentpay/agent_pay/internal/ledger"
)

// PostgresStore keeps derivation counters in PostgreSQL. The conditional
// UPDATE is the claim primitive: it only advances the counter when the
// caller's observation is still current.
type PostgresStore struct {
	db *pgxpool.Pool
}

// NewPostgresStore builds a Postgres-backed derivation store.
func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

// NextIndex returns the chain's counter, creating the row at zero if absent.
func (s *PostgresStore) NextIndex(ctx context.Context, chain ledger.Chain) (int64, error) {
	var next int64
	err := s.db.QueryRow(ctx, `SELECT next_index FROM deposit_derivation_state WHERE chain = $1`, chain).Scan(&next)
	if err == nil {
		return next, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return 0, err
	}
	if _, err := s.db.Exec(ctx, `INSERT INTO deposit_derivation_state (chain, next_index)
        VALUES ($1, 0) ON CONFLICT (chain) DO NOTHING`, chain); err != nil {
		return 0, err
	}
	err = s.db.QueryRow(ctx, `SELECT next_index FROM deposit_derivation_state WHERE chain = $1`, chain).Scan(&next)
	return next, err
}

// Claim advances the counter only when it still equals observed.
func (s *PostgresStore) Claim(ctx context.Context, chain ledger.Chain, observed int64) (bool, error) {
	tag, err := s.db.Exec(ctx, `UPDATE deposit_derivation_state SET next_index = $1
        WHERE chain = $2 AND next_index = $3`, observed+1, chain, observed)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// MemoryStore is an in-memory derivation store for tests and dev mode.
type MemoryStore struct {
	mu      sync.Mutex
	indices map[ledger.Chain]int64
}

// NewMemoryStore constructs an in-memory derivation store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{indices: make(map[ledger.Chain]int64)}
}

// NextIndex returns the chain's counter, creating it at zero when absent.
func (s *MemoryStore) NextIndex(_ context.Context, chain ledger.Chain) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.indices[chain], nil
}

// Claim advances the counter only when it still equals observed.
func (s *MemoryStore) Claim(_ context.Context, chain ledger.Chain, observed int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.indices[chain] != observed {
		return false, nil
	}
	s.indices[chain] = observed + 1
	return true, nil
}
