package treasury

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/agentpay/agent_pay/internal/ledger"
)

// PostgresStore keeps treasury configuration in PostgreSQL.
type PostgresStore struct {
	db *pgxpool.Pool
}

// NewPostgresStore builds a Postgres-backed treasury store.
func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

// Get returns the stored address for the chain, empty when unset.
func (s *PostgresStore) Get(ctx context.Context, chain ledger.Chain) (string, error) {
	var address string
	err := s.db.QueryRow(ctx, `SELECT COALESCE(MAX(address), '') FROM treasury_addresses WHERE chain = $1`, chain).Scan(&address)
	return address, err
}

// SetIfAbsent inserts the address unless the chain already has one. The
// unique constraint on chain makes the write-once guard hold across
// concurrent instances.
func (s *PostgresStore) SetIfAbsent(ctx context.Context, chain ledger.Chain, address string) (bool, error) {
	tag, err := s.db.Exec(ctx, `INSERT INTO treasury_addresses (id, chain, address)
        VALUES ($1, $2, $3) ON CONFLICT (chain) DO NOTHING`, uuid.New(), chain, address)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// MemoryStore is an in-memory treasury store for tests and dev mode.
type MemoryStore struct {
	mu        sync.RWMutex
	addresses map[ledger.Chain]string
}

// NewMemoryStore constructs an in-memory treasury store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{addresses: make(map[ledger.Chain]string)}
}

// Get returns the stored address for the chain, empty when unset.
func (s *MemoryStore) Get(_ context.Context, chain ledger.Chain) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.addresses[chain], nil
}

// SetIfAbsent stores the address only when the chain has none yet.
func (s *MemoryStore) SetIfAbsent(_ context.Context, chain ledger.Chain, address string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.addresses[chain]; exists {
		return false, nil
	}
	s.addresses[chain] = address
	return true, nil
}
