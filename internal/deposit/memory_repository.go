package deposit

import (
	"context"
	"sync"

	"github.com/agentpay/agent_pay/internal/ledger"
)

type assignmentKey struct {
	workerID string
	chain    ledger.Chain
}

type memoryRepository struct {
	mu      sync.RWMutex
	storage map[assignmentKey]Address
}

// NewMemoryRepository constructs an in-memory repository for tests.
func NewMemoryRepository() Repository {
	return &memoryRepository{storage: make(map[assignmentKey]Address)}
}

func (r *memoryRepository) SaveAddress(_ context.Context, a Address) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := assignmentKey{workerID: a.WorkerID, chain: a.Chain}
	if _, exists := r.storage[key]; exists {
		return nil
	}
	r.storage[key] = a
	return nil
}

func (r *memoryRepository) FindAddress(_ context.Context, workerID string, chain ledger.Chain) (Address, bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.storage[assignmentKey{workerID: workerID, chain: chain}]
	return a, ok, nil
}
