package worker

import (
	"context"
	"sync"

	"github.com/agentpay/agent_pay/internal/ledger"
)

// MemoryRepository is an in-memory worker store for tests and dev mode.
type MemoryRepository struct {
	mu        sync.RWMutex
	workers   map[string]Worker
	addresses []PayoutAddress
}

// NewMemoryRepository constructs an in-memory repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{workers: make(map[string]Worker)}
}

// Put stores or replaces a worker profile.
func (r *MemoryRepository) Put(w Worker) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.workers[w.ID] = w
}

// AddPayoutAddress stores a saved destination.
func (r *MemoryRepository) AddPayoutAddress(p PayoutAddress) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.addresses = append(r.addresses, p)
}

// Get fetches a worker profile by identifier.
func (r *MemoryRepository) Get(_ context.Context, id string) (Worker, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	w, ok := r.workers[id]
	if !ok {
		return Worker{}, ErrNotFound
	}
	return w, nil
}

// FindPayoutAddress looks up a saved destination for the worker on a chain.
func (r *MemoryRepository) FindPayoutAddress(_ context.Context, workerID string, chain ledger.Chain, address string) (PayoutAddress, bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, p := range r.addresses {
		if p.WorkerID == workerID && p.Chain == chain && p.Address == address {
			return p, true, nil
		}
	}
	return PayoutAddress{}, false, nil
}
