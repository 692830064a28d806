package task

import (
	"context"
	"errors"
	"sync"
	"time"
)

type memoryRepository struct {
	mu      sync.RWMutex
	storage map[string]Task
}

// NewMemoryRepository constructs an in-memory repository for tests.
func NewMemoryRepository() Repository {
	return &memoryRepository{storage: make(map[string]Task)}
}

func (r *memoryRepository) Create(_ context.Context, t Task) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.storage[t.ID]; exists {
		return errors.New("task exists")
	}
	r.storage[t.ID] = t
	return nil
}

func (r *memoryRepository) Get(_ context.Context, id string) (Task, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.storage[id]
	if !ok {
		return Task{}, ErrNotFound
	}
	return t, nil
}

func (r *memoryRepository) UpdateEscrow(_ context.Context, id string, escrowStatus EscrowStatus, status string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.storage[id]
	if !ok {
		return ErrNotFound
	}
	t.EscrowStatus = escrowStatus
	if status != "" {
		t.Status = status
	}
	t.UpdatedAt = time.Now().UTC()
	r.storage[id] = t
	return nil
}
