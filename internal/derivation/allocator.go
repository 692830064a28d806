// Package derivation hands out unique, sequential indices per chain for
// deriving deposit addresses. Allocation is an optimistic claim loop with
// bounded, jittered retries: a lost race discards the observed index and
// tries again, so gaps are tolerable but duplicates can never be returned.
package derivation

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/agentpay/agent_pay/internal/ledger"
)

const (
	maxAttempts    = 5
	backoffFloorMs = 10
	backoffSpanMs  = 40
)

var (
	// ErrContention indicates the claim loop exhausted its retries. The
	// caller may retry the whole operation; no index was consumed.
	ErrContention = errors.New("derivation index contention: retries exhausted")
)

// Store persists the per-chain derivation counter.
type Store interface {
	// NextIndex returns the chain's counter, creating it at zero when absent.
	NextIndex(ctx context.Context, chain ledger.Chain) (int64, error)
	// Claim advances the counter from observed to observed+1 only if it
	// still equals observed, reporting whether the claim won.
	Claim(ctx context.Context, chain ledger.Chain, observed int64) (bool, error)
}

// Allocator allocates derivation indices.
type Allocator struct {
	store Store
}

// NewAllocator builds an allocator over the given store.
func NewAllocator(store Store) *Allocator {
	return &Allocator{store: store}
}

// Allocate returns an index never handed to any other caller for this chain.
func (a *Allocator) Allocate(ctx context.Context, chain ledger.Chain) (int64, error) {
	if !chain.Valid() {
		return 0, ledger.ErrUnknownChain
	}
	for attempt := 0; attempt < maxAttempts; attempt++ {
		observed, err := a.store.NextIndex(ctx, chain)
		if err != nil {
			return 0, fmt.Errorf("read derivation state: %w", err)
		}
		won, err := a.store.Claim(ctx, chain, observed)
		if err != nil {
			return 0, fmt.Errorf("claim derivation index: %w", err)
		}
		if won {
			return observed, nil
		}
		// Another caller raced ahead; back off briefly and retry.
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-time.After(time.Duration(backoffFloorMs+rand.Intn(backoffSpanMs)) * time.Millisecond):
		}
	}
	return 0, ErrContention
}
