package derivation

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/agentpay/agent_pay/internal/ledger"
)

func TestAllocateSequential(t *testing.T) {
	a := NewAllocator(NewMemoryStore())
	ctx := context.Background()

	for want := int64(0); want < 5; want++ {
		got, err := a.Allocate(ctx, ledger.ChainETH)
		if err != nil {
			t.Fatalf("allocate: %v", err)
		}
		if got != want {
			t.Fatalf("expected index %d, got %d", want, got)
		}
	}
}

func TestAllocatePerChainCounters(t *testing.T) {
	a := NewAllocator(NewMemoryStore())
	ctx := context.Background()

	if _, err := a.Allocate(ctx, ledger.ChainETH); err != nil {
		t.Fatalf("allocate eth: %v", err)
	}
	got, err := a.Allocate(ctx, ledger.ChainBTC)
	if err != nil {
		t.Fatalf("allocate btc: %v", err)
	}
	if got != 0 {
		t.Fatalf("btc counter should start at 0, got %d", got)
	}
}

func TestAllocateRejectsUnknownChain(t *testing.T) {
	a := NewAllocator(NewMemoryStore())
	if _, err := a.Allocate(context.Background(), ledger.Chain("doge")); !errors.Is(err, ledger.ErrUnknownChain) {
		t.Fatalf("expected ErrUnknownChain, got %v", err)
	}
}

// With N callers a single caller can lose at most N-1 claims, so N equal to
// the attempt ceiling is the largest group guaranteed to finish without
// ErrContention under any interleaving.
func TestAllocateConcurrentDistinctContiguous(t *testing.T) {
	a := NewAllocator(NewMemoryStore())
	ctx := context.Background()

	const callers = maxAttempts
	results := make(chan int64, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			idx, err := a.Allocate(ctx, ledger.ChainETH)
			if err != nil {
				t.Errorf("allocate: %v", err)
				return
			}
			results <- idx
		}()
	}
	wg.Wait()
	close(results)

	seen := make(map[int64]bool)
	for idx := range results {
		if seen[idx] {
			t.Fatalf("duplicate index %d", idx)
		}
		seen[idx] = true
	}
	if len(seen) != callers {
		t.Fatalf("expected %d indices, got %d", callers, len(seen))
	}
	for i := int64(0); i < callers; i++ {
		if !seen[i] {
			t.Fatalf("missing index %d", i)
		}
	}
}

// Larger groups may see ErrContention; callers retrying the whole operation
// must still never observe a duplicate.
func TestAllocateHighContentionNoDuplicates(t *testing.T) {
	a := NewAllocator(NewMemoryStore())
	ctx := context.Background()

	const callers = 24
	results := make(chan int64, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				idx, err := a.Allocate(ctx, ledger.ChainBTC)
				if errors.Is(err, ErrContention) {
					continue
				}
				if err != nil {
					t.Errorf("allocate: %v", err)
					return
				}
				results <- idx
				return
			}
		}()
	}
	wg.Wait()
	close(results)

	seen := make(map[int64]bool)
	for idx := range results {
		if seen[idx] {
			t.Fatalf("duplicate index %d", idx)
		}
		seen[idx] = true
	}
	if len(seen) != callers {
		t.Fatalf("expected %d distinct indices, got %d", callers, len(seen))
	}
	for i := int64(0); i < callers; i++ {
		if !seen[i] {
			t.Fatalf("missing index %d", i)
		}
	}
}
