package deposit

import (
	"context"
	"errors"
	"testing"

	"github.com/agentpay/agent_pay/internal/custody"
	"github.com/agentpay/agent_pay/internal/derivation"
	"github.com/agentpay/agent_pay/internal/events"
	"github.com/agentpay/agent_pay/internal/ledger"
	"github.com/agentpay/agent_pay/internal/logging"
)

func newTestService() (*Service, ledger.Store) {
	store := ledger.NewInMemory()
	logger := logging.Discard()
	svc := NewService(
		NewMemoryRepository(),
		derivation.NewAllocator(derivation.NewMemoryStore()),
		custody.StaticProvider{},
		store,
		events.NewLoggerSink(logger),
		logger,
	)
	return svc, store
}

func TestIssueAddressIsStablePerWorker(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	first, err := svc.IssueAddress(ctx, "worker-1", ledger.ChainETH)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if first.Address == "" || first.Index != 0 {
		t.Fatalf("expected first derivation at index 0, got %+v", first)
	}

	again, err := svc.IssueAddress(ctx, "worker-1", ledger.ChainETH)
	if err != nil {
		t.Fatalf("reissue: %v", err)
	}
	if again.Address != first.Address || again.Index != first.Index {
		t.Fatalf("reissue changed the assignment: %+v vs %+v", again, first)
	}

	other, err := svc.IssueAddress(ctx, "worker-2", ledger.ChainETH)
	if err != nil {
		t.Fatalf("issue other: %v", err)
	}
	if other.Address == first.Address {
		t.Fatal("distinct workers must not share a deposit address")
	}
	if other.Index != 1 {
		t.Fatalf("expected next index 1, got %d", other.Index)
	}
}

func TestIssueAddressPerChainCounters(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	eth, err := svc.IssueAddress(ctx, "worker-1", ledger.ChainETH)
	if err != nil {
		t.Fatalf("issue eth: %v", err)
	}
	btc, err := svc.IssueAddress(ctx, "worker-1", ledger.ChainBTC)
	if err != nil {
		t.Fatalf("issue btc: %v", err)
	}
	if eth.Index != 0 || btc.Index != 0 {
		t.Fatalf("chains advance independently, got eth=%d btc=%d", eth.Index, btc.Index)
	}
}

func TestIssueAddressUnknownChain(t *testing.T) {
	svc, _ := newTestService()
	if _, err := svc.IssueAddress(context.Background(), "worker-1", "doge"); !errors.Is(err, ledger.ErrUnknownChain) {
		t.Fatalf("expected ErrUnknownChain, got %v", err)
	}
}

func TestCreditAddsAvailableFunds(t *testing.T) {
	svc, store := newTestService()
	ctx := context.Background()

	result, err := svc.Credit(ctx, CreditInput{
		WorkerID: "worker-1",
		Chain:    ledger.ChainETH,
		Amount:   "1.5",
		TxHash:   "0xabc",
	})
	if err != nil {
		t.Fatalf("credit: %v", err)
	}
	if result.AlreadyCredited {
		t.Fatal("first credit flagged as duplicate")
	}

	acct, err := store.GetOrCreate(ctx, ledger.WorkerRef("worker-1", ledger.ChainETH))
	if err != nil {
		t.Fatalf("get account: %v", err)
	}
	if acct.Available != "1.5" {
		t.Fatalf("expected available 1.5, got %s", acct.Available)
	}
}

func TestCreditIsIdempotentPerTxHash(t *testing.T) {
	svc, store := newTestService()
	ctx := context.Background()

	in := CreditInput{WorkerID: "worker-1", Chain: ledger.ChainETH, Amount: "1.5", TxHash: "0xabc"}
	if _, err := svc.Credit(ctx, in); err != nil {
		t.Fatalf("credit: %v", err)
	}
	replay, err := svc.Credit(ctx, in)
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if !replay.AlreadyCredited {
		t.Fatal("replayed tx hash not recognized")
	}
	if replay.WorkerID != "worker-1" || replay.Amount != "1.5" {
		t.Fatalf("replay result diverged: %+v", replay)
	}

	acct, err := store.GetOrCreate(ctx, ledger.WorkerRef("worker-1", ledger.ChainETH))
	if err != nil {
		t.Fatalf("get account: %v", err)
	}
	if acct.Available != "1.5" {
		t.Fatalf("replay moved funds: available %s", acct.Available)
	}

	entries, err := store.FindEntries(ctx, ledger.EntryFilter{TxHash: "0xabc"})
	if err != nil {
		t.Fatalf("find entries: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected a single credit entry, got %d", len(entries))
	}
}

func TestCreditValidation(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	if _, err := svc.Credit(ctx, CreditInput{WorkerID: "w", Chain: ledger.ChainETH, Amount: "1", TxHash: ""}); !errors.Is(err, ErrMissingTxHash) {
		t.Fatalf("expected ErrMissingTxHash, got %v", err)
	}
	if _, err := svc.Credit(ctx, CreditInput{WorkerID: "w", Chain: ledger.ChainETH, Amount: "0", TxHash: "0x1"}); !errors.Is(err, ledger.ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}
	if _, err := svc.Credit(ctx, CreditInput{WorkerID: "w", Chain: "doge", Amount: "1", TxHash: "0x1"}); !errors.Is(err, ledger.ErrUnknownChain) {
		t.Fatalf("expected ErrUnknownChain, got %v", err)
	}
}
