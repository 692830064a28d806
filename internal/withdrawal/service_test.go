package withdrawal

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/agentpay/agent_pay/internal/custody"
	"github.com/agentpay/agent_pay/internal/events"
	"github.com/agentpay/agent_pay/internal/ledger"
	"github.com/agentpay/agent_pay/internal/logging"
	"github.com/agentpay/agent_pay/internal/worker"
)

const (
	testEthDestination = "0x5aaeb6053f3e94c9b9a09f33669435e7ef1beaed"
	testBtcDestination = "1A1zP1eP5QGefi2DMPTfTL5SLmv7DivfNa"
)

type brokenCustody struct {
	custody.StaticProvider
}

func (brokenCustody) Transfer(context.Context, ledger.Chain, string, string) (string, error) {
	return "", errors.New("node unreachable")
}

type brokenCreateRepo struct {
	Repository
}

func (brokenCreateRepo) Create(context.Context, Request) error {
	return errors.New("storage unavailable")
}

type svcFixture struct {
	svc     *Service
	repo    Repository
	ledger  ledger.Store
	workers *worker.MemoryRepository
}

func newSvcFixture(provider custody.Provider) *svcFixture {
	repo := NewMemoryRepository()
	store := ledger.NewInMemory()
	workers := worker.NewMemoryRepository()
	logger := logging.Discard()
	svc := NewService(repo, store, workers, testEngine(), provider, events.NewLoggerSink(logger), logger)
	return &svcFixture{svc: svc, repo: repo, ledger: store, workers: workers}
}

func (f *svcFixture) seedTrustedWorker(chain ledger.Chain, destination, available string) {
	now := time.Now().UTC()
	f.workers.Put(trustedWorker(now))
	f.workers.AddPayoutAddress(worker.PayoutAddress{
		WorkerID: "worker-1",
		Chain:    chain,
		Address:  destination,
		Verified: true,
		AddedAt:  now.Add(-72 * time.Hour),
	})
	ledger.SeedBalance(f.ledger, ledger.WorkerRef("worker-1", chain), ledger.BucketAvailable, available)
}

func (f *svcFixture) balances(t *testing.T, chain ledger.Chain) (string, string) {
	t.Helper()
	acct, err := f.ledger.GetOrCreate(context.Background(), ledger.WorkerRef("worker-1", chain))
	if err != nil {
		t.Fatalf("get account: %v", err)
	}
	return acct.Available, acct.Locked
}

func TestRequestAutoApproveBroadcasts(t *testing.T) {
	f := newSvcFixture(custody.StaticProvider{})
	f.seedTrustedWorker(ledger.ChainETH, testEthDestination, "1")
	ctx := context.Background()

	req, err := f.svc.Request(ctx, RequestInput{
		WorkerID:           "worker-1",
		Chain:              ledger.ChainETH,
		Amount:             "0.5",
		DestinationAddress: testEthDestination,
	})
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if req.Status != StatusBroadcasted {
		t.Fatalf("expected broadcasted, got %s", req.Status)
	}
	if req.TxHash == "" {
		t.Fatal("expected a transaction hash")
	}
	if req.RiskScore != 0 {
		t.Fatalf("expected zero risk score, got %d", req.RiskScore)
	}

	available, locked := f.balances(t, ledger.ChainETH)
	if available != "0.5" || locked != "0" {
		t.Fatalf("expected 0.5/0 after broadcast, got %s/%s", available, locked)
	}

	entries, err := f.ledger.FindEntries(ctx, ledger.EntryFilter{WithdrawalID: req.ID})
	if err != nil {
		t.Fatalf("find entries: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected lock + debit entries, got %d", len(entries))
	}
	debits, err := f.ledger.FindEntries(ctx, ledger.EntryFilter{
		Types:        []ledger.EntryType{ledger.EntryWithdrawalDebit},
		WithdrawalID: req.ID,
	})
	if err != nil {
		t.Fatalf("find debit: %v", err)
	}
	if len(debits) != 1 || debits[0].TxHash != req.TxHash {
		t.Fatalf("expected one debit entry carrying the tx hash, got %+v", debits)
	}
}

func TestRequestYoungAccountHeld(t *testing.T) {
	f := newSvcFixture(custody.StaticProvider{})
	f.seedTrustedWorker(ledger.ChainETH, testEthDestination, "1")
	now := time.Now().UTC()
	w := trustedWorker(now)
	w.CreatedAt = now.Add(-2 * time.Hour)
	f.workers.Put(w)
	ctx := context.Background()

	req, err := f.svc.Request(ctx, RequestInput{
		WorkerID:           "worker-1",
		Chain:              ledger.ChainETH,
		Amount:             "0.5",
		DestinationAddress: testEthDestination,
	})
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if req.Status != StatusRiskHold {
		t.Fatalf("expected risk_hold, got %s", req.Status)
	}
	if req.RiskScore < 30 || !containsReason(req.RiskReasons, ReasonAccountTooNew) {
		t.Fatalf("expected ACCOUNT_TOO_NEW hold, got %d %v", req.RiskScore, req.RiskReasons)
	}

	// Funds stay reserved while the request waits for review.
	available, locked := f.balances(t, ledger.ChainETH)
	if available != "0.5" || locked != "0.5" {
		t.Fatalf("expected 0.5/0.5 on hold, got %s/%s", available, locked)
	}
}

func TestRequestDailyCapHeld(t *testing.T) {
	f := newSvcFixture(custody.StaticProvider{})
	f.seedTrustedWorker(ledger.ChainBTC, testBtcDestination, "1")
	ctx := context.Background()
	now := time.Now().UTC()

	for i, prior := range []Request{
		{ID: "prior-1", WorkerID: "worker-1", Chain: ledger.ChainBTC, Amount: "0.03", Status: StatusBroadcasted},
		{ID: "prior-2", WorkerID: "worker-1", Chain: ledger.ChainBTC, Amount: "0.01", Status: StatusApproved},
	} {
		prior.CreatedAt = now.Add(-time.Duration(i+1) * time.Hour)
		if err := f.repo.Create(ctx, prior); err != nil {
			t.Fatalf("seed prior: %v", err)
		}
	}

	req, err := f.svc.Request(ctx, RequestInput{
		WorkerID:           "worker-1",
		Chain:              ledger.ChainBTC,
		Amount:             "0.02",
		DestinationAddress: testBtcDestination,
	})
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if req.Status != StatusRiskHold {
		t.Fatalf("expected risk_hold on daily-cap overshoot, got %s", req.Status)
	}
	if !containsReason(req.RiskReasons, ReasonDailyLimitExceeded) {
		t.Fatalf("expected %s, got %v", ReasonDailyLimitExceeded, req.RiskReasons)
	}
}

func TestRequestDailyCapIgnoresOtherChains(t *testing.T) {
	f := newSvcFixture(custody.StaticProvider{})
	f.seedTrustedWorker(ledger.ChainBTC, testBtcDestination, "1")
	ctx := context.Background()
	now := time.Now().UTC()

	// Heavy ETH volume must not hold an under-cap BTC request.
	prior := Request{
		ID: "prior-eth", WorkerID: "worker-1", Chain: ledger.ChainETH,
		Amount: "3", Status: StatusBroadcasted, CreatedAt: now.Add(-2 * time.Hour),
	}
	if err := f.repo.Create(ctx, prior); err != nil {
		t.Fatalf("seed prior: %v", err)
	}

	req, err := f.svc.Request(ctx, RequestInput{
		WorkerID:           "worker-1",
		Chain:              ledger.ChainBTC,
		Amount:             "0.01",
		DestinationAddress: testBtcDestination,
	})
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if req.Status != StatusBroadcasted {
		t.Fatalf("expected auto-approved broadcast, got %s %v", req.Status, req.RiskReasons)
	}
}

func TestRequestSuspendedWorker(t *testing.T) {
	f := newSvcFixture(custody.StaticProvider{})
	f.seedTrustedWorker(ledger.ChainETH, testEthDestination, "1")
	now := time.Now().UTC()
	w := trustedWorker(now)
	w.Status = worker.StatusSuspended
	f.workers.Put(w)
	ctx := context.Background()

	_, err := f.svc.Request(ctx, RequestInput{
		WorkerID:           "worker-1",
		Chain:              ledger.ChainETH,
		Amount:             "0.5",
		DestinationAddress: testEthDestination,
	})
	if !errors.Is(err, ErrAccountSuspended) {
		t.Fatalf("expected ErrAccountSuspended, got %v", err)
	}

	// Rejected before any funds moved.
	available, locked := f.balances(t, ledger.ChainETH)
	if available != "1" || locked != "0" {
		t.Fatalf("expected untouched balances, got %s/%s", available, locked)
	}
}

func TestRequestValidation(t *testing.T) {
	f := newSvcFixture(custody.StaticProvider{})
	f.seedTrustedWorker(ledger.ChainETH, testEthDestination, "1")
	ctx := context.Background()

	_, err := f.svc.Request(ctx, RequestInput{
		WorkerID: "worker-1", Chain: ledger.ChainETH,
		Amount: "0.0001", DestinationAddress: testEthDestination,
	})
	if !errors.Is(err, ErrBelowMinimum) {
		t.Fatalf("expected ErrBelowMinimum, got %v", err)
	}

	_, err = f.svc.Request(ctx, RequestInput{
		WorkerID: "worker-1", Chain: ledger.ChainETH,
		Amount: "0.5", DestinationAddress: "not-an-address",
	})
	if !errors.Is(err, ErrInvalidDestination) {
		t.Fatalf("expected ErrInvalidDestination, got %v", err)
	}

	_, err = f.svc.Request(ctx, RequestInput{
		WorkerID: "worker-1", Chain: "doge",
		Amount: "0.5", DestinationAddress: testEthDestination,
	})
	if !errors.Is(err, ledger.ErrUnknownChain) {
		t.Fatalf("expected ErrUnknownChain, got %v", err)
	}
}

func TestRequestInsufficientFunds(t *testing.T) {
	f := newSvcFixture(custody.StaticProvider{})
	f.seedTrustedWorker(ledger.ChainETH, testEthDestination, "0.1")
	ctx := context.Background()

	_, err := f.svc.Request(ctx, RequestInput{
		WorkerID:           "worker-1",
		Chain:              ledger.ChainETH,
		Amount:             "0.5",
		DestinationAddress: testEthDestination,
	})
	if !errors.Is(err, ledger.ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
	available, locked := f.balances(t, ledger.ChainETH)
	if available != "0.1" || locked != "0" {
		t.Fatalf("expected untouched balances, got %s/%s", available, locked)
	}
}

func TestRequestBroadcastFailureUnlocks(t *testing.T) {
	f := newSvcFixture(brokenCustody{})
	f.seedTrustedWorker(ledger.ChainETH, testEthDestination, "1")
	ctx := context.Background()

	req, err := f.svc.Request(ctx, RequestInput{
		WorkerID:           "worker-1",
		Chain:              ledger.ChainETH,
		Amount:             "0.5",
		DestinationAddress: testEthDestination,
	})
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if req.Status != StatusFailed {
		t.Fatalf("expected failed, got %s", req.Status)
	}
	if req.StatusReason != "broadcast_failed" {
		t.Fatalf("expected broadcast_failed reason, got %q", req.StatusReason)
	}

	available, locked := f.balances(t, ledger.ChainETH)
	if available != "1" || locked != "0" {
		t.Fatalf("expected funds restored, got %s/%s", available, locked)
	}

	unlocks, err := f.ledger.FindEntries(ctx, ledger.EntryFilter{
		Types:        []ledger.EntryType{ledger.EntryWithdrawalUnlock},
		WithdrawalID: req.ID,
	})
	if err != nil {
		t.Fatalf("find unlock: %v", err)
	}
	if len(unlocks) != 1 || unlocks[0].Metadata["action"] != "broadcast_failed" {
		t.Fatalf("expected one broadcast_failed unlock entry, got %+v", unlocks)
	}
}

func TestRequestPersistFailureUnlocks(t *testing.T) {
	store := ledger.NewInMemory()
	workers := worker.NewMemoryRepository()
	logger := logging.Discard()
	repo := brokenCreateRepo{NewMemoryRepository()}
	svc := NewService(repo, store, workers, testEngine(), custody.StaticProvider{}, events.NewLoggerSink(logger), logger)

	now := time.Now().UTC()
	workers.Put(trustedWorker(now))
	workers.AddPayoutAddress(worker.PayoutAddress{
		WorkerID: "worker-1",
		Chain:    ledger.ChainETH,
		Address:  testEthDestination,
		Verified: true,
		AddedAt:  now.Add(-72 * time.Hour),
	})
	ledger.SeedBalance(store, ledger.WorkerRef("worker-1", ledger.ChainETH), ledger.BucketAvailable, "1")
	ctx := context.Background()

	_, err := svc.Request(ctx, RequestInput{
		WorkerID:           "worker-1",
		Chain:              ledger.ChainETH,
		Amount:             "0.5",
		DestinationAddress: testEthDestination,
	})
	if err == nil {
		t.Fatal("expected the persist failure to surface")
	}

	// The reservation is rolled back rather than orphaned.
	acct, err := store.GetOrCreate(ctx, ledger.WorkerRef("worker-1", ledger.ChainETH))
	if err != nil {
		t.Fatalf("get account: %v", err)
	}
	if acct.Available != "1" || acct.Locked != "0" {
		t.Fatalf("expected funds restored, got %s/%s", acct.Available, acct.Locked)
	}
	unlocks, err := store.FindEntries(ctx, ledger.EntryFilter{
		Types: []ledger.EntryType{ledger.EntryWithdrawalUnlock},
	})
	if err != nil {
		t.Fatalf("find unlock: %v", err)
	}
	if len(unlocks) != 1 || unlocks[0].Metadata["action"] != "request_persist_failed" {
		t.Fatalf("expected one rollback unlock entry, got %+v", unlocks)
	}
}

func TestResolveApproveBroadcasts(t *testing.T) {
	f := newSvcFixture(custody.StaticProvider{})
	f.seedTrustedWorker(ledger.ChainETH, testEthDestination, "1")
	now := time.Now().UTC()
	w := trustedWorker(now)
	w.CreatedAt = now.Add(-2 * time.Hour)
	f.workers.Put(w)
	ctx := context.Background()

	held, err := f.svc.Request(ctx, RequestInput{
		WorkerID:           "worker-1",
		Chain:              ledger.ChainETH,
		Amount:             "0.5",
		DestinationAddress: testEthDestination,
	})
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if held.Status != StatusRiskHold {
		t.Fatalf("expected risk_hold, got %s", held.Status)
	}

	req, err := f.svc.Resolve(ctx, held.ID, true, "")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if req.Status != StatusBroadcasted || req.TxHash == "" {
		t.Fatalf("expected broadcasted with tx hash, got %s %q", req.Status, req.TxHash)
	}
	available, locked := f.balances(t, ledger.ChainETH)
	if available != "0.5" || locked != "0" {
		t.Fatalf("expected locked funds consumed, got %s/%s", available, locked)
	}
}

func TestResolveRejectUnlocks(t *testing.T) {
	f := newSvcFixture(custody.StaticProvider{})
	f.seedTrustedWorker(ledger.ChainETH, testEthDestination, "1")
	now := time.Now().UTC()
	w := trustedWorker(now)
	w.CreatedAt = now.Add(-2 * time.Hour)
	f.workers.Put(w)
	ctx := context.Background()

	held, err := f.svc.Request(ctx, RequestInput{
		WorkerID:           "worker-1",
		Chain:              ledger.ChainETH,
		Amount:             "0.5",
		DestinationAddress: testEthDestination,
	})
	if err != nil {
		t.Fatalf("request: %v", err)
	}

	req, err := f.svc.Resolve(ctx, held.ID, false, "address mismatch")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if req.Status != StatusRejected || req.StatusReason != "address mismatch" {
		t.Fatalf("expected rejected with note, got %s %q", req.Status, req.StatusReason)
	}
	available, locked := f.balances(t, ledger.ChainETH)
	if available != "1" || locked != "0" {
		t.Fatalf("expected funds restored, got %s/%s", available, locked)
	}

	// Already resolved: a second decision is refused.
	if _, err := f.svc.Resolve(ctx, held.ID, true, ""); !errors.Is(err, ErrNotOnHold) {
		t.Fatalf("expected ErrNotOnHold, got %v", err)
	}
}

func TestConfirmBroadcastedRequest(t *testing.T) {
	f := newSvcFixture(custody.StaticProvider{})
	f.seedTrustedWorker(ledger.ChainETH, testEthDestination, "1")
	ctx := context.Background()

	req, err := f.svc.Request(ctx, RequestInput{
		WorkerID:           "worker-1",
		Chain:              ledger.ChainETH,
		Amount:             "0.5",
		DestinationAddress: testEthDestination,
	})
	if err != nil {
		t.Fatalf("request: %v", err)
	}

	confirmed, err := f.svc.Confirm(ctx, req.ID)
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if confirmed.Status != StatusConfirmed {
		t.Fatalf("expected confirmed, got %s", confirmed.Status)
	}
}
