package withdrawal

import (
	"testing"
	"time"

	"github.com/agentpay/agent_pay/internal/ledger"
	"github.com/agentpay/agent_pay/internal/worker"
)

func testEngine() *Engine {
	return NewEngine(RiskConfig{
		MinAccountAge: 24 * time.Hour,
		MinReputation: 50,
		Policies: map[ledger.Chain]ChainPolicy{
			ledger.ChainETH: {MinWithdrawal: "0.001", PerTxCap: "1", DailyCap: "5"},
			ledger.ChainBTC: {MinWithdrawal: "0.0001", PerTxCap: "0.05", DailyCap: "0.05"},
		},
	})
}

func trustedWorker(now time.Time) worker.Worker {
	return worker.Worker{
		ID:         "worker-1",
		Status:     worker.StatusActive,
		Reputation: 80,
		CreatedAt:  now.Add(-30 * 24 * time.Hour),
	}
}

func verifiedAddress(now time.Time) *worker.PayoutAddress {
	return &worker.PayoutAddress{
		WorkerID: "worker-1",
		Chain:    ledger.ChainETH,
		Address:  "0x5aaeb6053f3e94c9b9a09f33669435e7ef1beaed",
		Verified: true,
		AddedAt:  now.Add(-72 * time.Hour),
	}
}

func TestScoreCleanWorkerIsZero(t *testing.T) {
	now := time.Now().UTC()
	e := testEngine()

	a, err := e.Score(ScoreInput{
		Worker:       trustedWorker(now),
		Chain:        ledger.ChainETH,
		Amount:       "0.5",
		SavedAddress: verifiedAddress(now),
		Now:          now,
	})
	if err != nil {
		t.Fatalf("score: %v", err)
	}
	if a.Score != 0 || len(a.Reasons) != 0 {
		t.Fatalf("expected clean score, got %d %v", a.Score, a.Reasons)
	}
	ok, err := a.AutoApprovable("0.5", mustPolicy(t, e, ledger.ChainETH))
	if err != nil {
		t.Fatalf("auto approvable: %v", err)
	}
	if !ok {
		t.Fatal("clean request within cap should auto-approve")
	}
}

func TestScoreYoungAccountRoutesToHold(t *testing.T) {
	now := time.Now().UTC()
	e := testEngine()
	w := trustedWorker(now)
	w.CreatedAt = now.Add(-2 * time.Hour)

	a, err := e.Score(ScoreInput{
		Worker:       w,
		Chain:        ledger.ChainETH,
		Amount:       "0.5",
		SavedAddress: verifiedAddress(now),
		Now:          now,
	})
	if err != nil {
		t.Fatalf("score: %v", err)
	}
	if a.Score < 30 {
		t.Fatalf("expected score >= 30 for 2h-old account, got %d", a.Score)
	}
	if !containsReason(a.Reasons, ReasonAccountTooNew) {
		t.Fatalf("expected %s, got %v", ReasonAccountTooNew, a.Reasons)
	}
	if ok, _ := a.AutoApprovable("0.5", mustPolicy(t, e, ledger.ChainETH)); ok {
		t.Fatal("young account must never auto-approve")
	}
}

func TestScoreDailyCapProjection(t *testing.T) {
	now := time.Now().UTC()
	e := testEngine()

	// Two prior approved withdrawals totaling 0.04 against a 0.05 daily cap;
	// 0.02 more projects to 0.06 even though it is under the per-tx cap.
	prior := []Request{
		{Chain: ledger.ChainBTC, Amount: "0.03", Status: StatusApproved, CreatedAt: now.Add(-2 * time.Hour)},
		{Chain: ledger.ChainBTC, Amount: "0.01", Status: StatusBroadcasted, CreatedAt: now.Add(-1 * time.Hour)},
	}
	saved := verifiedAddress(now)
	saved.Chain = ledger.ChainBTC

	a, err := e.Score(ScoreInput{
		Worker:         trustedWorker(now),
		Chain:          ledger.ChainBTC,
		Amount:         "0.02",
		SavedAddress:   saved,
		RecentRequests: prior,
		Now:            now,
	})
	if err != nil {
		t.Fatalf("score: %v", err)
	}
	if !containsReason(a.Reasons, ReasonDailyLimitExceeded) {
		t.Fatalf("expected %s, got %v", ReasonDailyLimitExceeded, a.Reasons)
	}
	if containsReason(a.Reasons, ReasonAboveAutoCap) {
		t.Fatalf("0.02 is under the 0.05 per-tx cap, got %v", a.Reasons)
	}
	if ok, _ := a.AutoApprovable("0.02", mustPolicy(t, e, ledger.ChainBTC)); ok {
		t.Fatal("daily-cap overshoot must fail auto-approval")
	}
}

func TestScoreDailyCapIsPerChain(t *testing.T) {
	now := time.Now().UTC()
	e := testEngine()

	// ETH volume is denominated in ETH and projects into the ETH cap only;
	// it must not hold an under-cap BTC request.
	prior := []Request{
		{Chain: ledger.ChainETH, Amount: "3", Status: StatusBroadcasted, CreatedAt: now.Add(-2 * time.Hour)},
	}
	saved := verifiedAddress(now)
	saved.Chain = ledger.ChainBTC

	a, err := e.Score(ScoreInput{
		Worker:         trustedWorker(now),
		Chain:          ledger.ChainBTC,
		Amount:         "0.01",
		SavedAddress:   saved,
		RecentRequests: prior,
		Now:            now,
	})
	if err != nil {
		t.Fatalf("score: %v", err)
	}
	if a.Score != 0 || len(a.Reasons) != 0 {
		t.Fatalf("cross-chain volume leaked into the cap: %d %v", a.Score, a.Reasons)
	}
	if ok, _ := a.AutoApprovable("0.01", mustPolicy(t, e, ledger.ChainBTC)); !ok {
		t.Fatal("clean under-cap request should auto-approve")
	}
}

func TestScoreConfirmedStillConsumesDailyCap(t *testing.T) {
	now := time.Now().UTC()
	e := testEngine()

	// A confirmed withdrawal is settled outflow inside the window; it keeps
	// consuming the cap until it rolls out.
	prior := []Request{
		{Chain: ledger.ChainBTC, Amount: "0.04", Status: StatusConfirmed, CreatedAt: now.Add(-2 * time.Hour)},
	}
	saved := verifiedAddress(now)
	saved.Chain = ledger.ChainBTC

	a, err := e.Score(ScoreInput{
		Worker:         trustedWorker(now),
		Chain:          ledger.ChainBTC,
		Amount:         "0.02",
		SavedAddress:   saved,
		RecentRequests: prior,
		Now:            now,
	})
	if err != nil {
		t.Fatalf("score: %v", err)
	}
	if !containsReason(a.Reasons, ReasonDailyLimitExceeded) {
		t.Fatalf("expected %s, got %v", ReasonDailyLimitExceeded, a.Reasons)
	}
}

func TestScoreIgnoresTerminalFailuresInVelocity(t *testing.T) {
	now := time.Now().UTC()
	e := testEngine()

	// 0.04 of failed/rejected requests do not count toward the projection.
	prior := []Request{
		{Chain: ledger.ChainBTC, Amount: "0.03", Status: StatusFailed, CreatedAt: now.Add(-2 * time.Hour)},
		{Chain: ledger.ChainBTC, Amount: "0.01", Status: StatusRejected, CreatedAt: now.Add(-1 * time.Hour)},
	}
	saved := verifiedAddress(now)
	saved.Chain = ledger.ChainBTC

	a, err := e.Score(ScoreInput{
		Worker:         trustedWorker(now),
		Chain:          ledger.ChainBTC,
		Amount:         "0.02",
		SavedAddress:   saved,
		RecentRequests: prior,
		Now:            now,
	})
	if err != nil {
		t.Fatalf("score: %v", err)
	}
	if containsReason(a.Reasons, ReasonDailyLimitExceeded) {
		t.Fatalf("terminal failures should not project, got %v", a.Reasons)
	}
}

func TestScoreRecentFailures(t *testing.T) {
	now := time.Now().UTC()
	e := testEngine()

	var prior []Request
	for i := 0; i < 3; i++ {
		prior = append(prior, Request{Chain: ledger.ChainETH, Amount: "0.1", Status: StatusFailed, CreatedAt: now.Add(-time.Duration(i+1) * time.Hour)})
	}

	a, err := e.Score(ScoreInput{
		Worker:         trustedWorker(now),
		Chain:          ledger.ChainETH,
		Amount:         "0.5",
		SavedAddress:   verifiedAddress(now),
		RecentRequests: prior,
		Now:            now,
	})
	if err != nil {
		t.Fatalf("score: %v", err)
	}
	if !containsReason(a.Reasons, ReasonRecentFailures) {
		t.Fatalf("expected %s, got %v", ReasonRecentFailures, a.Reasons)
	}
}

func TestScoreSuspendedWorker(t *testing.T) {
	now := time.Now().UTC()
	e := testEngine()
	w := trustedWorker(now)
	w.Status = worker.StatusSuspended

	a, err := e.Score(ScoreInput{
		Worker:       w,
		Chain:        ledger.ChainETH,
		Amount:       "0.5",
		SavedAddress: verifiedAddress(now),
		Now:          now,
	})
	if err != nil {
		t.Fatalf("score: %v", err)
	}
	if a.Score != 100 {
		t.Fatalf("expected score 100, got %d", a.Score)
	}
}

func TestScoreCapsAtOneHundred(t *testing.T) {
	now := time.Now().UTC()
	e := testEngine()
	w := worker.Worker{
		ID:         "worker-1",
		Status:     worker.StatusRevoked,
		Reputation: 0,
		CreatedAt:  now.Add(-time.Hour),
	}

	a, err := e.Score(ScoreInput{
		Worker: w,
		Chain:  ledger.ChainETH,
		Amount: "50",
		Now:    now,
	})
	if err != nil {
		t.Fatalf("score: %v", err)
	}
	if a.Score != 100 {
		t.Fatalf("expected capped score 100, got %d", a.Score)
	}
	if len(a.Reasons) < 4 {
		t.Fatalf("expected every triggered reason recorded, got %v", a.Reasons)
	}
}

func TestScoreAddressTrust(t *testing.T) {
	now := time.Now().UTC()
	e := testEngine()

	// Unverified and fresh: penalized.
	fresh := verifiedAddress(now)
	fresh.Verified = false
	fresh.AddedAt = now.Add(-time.Hour)
	a, err := e.Score(ScoreInput{Worker: trustedWorker(now), Chain: ledger.ChainETH, Amount: "0.5", SavedAddress: fresh, Now: now})
	if err != nil {
		t.Fatalf("score: %v", err)
	}
	if !containsReason(a.Reasons, ReasonUnverifiedAddress) {
		t.Fatalf("expected %s for fresh unverified address, got %v", ReasonUnverifiedAddress, a.Reasons)
	}

	// Unverified but aged past the trust window: no penalty.
	aged := verifiedAddress(now)
	aged.Verified = false
	a, err = e.Score(ScoreInput{Worker: trustedWorker(now), Chain: ledger.ChainETH, Amount: "0.5", SavedAddress: aged, Now: now})
	if err != nil {
		t.Fatalf("score: %v", err)
	}
	if containsReason(a.Reasons, ReasonUnverifiedAddress) {
		t.Fatalf("aged address should pass, got %v", a.Reasons)
	}

	// Never saved: penalized.
	a, err = e.Score(ScoreInput{Worker: trustedWorker(now), Chain: ledger.ChainETH, Amount: "0.5", Now: now})
	if err != nil {
		t.Fatalf("score: %v", err)
	}
	if !containsReason(a.Reasons, ReasonUnverifiedAddress) {
		t.Fatalf("expected %s for unsaved address, got %v", ReasonUnverifiedAddress, a.Reasons)
	}
}

func mustPolicy(t *testing.T, e *Engine, chain ledger.Chain) ChainPolicy {
	t.Helper()
	p, ok := e.Policy(chain)
	if !ok {
		t.Fatalf("no policy for %s", chain)
	}
	return p
}

func containsReason(reasons []string, want string) bool {
	for _, r := range reasons {
		if r == want {
			return true
		}
	}
	return false
}
