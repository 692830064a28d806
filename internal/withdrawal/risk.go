package withdrawal

import (
	"time"

	"github.com/agentpay/agent_pay/internal/fixedpoint"
	"github.com/agentpay/agent_pay/internal/ledger"
	"github.com/agentpay/agent_pay/internal/worker"
)

// Risk reasons recorded on held or rejected requests.
const (
	ReasonAccountTooNew      = "ACCOUNT_TOO_NEW"
	ReasonLowReputation      = "LOW_REPUTATION"
	ReasonUnverifiedAddress  = "UNVERIFIED_ADDRESS"
	ReasonDailyLimitExceeded = "DAILY_LIMIT_EXCEEDED"
	ReasonAboveAutoCap       = "AMOUNT_ABOVE_AUTO_CAP"
	ReasonAccountSuspended   = "ACCOUNT_SUSPENDED"
	ReasonRecentFailures     = "RECENT_FAILURES"
)

// Additive risk points per condition, capped at maxScore.
const (
	pointsAccountTooNew      = 30
	pointsLowReputation      = 25
	pointsUnverifiedAddress  = 20
	pointsDailyLimitExceeded = 35
	pointsAboveAutoCap       = 15
	pointsAccountSuspended   = 100
	pointsRecentFailures     = 25

	maxScore = 100

	// Windows for the address-trust and velocity heuristics.
	addressTrustWindow = 24 * time.Hour
	velocityWindow     = 24 * time.Hour
	failureThreshold   = 3
)

// ChainPolicy carries the per-chain withdrawal limits.
type ChainPolicy struct {
	// MinWithdrawal is the smallest accepted amount.
	MinWithdrawal string
	// PerTxCap is the largest amount eligible for auto-approval.
	PerTxCap string
	// DailyCap bounds the projected rolling 24h withdrawal total.
	DailyCap string
}

// RiskConfig parameterizes the scoring engine.
type RiskConfig struct {
	MinAccountAge time.Duration
	MinReputation int
	Policies      map[ledger.Chain]ChainPolicy
}

// Assessment is the scored outcome for one request.
type Assessment struct {
	Score   int
	Reasons []string
}

// AutoApprovable reports whether the request may skip manual review: only a
// score of exactly zero with the amount inside the per-transaction cap
// qualifies.
func (a Assessment) AutoApprovable(amount string, policy ChainPolicy) (bool, error) {
	if a.Score != 0 {
		return false, nil
	}
	cmp, err := fixedpoint.Cmp(amount, policy.PerTxCap)
	if err != nil {
		return false, err
	}
	return cmp <= 0, nil
}

// ScoreInput gathers everything the engine inspects.
type ScoreInput struct {
	Worker worker.Worker
	Chain  ledger.Chain
	Amount string
	// SavedAddress is the matching saved payout destination, if any.
	SavedAddress   *worker.PayoutAddress
	RecentRequests []Request
	Now            time.Time
}

// Engine scores withdrawal requests against account-age, reputation,
// velocity and address-trust heuristics.
type Engine struct {
	cfg RiskConfig
}

// NewEngine builds a risk engine.
func NewEngine(cfg RiskConfig) *Engine {
	return &Engine{cfg: cfg}
}

// Policy returns the limits for a chain.
func (e *Engine) Policy(chain ledger.Chain) (ChainPolicy, bool) {
	p, ok := e.cfg.Policies[chain]
	return p, ok
}

// Score computes the additive risk score for a request.
func (e *Engine) Score(in ScoreInput) (Assessment, error) {
	var a Assessment
	add := func(points int, reason string) {
		a.Score += points
		a.Reasons = append(a.Reasons, reason)
	}

	if in.Worker.Status == worker.StatusSuspended || in.Worker.Status == worker.StatusRevoked {
		add(pointsAccountSuspended, ReasonAccountSuspended)
	}
	if in.Worker.AccountAge(in.Now) < e.cfg.MinAccountAge {
		add(pointsAccountTooNew, ReasonAccountTooNew)
	}
	if in.Worker.Reputation < e.cfg.MinReputation {
		add(pointsLowReputation, ReasonLowReputation)
	}

	// An address saved less than a day ago and never verified is treated the
	// same as one the worker never saved at all.
	if in.SavedAddress == nil {
		add(pointsUnverifiedAddress, ReasonUnverifiedAddress)
	} else if !in.SavedAddress.Verified && in.Now.Sub(in.SavedAddress.AddedAt) < addressTrustWindow {
		add(pointsUnverifiedAddress, ReasonUnverifiedAddress)
	}

	policy, ok := e.cfg.Policies[in.Chain]
	if !ok {
		return Assessment{}, ledger.ErrUnknownChain
	}

	projected := in.Amount
	failures := 0
	cutoff := in.Now.Add(-velocityWindow)
	for _, r := range in.RecentRequests {
		if r.CreatedAt.Before(cutoff) {
			continue
		}
		// Failures count across chains; the daily cap is per chain and per
		// denomination, so only same-chain requests project into it.
		if r.Status == StatusFailed || r.Status == StatusRejected {
			failures++
		}
		if r.Chain != in.Chain {
			continue
		}
		if !r.Status.CountsTowardVelocity() {
			continue
		}
		sum, err := fixedpoint.Add(projected, r.Amount)
		if err != nil {
			return Assessment{}, err
		}
		projected = sum
	}
	if cmp, err := fixedpoint.Cmp(projected, policy.DailyCap); err != nil {
		return Assessment{}, err
	} else if cmp > 0 {
		add(pointsDailyLimitExceeded, ReasonDailyLimitExceeded)
	}
	if cmp, err := fixedpoint.Cmp(in.Amount, policy.PerTxCap); err != nil {
		return Assessment{}, err
	} else if cmp > 0 {
		add(pointsAboveAutoCap, ReasonAboveAutoCap)
	}
	if failures >= failureThreshold {
		add(pointsRecentFailures, ReasonRecentFailures)
	}

	if a.Score > maxScore {
		a.Score = maxScore
	}
	return a, nil
}
