package worker

import (
	"time"

	"github.com/agentpay/agent_pay/internal/ledger"
)

// Status of a worker account on the marketplace.
type Status string

const (
	StatusActive    Status = "active"
	StatusSuspended Status = "suspended"
	StatusRevoked   Status = "revoked"
)

// Worker is the marketplace profile consumed by the withdrawal risk engine.
type Worker struct {
	ID         string
	Status     Status
	Reputation int
	CreatedAt  time.Time
}

// AccountAge returns how long the worker has existed as of now.
func (w Worker) AccountAge(now time.Time) time.Duration {
	return now.Sub(w.CreatedAt)
}

// PayoutAddress is a destination a worker saved for withdrawals.
type PayoutAddress struct {
	ID       string
	WorkerID string
	Chain    ledger.Chain
	Address  string
	Verified bool
	AddedAt  time.Time
}
