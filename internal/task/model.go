package task

import (
	"time"

	"github.com/agentpay/agent_pay/internal/ledger"
)

// EscrowStatus tracks the escrow lifecycle of a task's reward.
type EscrowStatus string

const (
	EscrowNone     EscrowStatus = "none"
	EscrowLocked   EscrowStatus = "locked"
	EscrowReleased EscrowStatus = "released"
	EscrowRefunded EscrowStatus = "refunded"
)

// Task status values touched by the settlement core. Matching, claiming and
// review own the rest of the lifecycle.
const (
	StatusOpen      = "open"
	StatusCompleted = "completed"
	StatusCancelled = "cancelled"
	StatusExpired   = "expired"
)

// Task is shared marketplace state the settlement core reads and updates but
// does not fully own.
type Task struct {
	ID              string
	CreatorWorkerID string
	ClaimedBy       string
	Chain           ledger.Chain
	EscrowAmount    string
	EscrowStatus    EscrowStatus
	Status          string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}
