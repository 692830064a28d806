package escrow

import (
	"errors"
	"time"
)

var (
	// ErrNoEscrow indicates the task carries no reward to lock.
	ErrNoEscrow = errors.New("task has no escrow amount")

	// ErrEscrowNotLocked indicates a settle or refund against a task whose
	// escrow was never locked.
	ErrEscrowNotLocked = errors.New("escrow is not locked")
)

// Refund reasons accepted by the state machine, mapped onto the task status.
const (
	ReasonCancelled = "cancelled"
	ReasonExpired   = "expired"
)

// Fee settlement venues recorded on protocol_fee_accrual entries.
const (
	FeeVenueOnChain  = "onchain"
	FeeVenueInternal = "internal"
)

// LockResult reports the outcome of locking a task's escrow.
type LockResult struct {
	TaskID        string
	Amount        string
	AlreadyLocked bool
}

// SettleResult reports the outcome of settling a task. AlreadySettled and
// Refunded mark idempotency short-circuits: the prior terminal outcome is
// returned without re-executing anything.
type SettleResult struct {
	TaskID         string
	WorkerID       string
	Fee            string
	Payout         string
	FeeVenue       string
	FeeTxHash      string
	ReleaseAt      time.Time
	AlreadySettled bool
	Refunded       bool
}

// RefundResult reports the outcome of refunding a task's escrow.
type RefundResult struct {
	TaskID          string
	Amount          string
	AlreadyRefunded bool
	Settled         bool
}

// PendingRelease is the durable record of a payout waiting out the
// settlement hold. Storing it as a row, not an in-process timer, means
// process restarts do not lose pending releases.
type PendingRelease struct {
	ID         string
	TaskID     string
	WorkerID   string
	Chain      string
	Amount     string
	ReleaseAt  time.Time
	ReleasedAt *time.Time
}
