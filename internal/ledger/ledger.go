package ledger

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrInsufficientFunds occurs when a debit exceeds the balance held in
	// the targeted bucket.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrUnknownChain indicates a chain outside the supported set.
	ErrUnknownChain = errors.New("unknown chain")

	// ErrInvalidAmount indicates a malformed or negative amount.
	ErrInvalidAmount = errors.New("invalid amount")
)

// Chain identifies a settlement network.
type Chain string

const (
	ChainETH Chain = "eth"
	ChainBTC Chain = "btc"
)

// Chains lists every supported chain.
var Chains = []Chain{ChainETH, ChainBTC}

// Valid reports whether the chain is supported.
func (c Chain) Valid() bool {
	switch c {
	case ChainETH, ChainBTC:
		return true
	}
	return false
}

// OwnerType distinguishes worker accounts from the protocol's own accounts.
type OwnerType string

const (
	OwnerWorker   OwnerType = "worker"
	OwnerProtocol OwnerType = "protocol"
)

// Bucket names one of the two balance buckets held per account.
type Bucket string

const (
	BucketAvailable Bucket = "available"
	BucketLocked    Bucket = "locked"
)

// EntryType classifies a ledger entry.
type EntryType string

const (
	EntryLock               EntryType = "lock"
	EntryUnlock             EntryType = "unlock"
	EntryPayout             EntryType = "payout"
	EntryPayoutRelease      EntryType = "payout_release"
	EntryProtocolFeeAccrual EntryType = "protocol_fee_accrual"
	EntryTaskSettlement     EntryType = "task_settlement"
	EntryDepositCredited    EntryType = "deposit_credited"
	EntryWithdrawalLock     EntryType = "withdrawal_lock"
	EntryWithdrawalUnlock   EntryType = "withdrawal_unlock"
	EntryWithdrawalDebit    EntryType = "withdrawal_debit"
)

// AccountRef names a ledger account by its natural key. OwnerID is empty for
// protocol accounts.
type AccountRef struct {
	OwnerType OwnerType
	OwnerID   string
	Chain     Chain
}

// WorkerRef builds a reference to a worker account.
func WorkerRef(workerID string, chain Chain) AccountRef {
	return AccountRef{OwnerType: OwnerWorker, OwnerID: workerID, Chain: chain}
}

// ProtocolRef builds a reference to the protocol account on a chain.
func ProtocolRef(chain Chain) AccountRef {
	return AccountRef{OwnerType: OwnerProtocol, Chain: chain}
}

// Account holds the two balance buckets for one (owner, chain) pair.
// Balances are decimal strings and never negative.
type Account struct {
	ID        string
	OwnerType OwnerType
	OwnerID   string
	Chain     Chain
	Available string
	Locked    string
	CreatedAt time.Time
}

// Entry is an immutable, append-only record of a single value movement. Its
// presence is the authoritative "already happened" check for idempotent
// retries, since status flags on mutable parent rows can race.
type Entry struct {
	ID           string
	Chain        Chain
	Type         EntryType
	Amount       string
	FromOwner    string
	ToOwner      string
	TaskID       string
	SubmissionID string
	WithdrawalID string
	TxHash       string
	Metadata     map[string]string
	CreatedAt    time.Time
}

// EntryFilter selects entries for idempotency checks and audit queries.
// Zero-valued fields are ignored.
type EntryFilter struct {
	Types        []EntryType
	TaskID       string
	WithdrawalID string
	TxHash       string
}

// Store is the durable ledger contract implemented by Postgres and the
// in-memory test backend. Mutations are individual read-modify-write calls;
// no cross-account transaction is offered, so movements between accounts
// are two independent operations guarded by entry-existence checks.
type Store interface {
	GetOrCreate(ctx context.Context, ref AccountRef) (Account, error)
	Credit(ctx context.Context, ref AccountRef, bucket Bucket, amount string) (Account, error)
	Debit(ctx context.Context, ref AccountRef, bucket Bucket, amount string) (Account, error)
	// DebitClamped floors the bucket at zero instead of failing, reporting
	// whether clamping occurred. Callers treat a clamp as an accounting
	// discrepancy signal.
	DebitClamped(ctx context.Context, ref AccountRef, bucket Bucket, amount string) (Account, bool, error)
	RecordEntry(ctx context.Context, entry Entry) (Entry, error)
	FindEntries(ctx context.Context, filter EntryFilter) ([]Entry, error)
}
