package escrow

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/agentpay/agent_pay/internal/custody"
	"github.com/agentpay/agent_pay/internal/events"
	"github.com/agentpay/agent_pay/internal/fixedpoint"
	"github.com/agentpay/agent_pay/internal/ledger"
	"github.com/agentpay/agent_pay/internal/task"
	"github.com/agentpay/agent_pay/internal/treasury"
)

// Config carries the settlement parameters.
type Config struct {
	// FeeRateBps is the protocol fee in basis points of the escrow amount.
	FeeRateBps int64
	// HoldPeriod is how long a settled payout stays locked before release.
	HoldPeriod time.Duration
}

// Service drives the escrow state machine: lock on task creation, settle on
// accepted submission, refund on cancellation or expiry.
type Service struct {
	ledger   ledger.Store
	tasks    task.Repository
	releases ReleaseStore
	treasury *treasury.Resolver
	custody  custody.Provider
	sink     events.Sink
	logger   *slog.Logger
	cfg      Config
}

// NewService builds the escrow service.
func NewService(l ledger.Store, tasks task.Repository, releases ReleaseStore, resolver *treasury.Resolver, provider custody.Provider, sink events.Sink, logger *slog.Logger, cfg Config) *Service {
	return &Service{
		ledger:   l,
		tasks:    tasks,
		releases: releases,
		treasury: resolver,
		custody:  provider,
		sink:     sink,
		logger:   logger,
		cfg:      cfg,
	}
}

// Lock debits the creator's available balance into the locked bucket,
// marking the task's escrow as locked. Retries are idempotent via the
// existing lock entry.
func (s *Service) Lock(ctx context.Context, taskID string) (LockResult, error) {
	t, err := s.tasks.Get(ctx, taskID)
	if err != nil {
		return LockResult{}, err
	}
	positive, err := fixedpoint.IsPositive(t.EscrowAmount)
	if err != nil {
		return LockResult{}, fmt.Errorf("%w: %v", ledger.ErrInvalidAmount, err)
	}
	if !positive {
		return LockResult{}, ErrNoEscrow
	}
	if t.EscrowStatus != task.EscrowNone {
		return LockResult{TaskID: t.ID, Amount: t.EscrowAmount, AlreadyLocked: true}, nil
	}
	if existing, err := s.ledger.FindEntries(ctx, ledger.EntryFilter{TaskID: t.ID, Types: []ledger.EntryType{ledger.EntryLock}}); err != nil {
		return LockResult{}, err
	} else if len(existing) > 0 {
		return LockResult{TaskID: t.ID, Amount: t.EscrowAmount, AlreadyLocked: true}, nil
	}

	creator := ledger.WorkerRef(t.CreatorWorkerID, t.Chain)
	if _, err := s.ledger.Debit(ctx, creator, ledger.BucketAvailable, t.EscrowAmount); err != nil {
		return LockResult{}, err
	}
	if _, err := s.ledger.Credit(ctx, creator, ledger.BucketLocked, t.EscrowAmount); err != nil {
		return LockResult{}, err
	}
	if _, err := s.ledger.RecordEntry(ctx, ledger.Entry{
		Chain:     t.Chain,
		Type:      ledger.EntryLock,
		Amount:    t.EscrowAmount,
		FromOwner: t.CreatorWorkerID,
		ToOwner:   t.CreatorWorkerID,
		TaskID:    t.ID,
	}); err != nil {
		return LockResult{}, err
	}
	if err := s.tasks.UpdateEscrow(ctx, t.ID, task.EscrowLocked, ""); err != nil {
		return LockResult{}, err
	}

	s.sink.Emit(ctx, events.Event{Kind: events.KindFundsLocked, Subject: t.ID, Fields: map[string]string{
		"chain":  string(t.Chain),
		"amount": t.EscrowAmount,
	}})
	return LockResult{TaskID: t.ID, Amount: t.EscrowAmount}, nil
}

// Settle splits the escrow between the worker and the protocol fee. It runs
// at most once per task: a released status or an existing task_settlement
// entry short-circuits to the prior result. Once the debits begin there is
// no abort path; a failed on-chain fee transfer degrades to an internal
// protocol credit, never a rollback of the worker's payout.
func (s *Service) Settle(ctx context.Context, taskID, submissionID, workerID string) (SettleResult, error) {
	t, err := s.tasks.Get(ctx, taskID)
	if err != nil {
		return SettleResult{}, err
	}
	if workerID == "" {
		workerID = t.ClaimedBy
	}
	if workerID == "" {
		return SettleResult{}, fmt.Errorf("task %s has no claiming worker", t.ID)
	}

	fee, err := fixedpoint.ApplyBasisPoints(t.EscrowAmount, s.cfg.FeeRateBps)
	if err != nil {
		return SettleResult{}, err
	}
	payout, err := fixedpoint.Sub(t.EscrowAmount, fee)
	if err != nil {
		return SettleResult{}, err
	}

	if refunded, err := s.alreadyRefunded(ctx, t); err != nil {
		return SettleResult{}, err
	} else if refunded {
		return SettleResult{TaskID: t.ID, Refunded: true}, nil
	}
	if settled, err := s.alreadySettled(ctx, t); err != nil {
		return SettleResult{}, err
	} else if settled {
		return SettleResult{TaskID: t.ID, WorkerID: workerID, Fee: fee, Payout: payout, AlreadySettled: true}, nil
	}
	if t.EscrowStatus != task.EscrowLocked {
		return SettleResult{}, ErrEscrowNotLocked
	}

	creator := ledger.WorkerRef(t.CreatorWorkerID, t.Chain)
	if _, clamped, err := s.ledger.DebitClamped(ctx, creator, ledger.BucketLocked, t.EscrowAmount); err != nil {
		return SettleResult{}, err
	} else if clamped {
		s.logger.Error("creator locked balance short of escrow amount",
			"task_id", t.ID, "creator", t.CreatorWorkerID, "amount", t.EscrowAmount)
	}

	// Payout is held, not yet withdrawable; the release worker moves it to
	// available once the hold elapses.
	if _, err := s.ledger.Credit(ctx, ledger.WorkerRef(workerID, t.Chain), ledger.BucketLocked, payout); err != nil {
		return SettleResult{}, err
	}

	venue, feeTxHash := s.remitFee(ctx, t.Chain, fee, t.ID)

	if err := s.tasks.UpdateEscrow(ctx, t.ID, task.EscrowReleased, task.StatusCompleted); err != nil {
		return SettleResult{}, err
	}

	if _, err := s.ledger.RecordEntry(ctx, ledger.Entry{
		Chain:        t.Chain,
		Type:         ledger.EntryTaskSettlement,
		Amount:       t.EscrowAmount,
		FromOwner:    t.CreatorWorkerID,
		ToOwner:      workerID,
		TaskID:       t.ID,
		SubmissionID: submissionID,
		Metadata:     map[string]string{"fee": fee, "payout": payout},
	}); err != nil {
		return SettleResult{}, err
	}
	if _, err := s.ledger.RecordEntry(ctx, ledger.Entry{
		Chain:        t.Chain,
		Type:         ledger.EntryPayout,
		Amount:       payout,
		FromOwner:    t.CreatorWorkerID,
		ToOwner:      workerID,
		TaskID:       t.ID,
		SubmissionID: submissionID,
	}); err != nil {
		return SettleResult{}, err
	}
	if feePositive, _ := fixedpoint.IsPositive(fee); feePositive {
		if _, err := s.ledger.RecordEntry(ctx, ledger.Entry{
			Chain:     t.Chain,
			Type:      ledger.EntryProtocolFeeAccrual,
			Amount:    fee,
			FromOwner: t.CreatorWorkerID,
			TaskID:    t.ID,
			TxHash:    feeTxHash,
			Metadata:  map[string]string{"venue": venue},
		}); err != nil {
			return SettleResult{}, err
		}
	}

	releaseAt := time.Now().UTC().Add(s.cfg.HoldPeriod)
	if err := s.releases.Schedule(ctx, PendingRelease{
		ID:        uuid.NewString(),
		TaskID:    t.ID,
		WorkerID:  workerID,
		Chain:     string(t.Chain),
		Amount:    payout,
		ReleaseAt: releaseAt,
	}); err != nil {
		return SettleResult{}, err
	}

	s.sink.Emit(ctx, events.Event{Kind: events.KindEscrowReleased, Subject: t.ID, Fields: map[string]string{
		"chain":     string(t.Chain),
		"worker_id": workerID,
		"payout":    payout,
		"fee":       fee,
		"fee_venue": venue,
	}})
	return SettleResult{
		TaskID:    t.ID,
		WorkerID:  workerID,
		Fee:       fee,
		Payout:    payout,
		FeeVenue:  venue,
		FeeTxHash: feeTxHash,
		ReleaseAt: releaseAt,
	}, nil
}

// remitFee prefers an on-chain transfer to the treasury; on any failure it
// credits the internal protocol account instead. The fee is never lost, only
// its settlement venue degrades.
func (s *Service) remitFee(ctx context.Context, chain ledger.Chain, fee, taskID string) (venue, txHash string) {
	positive, err := fixedpoint.IsPositive(fee)
	if err != nil || !positive {
		return FeeVenueInternal, ""
	}

	address, err := s.treasury.Resolve(ctx, chain)
	if err == nil {
		txHash, err = s.custody.Transfer(ctx, chain, fee, address)
		if err == nil {
			return FeeVenueOnChain, txHash
		}
	}
	s.logger.Warn("on-chain fee transfer unavailable, accruing internally",
		"task_id", taskID, "chain", chain, "fee", fee, "error", err)

	if _, err := s.ledger.Credit(ctx, ledger.ProtocolRef(chain), ledger.BucketAvailable, fee); err != nil {
		// Last resort: the accrual entry still records the owed fee.
		s.logger.Error("internal fee accrual failed", "task_id", taskID, "chain", chain, "fee", fee, "error", err)
	}
	return FeeVenueInternal, ""
}

// Refund returns the full escrow from the creator's locked bucket to
// available. Settle and refund are mutually terminal: a settled task refunds
// as a no-op reporting the settlement, and vice versa.
func (s *Service) Refund(ctx context.Context, taskID, reason string) (RefundResult, error) {
	if reason != ReasonCancelled && reason != ReasonExpired {
		return RefundResult{}, fmt.Errorf("unsupported refund reason %q", reason)
	}
	t, err := s.tasks.Get(ctx, taskID)
	if err != nil {
		return RefundResult{}, err
	}

	if refunded, err := s.alreadyRefunded(ctx, t); err != nil {
		return RefundResult{}, err
	} else if refunded {
		return RefundResult{TaskID: t.ID, Amount: t.EscrowAmount, AlreadyRefunded: true}, nil
	}
	if settled, err := s.alreadySettled(ctx, t); err != nil {
		return RefundResult{}, err
	} else if settled {
		return RefundResult{TaskID: t.ID, Settled: true}, nil
	}
	if t.EscrowStatus != task.EscrowLocked {
		return RefundResult{}, ErrEscrowNotLocked
	}

	creator := ledger.WorkerRef(t.CreatorWorkerID, t.Chain)
	if _, clamped, err := s.ledger.DebitClamped(ctx, creator, ledger.BucketLocked, t.EscrowAmount); err != nil {
		return RefundResult{}, err
	} else if clamped {
		s.logger.Error("creator locked balance short of refund amount",
			"task_id", t.ID, "creator", t.CreatorWorkerID, "amount", t.EscrowAmount)
	}
	if _, err := s.ledger.Credit(ctx, creator, ledger.BucketAvailable, t.EscrowAmount); err != nil {
		return RefundResult{}, err
	}
	if _, err := s.ledger.RecordEntry(ctx, ledger.Entry{
		Chain:     t.Chain,
		Type:      ledger.EntryUnlock,
		Amount:    t.EscrowAmount,
		FromOwner: t.CreatorWorkerID,
		ToOwner:   t.CreatorWorkerID,
		TaskID:    t.ID,
		Metadata:  map[string]string{"action": "escrow_refunded", "reason": reason},
	}); err != nil {
		return RefundResult{}, err
	}
	if err := s.tasks.UpdateEscrow(ctx, t.ID, task.EscrowRefunded, reason); err != nil {
		return RefundResult{}, err
	}

	s.sink.Emit(ctx, events.Event{Kind: events.KindEscrowRefunded, Subject: t.ID, Fields: map[string]string{
		"chain":  string(t.Chain),
		"amount": t.EscrowAmount,
		"reason": reason,
	}})
	return RefundResult{TaskID: t.ID, Amount: t.EscrowAmount}, nil
}

// alreadySettled consults the status flag and the entry log; the entry log
// is authoritative because the task row can race or be partially applied.
func (s *Service) alreadySettled(ctx context.Context, t task.Task) (bool, error) {
	if t.EscrowStatus == task.EscrowReleased {
		return true, nil
	}
	entries, err := s.ledger.FindEntries(ctx, ledger.EntryFilter{TaskID: t.ID, Types: []ledger.EntryType{ledger.EntryTaskSettlement}})
	if err != nil {
		return false, err
	}
	return len(entries) > 0, nil
}

func (s *Service) alreadyRefunded(ctx context.Context, t task.Task) (bool, error) {
	if t.EscrowStatus == task.EscrowRefunded {
		return true, nil
	}
	entries, err := s.ledger.FindEntries(ctx, ledger.EntryFilter{TaskID: t.ID, Types: []ledger.EntryType{ledger.EntryUnlock}})
	if err != nil {
		return false, err
	}
	for _, e := range entries {
		if e.Metadata["action"] == "escrow_refunded" {
			return true, nil
		}
	}
	return false, nil
}
