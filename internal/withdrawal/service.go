package withdrawal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/agentpay/agent_pay/internal/custody"
	"github.com/agentpay/agent_pay/internal/events"
	"github.com/agentpay/agent_pay/internal/fixedpoint"
	"github.com/agentpay/agent_pay/internal/ledger"
	"github.com/agentpay/agent_pay/internal/treasury"
	"github.com/agentpay/agent_pay/internal/worker"
)

var (
	// ErrInvalidDestination indicates a malformed destination address.
	ErrInvalidDestination = errors.New("invalid destination address")

	// ErrBelowMinimum indicates an amount under the chain's withdrawal floor.
	ErrBelowMinimum = errors.New("amount below chain minimum")

	// ErrAccountSuspended indicates the worker may not withdraw at all.
	ErrAccountSuspended = errors.New("worker account suspended")

	// ErrNotOnHold indicates a manual resolution against a request that is
	// not waiting for review.
	ErrNotOnHold = errors.New("withdrawal request is not on risk hold")
)

// Service runs the withdrawal pipeline: lock funds, score risk, then
// auto-approve, hold for review, or reject.
type Service struct {
	repo    Repository
	ledger  ledger.Store
	workers worker.Repository
	engine  *Engine
	custody custody.Provider
	sink    events.Sink
	logger  *slog.Logger
}

// NewService builds the withdrawal service.
func NewService(repo Repository, l ledger.Store, workers worker.Repository, engine *Engine, provider custody.Provider, sink events.Sink, logger *slog.Logger) *Service {
	return &Service{
		repo:    repo,
		ledger:  l,
		workers: workers,
		engine:  engine,
		custody: provider,
		sink:    sink,
		logger:  logger,
	}
}

// RequestInput captures a worker's withdrawal request.
type RequestInput struct {
	WorkerID           string
	Chain              ledger.Chain
	Amount             string
	DestinationAddress string
}

// Request validates, locks funds, scores the request and decides its fate.
// Validation failures reject synchronously before any ledger movement; once
// funds are locked every outcome is paired with a ledger entry.
func (s *Service) Request(ctx context.Context, in RequestInput) (Request, error) {
	if !in.Chain.Valid() {
		return Request{}, ledger.ErrUnknownChain
	}
	policy, ok := s.engine.Policy(in.Chain)
	if !ok {
		return Request{}, ledger.ErrUnknownChain
	}
	positive, err := fixedpoint.IsPositive(in.Amount)
	if err != nil {
		return Request{}, fmt.Errorf("%w: %v", ledger.ErrInvalidAmount, err)
	}
	if !positive {
		return Request{}, ledger.ErrInvalidAmount
	}
	if cmp, err := fixedpoint.Cmp(in.Amount, policy.MinWithdrawal); err != nil {
		return Request{}, err
	} else if cmp < 0 {
		return Request{}, fmt.Errorf("%w: minimum is %s %s", ErrBelowMinimum, policy.MinWithdrawal, in.Chain)
	}
	if !treasury.ValidAddress(in.Chain, in.DestinationAddress) {
		return Request{}, fmt.Errorf("%w: %q on %s", ErrInvalidDestination, in.DestinationAddress, in.Chain)
	}
	w, err := s.workers.Get(ctx, in.WorkerID)
	if err != nil {
		return Request{}, err
	}
	if w.Status != worker.StatusActive {
		return Request{}, ErrAccountSuspended
	}

	now := time.Now().UTC()
	req := Request{
		ID:                 uuid.NewString(),
		WorkerID:           in.WorkerID,
		Chain:              in.Chain,
		Amount:             in.Amount,
		DestinationAddress: in.DestinationAddress,
		Status:             StatusRequested,
		CreatedAt:          now,
		UpdatedAt:          now,
	}

	// Funds lock before the risk outcome is known.
	workerRef := ledger.WorkerRef(in.WorkerID, in.Chain)
	if _, err := s.ledger.Debit(ctx, workerRef, ledger.BucketAvailable, in.Amount); err != nil {
		return Request{}, err
	}
	if _, err := s.ledger.Credit(ctx, workerRef, ledger.BucketLocked, in.Amount); err != nil {
		return Request{}, err
	}
	if _, err := s.ledger.RecordEntry(ctx, ledger.Entry{
		Chain:        in.Chain,
		Type:         ledger.EntryWithdrawalLock,
		Amount:       in.Amount,
		FromOwner:    in.WorkerID,
		ToOwner:      in.WorkerID,
		WithdrawalID: req.ID,
	}); err != nil {
		return Request{}, err
	}
	if err := s.repo.Create(ctx, req); err != nil {
		// Without a request row nothing can ever resolve the reservation.
		if unlockErr := s.unlock(ctx, req, "request_persist_failed"); unlockErr != nil {
			s.logger.Error("failed to unlock after request persist failure",
				"withdrawal_id", req.ID, "error", unlockErr)
		}
		return Request{}, err
	}
	s.sink.Emit(ctx, events.Event{Kind: events.KindWithdrawalRequested, Subject: req.ID, Fields: map[string]string{
		"worker_id": req.WorkerID,
		"chain":     string(req.Chain),
		"amount":    req.Amount,
	}})

	savedAddress, found, err := s.workers.FindPayoutAddress(ctx, in.WorkerID, in.Chain, in.DestinationAddress)
	if err != nil {
		return Request{}, err
	}
	var saved *worker.PayoutAddress
	if found {
		saved = &savedAddress
	}
	recent, err := s.repo.ListByWorkerSince(ctx, in.WorkerID, now.Add(-velocityWindow))
	if err != nil {
		return Request{}, err
	}
	// The freshly created row would double-count this request.
	recent = excludeRequest(recent, req.ID)

	assessment, err := s.engine.Score(ScoreInput{
		Worker:         w,
		Chain:          in.Chain,
		Amount:         in.Amount,
		SavedAddress:   saved,
		RecentRequests: recent,
		Now:            now,
	})
	if err != nil {
		return Request{}, err
	}
	req.RiskScore = assessment.Score
	req.RiskReasons = assessment.Reasons

	autoApprove, err := assessment.AutoApprovable(in.Amount, policy)
	if err != nil {
		return Request{}, err
	}
	if !autoApprove {
		req.Status = StatusRiskHold
		if err := s.repo.Update(ctx, req); err != nil {
			return Request{}, err
		}
		s.sink.Emit(ctx, events.Event{Kind: events.KindWithdrawalHeld, Subject: req.ID, Fields: map[string]string{
			"score":   fmt.Sprintf("%d", req.RiskScore),
			"reasons": fmt.Sprintf("%v", req.RiskReasons),
		}})
		return req, nil
	}

	return s.approveAndBroadcast(ctx, req)
}

// approveAndBroadcast hands an approved request to the custody collaborator.
// A broadcast failure rolls the lock back and marks the request failed; the
// reservation is never silently dropped.
func (s *Service) approveAndBroadcast(ctx context.Context, req Request) (Request, error) {
	req.Status = StatusApproved
	if err := s.repo.Update(ctx, req); err != nil {
		return Request{}, err
	}
	s.sink.Emit(ctx, events.Event{Kind: events.KindWithdrawalApproved, Subject: req.ID, Fields: map[string]string{
		"amount": req.Amount,
	}})

	txHash, err := s.custody.Transfer(ctx, req.Chain, req.Amount, req.DestinationAddress)
	if err != nil {
		s.logger.Warn("withdrawal broadcast failed, unlocking funds",
			"withdrawal_id", req.ID, "chain", req.Chain, "error", err)
		if unlockErr := s.unlock(ctx, req, "broadcast_failed"); unlockErr != nil {
			return Request{}, unlockErr
		}
		req.Status = StatusFailed
		req.StatusReason = "broadcast_failed"
		if err := s.repo.Update(ctx, req); err != nil {
			return Request{}, err
		}
		s.sink.Emit(ctx, events.Event{Kind: events.KindWithdrawalFailed, Subject: req.ID, Fields: nil})
		return req, nil
	}

	// The locked reservation is consumed by the outbound transaction.
	workerRef := ledger.WorkerRef(req.WorkerID, req.Chain)
	if _, clamped, err := s.ledger.DebitClamped(ctx, workerRef, ledger.BucketLocked, req.Amount); err != nil {
		return Request{}, err
	} else if clamped {
		s.logger.Error("worker locked balance short of broadcast amount",
			"withdrawal_id", req.ID, "amount", req.Amount)
	}
	if _, err := s.ledger.RecordEntry(ctx, ledger.Entry{
		Chain:        req.Chain,
		Type:         ledger.EntryWithdrawalDebit,
		Amount:       req.Amount,
		FromOwner:    req.WorkerID,
		WithdrawalID: req.ID,
		TxHash:       txHash,
	}); err != nil {
		return Request{}, err
	}

	req.Status = StatusBroadcasted
	req.TxHash = txHash
	if err := s.repo.Update(ctx, req); err != nil {
		return Request{}, err
	}
	return req, nil
}

// Resolve applies a manual review decision to a held request.
func (s *Service) Resolve(ctx context.Context, id string, approve bool, note string) (Request, error) {
	req, err := s.repo.Get(ctx, id)
	if err != nil {
		return Request{}, err
	}
	if req.Status != StatusRiskHold {
		return Request{}, ErrNotOnHold
	}
	if approve {
		return s.approveAndBroadcast(ctx, req)
	}

	if err := s.unlock(ctx, req, "manual_reject"); err != nil {
		return Request{}, err
	}
	req.Status = StatusRejected
	req.StatusReason = note
	if err := s.repo.Update(ctx, req); err != nil {
		return Request{}, err
	}
	s.sink.Emit(ctx, events.Event{Kind: events.KindWithdrawalRejected, Subject: req.ID, Fields: map[string]string{
		"note": note,
	}})
	return req, nil
}

// Confirm refreshes the on-chain status of a broadcasted request.
func (s *Service) Confirm(ctx context.Context, id string) (Request, error) {
	req, err := s.repo.Get(ctx, id)
	if err != nil {
		return Request{}, err
	}
	if req.Status != StatusBroadcasted {
		return req, nil
	}
	status, err := s.custody.Confirmations(ctx, req.Chain, req.TxHash)
	if err != nil {
		return Request{}, err
	}
	if status == custody.StatusConfirmed {
		req.Status = StatusConfirmed
		if err := s.repo.Update(ctx, req); err != nil {
			return Request{}, err
		}
	}
	return req, nil
}

// Get fetches a withdrawal request.
func (s *Service) Get(ctx context.Context, id string) (Request, error) {
	return s.repo.Get(ctx, id)
}

// unlock returns locked funds to available with a paired ledger entry.
func (s *Service) unlock(ctx context.Context, req Request, action string) error {
	workerRef := ledger.WorkerRef(req.WorkerID, req.Chain)
	if _, clamped, err := s.ledger.DebitClamped(ctx, workerRef, ledger.BucketLocked, req.Amount); err != nil {
		return err
	} else if clamped {
		s.logger.Error("worker locked balance short of withdrawal unlock",
			"withdrawal_id", req.ID, "amount", req.Amount)
	}
	if _, err := s.ledger.Credit(ctx, workerRef, ledger.BucketAvailable, req.Amount); err != nil {
		return err
	}
	_, err := s.ledger.RecordEntry(ctx, ledger.Entry{
		Chain:        req.Chain,
		Type:         ledger.EntryWithdrawalUnlock,
		Amount:       req.Amount,
		FromOwner:    req.WorkerID,
		ToOwner:      req.WorkerID,
		WithdrawalID: req.ID,
		Metadata:     map[string]string{"action": action},
	})
	return err
}

func excludeRequest(requests []Request, id string) []Request {
	out := requests[:0]
	for _, r := range requests {
		if r.ID != id {
			out = append(out, r)
		}
	}
	return out
}
