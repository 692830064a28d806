package deposit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/agentpay/agent_pay/internal/custody"
	"github.com/agentpay/agent_pay/internal/derivation"
	"github.com/agentpay/agent_pay/internal/events"
	"github.com/agentpay/agent_pay/internal/fixedpoint"
	"github.com/agentpay/agent_pay/internal/ledger"
)

// ErrMissingTxHash indicates a deposit credit without an on-chain reference.
var ErrMissingTxHash = errors.New("deposit credit requires a transaction hash")

// Service issues deposit addresses and credits observed deposits. Address
// issuance is idempotent per worker and chain; crediting is idempotent per
// transaction hash.
type Service struct {
	repo      Repository
	allocator *derivation.Allocator
	custody   custody.Provider
	ledger    ledger.Store
	sink      events.Sink
	logger    *slog.Logger
}

// NewService builds the deposit service.
func NewService(repo Repository, allocator *derivation.Allocator, provider custody.Provider, l ledger.Store, sink events.Sink, logger *slog.Logger) *Service {
	return &Service{
		repo:      repo,
		allocator: allocator,
		custody:   provider,
		ledger:    l,
		sink:      sink,
		logger:    logger,
	}
}

// IssueAddress returns the worker's deposit address on a chain, deriving and
// persisting one on first use. Repeat calls hand back the same address; the
// derivation index is consumed exactly once per assignment.
func (s *Service) IssueAddress(ctx context.Context, workerID string, chain ledger.Chain) (Address, error) {
	if !chain.Valid() {
		return Address{}, ledger.ErrUnknownChain
	}
	if existing, found, err := s.repo.FindAddress(ctx, workerID, chain); err != nil {
		return Address{}, err
	} else if found {
		return existing, nil
	}

	index, err := s.allocator.Allocate(ctx, chain)
	if err != nil {
		return Address{}, err
	}
	derived, err := s.custody.DeriveAddress(ctx, chain, index)
	if err != nil {
		return Address{}, fmt.Errorf("derive address at index %d: %w", index, err)
	}

	a := Address{
		ID:        uuid.NewString(),
		WorkerID:  workerID,
		Chain:     chain,
		Index:     index,
		Address:   derived,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.repo.SaveAddress(ctx, a); err != nil {
		return Address{}, err
	}
	// A concurrent issuance may have won the insert; the stored row is
	// authoritative either way. The losing index is simply burned.
	stored, found, err := s.repo.FindAddress(ctx, workerID, chain)
	if err != nil {
		return Address{}, err
	}
	if !found {
		return Address{}, errors.New("deposit address vanished after save")
	}
	if stored.ID != a.ID {
		s.logger.Info("concurrent deposit address issuance, index discarded",
			"worker_id", workerID, "chain", chain, "index", index)
	}
	return stored, nil
}

// CreditInput describes an observed on-chain deposit.
type CreditInput struct {
	WorkerID string
	Chain    ledger.Chain
	Amount   string
	TxHash   string
}

// CreditResult reports the outcome of a deposit credit.
type CreditResult struct {
	WorkerID        string
	Chain           ledger.Chain
	Amount          string
	AlreadyCredited bool
}

// Credit adds a confirmed deposit to the worker's available balance. The
// transaction hash is the idempotency key: a hash that already produced a
// credit entry is acknowledged without moving funds again.
func (s *Service) Credit(ctx context.Context, in CreditInput) (CreditResult, error) {
	if !in.Chain.Valid() {
		return CreditResult{}, ledger.ErrUnknownChain
	}
	if in.TxHash == "" {
		return CreditResult{}, ErrMissingTxHash
	}
	positive, err := fixedpoint.IsPositive(in.Amount)
	if err != nil {
		return CreditResult{}, fmt.Errorf("%w: %v", ledger.ErrInvalidAmount, err)
	}
	if !positive {
		return CreditResult{}, ledger.ErrInvalidAmount
	}

	existing, err := s.ledger.FindEntries(ctx, ledger.EntryFilter{
		Types:  []ledger.EntryType{ledger.EntryDepositCredited},
		TxHash: in.TxHash,
	})
	if err != nil {
		return CreditResult{}, err
	}
	if len(existing) > 0 {
		return CreditResult{
			WorkerID:        existing[0].ToOwner,
			Chain:           existing[0].Chain,
			Amount:          existing[0].Amount,
			AlreadyCredited: true,
		}, nil
	}

	if _, err := s.ledger.Credit(ctx, ledger.WorkerRef(in.WorkerID, in.Chain), ledger.BucketAvailable, in.Amount); err != nil {
		return CreditResult{}, err
	}
	if _, err := s.ledger.RecordEntry(ctx, ledger.Entry{
		Chain:   in.Chain,
		Type:    ledger.EntryDepositCredited,
		Amount:  in.Amount,
		ToOwner: in.WorkerID,
		TxHash:  in.TxHash,
	}); err != nil {
		return CreditResult{}, err
	}
	s.sink.Emit(ctx, events.Event{Kind: events.KindDepositCredited, Subject: in.TxHash, Fields: map[string]string{
		"worker_id": in.WorkerID,
		"chain":     string(in.Chain),
		"amount":    in.Amount,
	}})
	return CreditResult{WorkerID: in.WorkerID, Chain: in.Chain, Amount: in.Amount}, nil
}
