package ledger

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/agentpay/agent_pay/internal/fixedpoint"
)

type inMemoryStore struct {
	mu       sync.RWMutex
	accounts map[AccountRef]*Account
	entries  []Entry
}

// NewInMemory creates a concurrency-safe in-memory ledger useful for unit
// tests and dev mode without Postgres.
func NewInMemory() Store {
	return &inMemoryStore{accounts: make(map[AccountRef]*Account)}
}

func (s *inMemoryStore) GetOrCreate(_ context.Context, ref AccountRef) (Account, error) {
	if !ref.Chain.Valid() {
		return Account{}, ErrUnknownChain
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.getOrCreateLocked(ref), nil
}

func (s *inMemoryStore) getOrCreateLocked(ref AccountRef) *Account {
	if acct, ok := s.accounts[ref]; ok {
		return acct
	}
	acct := &Account{
		ID:        uuid.NewString(),
		OwnerType: ref.OwnerType,
		OwnerID:   ref.OwnerID,
		Chain:     ref.Chain,
		Available: "0",
		Locked:    "0",
		CreatedAt: time.Now().UTC(),
	}
	s.accounts[ref] = acct
	return acct
}

func (s *inMemoryStore) Credit(_ context.Context, ref AccountRef, bucket Bucket, amount string) (Account, error) {
	if !ref.Chain.Valid() {
		return Account{}, ErrUnknownChain
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	acct := s.getOrCreateLocked(ref)
	current := s.bucketLocked(acct, bucket)
	next, err := fixedpoint.Add(current, amount)
	if err != nil {
		return Account{}, err
	}
	s.setBucketLocked(acct, bucket, next)
	return *acct, nil
}

func (s *inMemoryStore) Debit(_ context.Context, ref AccountRef, bucket Bucket, amount string) (Account, error) {
	if !ref.Chain.Valid() {
		return Account{}, ErrUnknownChain
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	acct := s.getOrCreateLocked(ref)
	current := s.bucketLocked(acct, bucket)
	if cmp, err := fixedpoint.Cmp(current, amount); err != nil {
		return Account{}, err
	} else if cmp < 0 {
		return Account{}, ErrInsufficientFunds
	}
	next, err := fixedpoint.Sub(current, amount)
	if err != nil {
		return Account{}, err
	}
	s.setBucketLocked(acct, bucket, next)
	return *acct, nil
}

func (s *inMemoryStore) DebitClamped(_ context.Context, ref AccountRef, bucket Bucket, amount string) (Account, bool, error) {
	if !ref.Chain.Valid() {
		return Account{}, false, ErrUnknownChain
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	acct := s.getOrCreateLocked(ref)
	current := s.bucketLocked(acct, bucket)
	next, clamped, err := fixedpoint.SubClamped(current, amount)
	if err != nil {
		return Account{}, false, err
	}
	s.setBucketLocked(acct, bucket, next)
	return *acct, clamped, nil
}

func (s *inMemoryStore) RecordEntry(_ context.Context, entry Entry) (Entry, error) {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, entry)
	return entry, nil
}

func (s *inMemoryStore) FindEntries(_ context.Context, filter EntryFilter) ([]Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []Entry
	for _, e := range s.entries {
		if filter.TaskID != "" && e.TaskID != filter.TaskID {
			continue
		}
		if filter.WithdrawalID != "" && e.WithdrawalID != filter.WithdrawalID {
			continue
		}
		if filter.TxHash != "" && e.TxHash != filter.TxHash {
			continue
		}
		if len(filter.Types) > 0 && !containsType(filter.Types, e.Type) {
			continue
		}
		matched = append(matched, e)
	}
	return matched, nil
}

func (s *inMemoryStore) bucketLocked(acct *Account, bucket Bucket) string {
	if bucket == BucketLocked {
		return acct.Locked
	}
	return acct.Available
}

func (s *inMemoryStore) setBucketLocked(acct *Account, bucket Bucket, amount string) {
	if bucket == BucketLocked {
		acct.Locked = amount
		return
	}
	acct.Available = amount
}

func containsType(types []EntryType, t EntryType) bool {
	for _, candidate := range types {
		if candidate == t {
			return true
		}
	}
	return false
}
