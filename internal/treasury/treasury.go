// Package treasury is the single source of truth for protocol fee
// destination addresses. Fee remittance and sweeps must resolve destinations
// here; protocol-owned funds never move to a caller-supplied address.
package treasury

import (
	"context"
	"errors"
	"fmt"

	"github.com/agentpay/agent_pay/internal/ledger"
)

var (
	// ErrNotConfigured indicates no treasury address has been set for the chain.
	ErrNotConfigured = errors.New("treasury address not configured")

	// ErrInvalidAddress indicates the stored or submitted address fails
	// format validation for its chain.
	ErrInvalidAddress = errors.New("invalid treasury address")

	// ErrAddressLocked indicates a validated address already exists for the
	// chain. Addresses are write-once via the API; replacing one requires
	// out-of-band intervention.
	ErrAddressLocked = errors.New("treasury address already configured")
)

// Store persists the per-chain treasury configuration as explicit rows, not
// in-process state, since the service runs multi-instance.
type Store interface {
	Get(ctx context.Context, chain ledger.Chain) (string, error)
	// SetIfAbsent stores the address only when the chain has none yet,
	// reporting whether the write happened.
	SetIfAbsent(ctx context.Context, chain ledger.Chain, address string) (bool, error)
}

// Resolver enforces the write-once rule and format validation over a Store.
type Resolver struct {
	store Store
}

// NewResolver builds a treasury resolver.
func NewResolver(store Store) *Resolver {
	return &Resolver{store: store}
}

// Resolve returns the configured, format-validated address for the chain.
func (r *Resolver) Resolve(ctx context.Context, chain ledger.Chain) (string, error) {
	if !chain.Valid() {
		return "", ledger.ErrUnknownChain
	}
	address, err := r.store.Get(ctx, chain)
	if err != nil {
		return "", err
	}
	if address == "" {
		return "", fmt.Errorf("%w: %s", ErrNotConfigured, chain)
	}
	if !ValidAddress(chain, address) {
		return "", fmt.Errorf("%w: %s", ErrInvalidAddress, chain)
	}
	return address, nil
}

// Configure validates and stores the address for a chain. Once a chain's
// address passes validation and is stored it cannot be changed here.
func (r *Resolver) Configure(ctx context.Context, chain ledger.Chain, address string) error {
	if !chain.Valid() {
		return ledger.ErrUnknownChain
	}
	if !ValidAddress(chain, address) {
		return fmt.Errorf("%w: %q on %s", ErrInvalidAddress, address, chain)
	}
	stored, err := r.store.SetIfAbsent(ctx, chain, address)
	if err != nil {
		return err
	}
	if !stored {
		return ErrAddressLocked
	}
	return nil
}
