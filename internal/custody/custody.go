// Package custody defines the contract to the external custody/broadcast
// provider. The provider owns key derivation, signing and broadcast; this
// system only consumes its responses and treats every call as fallible and
// possibly slow.
package custody

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/agentpay/agent_pay/internal/ledger"
)

// ConfirmationStatus reports where a broadcast transaction stands on chain.
type ConfirmationStatus string

const (
	StatusPending   ConfirmationStatus = "pending"
	StatusConfirmed ConfirmationStatus = "confirmed"
	StatusFailed    ConfirmationStatus = "failed"
)

// Provider is the external custody collaborator.
type Provider interface {
	// DeriveAddress returns the receive address for a chain and derivation index.
	DeriveAddress(ctx context.Context, chain ledger.Chain, index int64) (string, error)
	// Transfer broadcasts an outbound transaction and returns its hash.
	Transfer(ctx context.Context, chain ledger.Chain, amount, destination string) (string, error)
	// Confirmations returns the on-chain status for a broadcast transaction.
	Confirmations(ctx context.Context, chain ledger.Chain, txHash string) (ConfirmationStatus, error)
}

// StaticProvider simulates a healthy custody integration for dev and tests.
type StaticProvider struct{}

// DeriveAddress fabricates a deterministic per-index address.
func (StaticProvider) DeriveAddress(_ context.Context, chain ledger.Chain, index int64) (string, error) {
	return fmt.Sprintf("%s-deposit-%d", chain, index), nil
}

// Transfer approves the broadcast with a synthetic transaction hash.
func (StaticProvider) Transfer(_ context.Context, _ ledger.Chain, _, _ string) (string, error) {
	return "0x" + uuid.NewString(), nil
}

// Confirmations reports every transaction as confirmed.
func (StaticProvider) Confirmations(_ context.Context, _ ledger.Chain, _ string) (ConfirmationStatus, error) {
	return StatusConfirmed, nil
}
