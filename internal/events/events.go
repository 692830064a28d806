package events

import (
	"context"
	"log/slog"
)

// Domain event names emitted by the settlement core.
const (
	KindFundsLocked         = "funds_locked"
	KindEscrowReleased      = "escrow_released"
	KindEscrowRefunded      = "escrow_refunded"
	KindPayoutReleased      = "payout_released"
	KindDepositCredited     = "deposit_credited"
	KindWithdrawalRequested = "withdrawal_requested"
	KindWithdrawalApproved  = "withdrawal_approved"
	KindWithdrawalHeld      = "withdrawal_risk_hold"
	KindWithdrawalRejected  = "withdrawal_rejected"
	KindWithdrawalFailed    = "withdrawal_failed"
)

// Event is an append-only notification of something that happened.
type Event struct {
	Kind    string
	Subject string
	Fields  map[string]string
}

// Sink receives domain events. Delivery is fire-and-forget from the core's
// perspective; a failed emit never fails the triggering operation.
type Sink interface {
	Emit(ctx context.Context, event Event)
}

// LoggerSink writes events to the structured logger.
type LoggerSink struct {
	logger *slog.Logger
}

// NewLoggerSink constructs a logging event sink.
func NewLoggerSink(logger *slog.Logger) *LoggerSink {
	return &LoggerSink{logger: logger}
}

// Emit writes the event to the structured logger.
func (s *LoggerSink) Emit(_ context.Context, event Event) {
	if s == nil || s.logger == nil {
		return
	}
	attrs := []any{slog.String("kind", event.Kind), slog.String("subject", event.Subject)}
	for k, v := range event.Fields {
		attrs = append(attrs, slog.String(k, v))
	}
	s.logger.Info("domain event", attrs...)
}
