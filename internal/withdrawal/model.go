package withdrawal

import (
	"time"

	"github.com/agentpay/agent_pay/internal/ledger"
)

// Status of a withdrawal request.
type Status string

const (
	StatusRequested   Status = "requested"
	StatusRiskHold    Status = "risk_hold"
	StatusApproved    Status = "approved"
	StatusBroadcasted Status = "broadcasted"
	StatusConfirmed   Status = "confirmed"
	StatusFailed      Status = "failed"
	StatusRejected    Status = "rejected"
	StatusCancelled   Status = "cancelled"
)

// CountsTowardVelocity reports whether a request in this status still
// projects into the rolling daily withdrawal total. Failed, rejected and
// cancelled requests released or never consumed their funds. Confirmed
// requests are settled outflow and keep consuming the cap until the window
// rolls past them; otherwise a fast confirmation would reset the cap.
func (s Status) CountsTowardVelocity() bool {
	switch s {
	case StatusFailed, StatusRejected, StatusCancelled:
		return false
	}
	return true
}

// Request is an outbound withdrawal. Funds move available→locked at
// creation time, before the risk outcome is known.
type Request struct {
	ID                 string
	WorkerID           string
	Chain              ledger.Chain
	Amount             string
	DestinationAddress string
	Status             Status
	RiskScore          int
	RiskReasons        []string
	TxHash             string
	StatusReason       string
	CreatedAt          time.Time
	UpdatedAt          time.Time
}
