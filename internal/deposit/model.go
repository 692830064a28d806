package deposit

import (
	"time"

	"github.com/agentpay/agent_pay/internal/ledger"
)

// Address is a custody-derived deposit address assigned to one worker on
// one chain. The derivation index is allocated once and never reused.
type Address struct {
	ID        string
	WorkerID  string
	Chain     ledger.Chain
	Index     int64
	Address   string
	CreatedAt time.Time
}
