package ledger

import (
	"net/http"

	"github.com/gofiber/fiber/v2"
)

// Handler exposes worker balance views over HTTP.
type Handler struct {
	store Store
}

// NewHandler constructs a ledger handler.
func NewHandler(store Store) *Handler {
	return &Handler{store: store}
}

// Balances returns the worker's available and locked balances on every
// supported chain. Accounts the worker never used report zero.
func (h *Handler) Balances(c *fiber.Ctx) error {
	workerID := c.Params("workerId")
	balances := make([]fiber.Map, 0, len(Chains))
	for _, chain := range Chains {
		acct, err := h.store.GetOrCreate(c.UserContext(), WorkerRef(workerID, chain))
		if err != nil {
			return err
		}
		balances = append(balances, fiber.Map{
			"chain":     chain,
			"available": acct.Available,
			"locked":    acct.Locked,
		})
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{
		"worker_id": workerID,
		"balances":  balances,
	})
}
