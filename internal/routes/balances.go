package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/agentpay/agent_pay/internal/ledger"
)

// RegisterBalanceRoutes wires the worker balance view.
func RegisterBalanceRoutes(r fiber.Router, h *ledger.Handler) {
	r.Get("/workers/:workerId/balances", h.Balances)
}
