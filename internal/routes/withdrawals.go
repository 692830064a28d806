package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/agentpay/agent_pay/internal/withdrawal"
)

// RegisterWithdrawalRoutes wires the withdrawal pipeline endpoints. The
// create endpoint is rate limited per worker.
func RegisterWithdrawalRoutes(r fiber.Router, h *withdrawal.Handler, limiter fiber.Handler) {
	r.Post("/workers/:workerId/withdrawals", limiter, h.Create)
	r.Post("/withdrawals/:id/resolve", h.Resolve)
	r.Get("/withdrawals/:id", h.Get)
}
