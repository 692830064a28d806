package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/agentpay/agent_pay/internal/escrow"
)

// RegisterEscrowRoutes wires the escrow state machine endpoints.
func RegisterEscrowRoutes(r fiber.Router, h *escrow.Handler) {
	r.Post("/tasks/:taskId/escrow/lock", h.Lock)
	r.Post("/tasks/:taskId/escrow/settle", h.Settle)
	r.Post("/tasks/:taskId/escrow/refund", h.Refund)
}
