package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/agentpay/agent_pay/internal/deposit"
)

// RegisterDepositRoutes wires deposit address issuance and crediting.
func RegisterDepositRoutes(r fiber.Router, h *deposit.Handler) {
	r.Post("/workers/:workerId/deposit-address", h.IssueAddress)
	r.Post("/deposits/credit", h.Credit)
}
