package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/agentpay/agent_pay/internal/treasury"
)

// RegisterTreasuryRoutes wires the write-once treasury configuration.
func RegisterTreasuryRoutes(r fiber.Router, h *treasury.Handler) {
	r.Put("/treasury/:chain", h.Configure)
	r.Get("/treasury/:chain", h.Get)
}
