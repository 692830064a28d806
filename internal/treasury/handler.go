package treasury

import (
	"errors"
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/agentpay/agent_pay/internal/ledger"
)

// Handler exposes the write-once treasury configuration over HTTP.
type Handler struct {
	resolver *Resolver
}

// NewHandler constructs a treasury handler.
func NewHandler(resolver *Resolver) *Handler {
	return &Handler{resolver: resolver}
}

// ConfigureRequest carries the fee destination address for a chain.
type ConfigureRequest struct {
	Address string `json:"address"`
}

// Configure sets the treasury address for a chain, once.
func (h *Handler) Configure(c *fiber.Ctx) error {
	var req ConfigureRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	chain := ledger.Chain(c.Params("chain"))
	if err := h.resolver.Configure(c.UserContext(), chain, req.Address); err != nil {
		switch {
		case errors.Is(err, ErrAddressLocked):
			return fiber.NewError(http.StatusConflict, err.Error())
		case errors.Is(err, ErrInvalidAddress), errors.Is(err, ledger.ErrUnknownChain):
			return fiber.NewError(http.StatusBadRequest, err.Error())
		default:
			return err
		}
	}
	return c.Status(http.StatusCreated).JSON(fiber.Map{
		"chain":   chain,
		"address": req.Address,
	})
}

// Get returns the configured treasury address for a chain.
func (h *Handler) Get(c *fiber.Ctx) error {
	chain := ledger.Chain(c.Params("chain"))
	address, err := h.resolver.Resolve(c.UserContext(), chain)
	if err != nil {
		switch {
		case errors.Is(err, ErrNotConfigured):
			return fiber.NewError(http.StatusNotFound, err.Error())
		case errors.Is(err, ledger.ErrUnknownChain):
			return fiber.NewError(http.StatusBadRequest, err.Error())
		default:
			return err
		}
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{
		"chain":   chain,
		"address": address,
	})
}
