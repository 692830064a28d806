package withdrawal

import (
	"errors"
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/agentpay/agent_pay/internal/ledger"
	"github.com/agentpay/agent_pay/internal/worker"
)

// Handler exposes the withdrawal pipeline over HTTP.
type Handler struct {
	service *Service
}

// NewHandler constructs a withdrawal handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// CreateRequest is the payload for a new withdrawal.
type CreateRequest struct {
	Chain              string `json:"chain"`
	Amount             string `json:"amount"`
	DestinationAddress string `json:"destination_address"`
}

// ResolveRequest is the payload for a manual review decision.
type ResolveRequest struct {
	Approve bool   `json:"approve"`
	Note    string `json:"note"`
}

// Create locks funds and runs the risk pipeline for a new withdrawal.
func (h *Handler) Create(c *fiber.Ctx) error {
	var req CreateRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	result, err := h.service.Request(c.UserContext(), RequestInput{
		WorkerID:           c.Params("workerId"),
		Chain:              ledger.Chain(req.Chain),
		Amount:             req.Amount,
		DestinationAddress: req.DestinationAddress,
	})
	if err != nil {
		switch {
		case errors.Is(err, worker.ErrNotFound):
			return fiber.NewError(http.StatusNotFound, err.Error())
		case errors.Is(err, ledger.ErrInsufficientFunds):
			return fiber.NewError(http.StatusUnprocessableEntity, err.Error())
		case errors.Is(err, ErrAccountSuspended):
			return fiber.NewError(http.StatusForbidden, err.Error())
		case errors.Is(err, ledger.ErrUnknownChain),
			errors.Is(err, ledger.ErrInvalidAmount),
			errors.Is(err, ErrInvalidDestination),
			errors.Is(err, ErrBelowMinimum):
			return fiber.NewError(http.StatusBadRequest, err.Error())
		default:
			return err
		}
	}
	return c.Status(http.StatusCreated).JSON(toResponse(result))
}

// Resolve applies a manual decision to a held request.
func (h *Handler) Resolve(c *fiber.Ctx) error {
	var req ResolveRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	result, err := h.service.Resolve(c.UserContext(), c.Params("id"), req.Approve, req.Note)
	if err != nil {
		switch {
		case errors.Is(err, ErrNotFound):
			return fiber.NewError(http.StatusNotFound, err.Error())
		case errors.Is(err, ErrNotOnHold):
			return fiber.NewError(http.StatusConflict, err.Error())
		default:
			return err
		}
	}
	return c.Status(http.StatusOK).JSON(toResponse(result))
}

// Get returns the current state of a withdrawal request.
func (h *Handler) Get(c *fiber.Ctx) error {
	result, err := h.service.Get(c.UserContext(), c.Params("id"))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return fiber.NewError(http.StatusNotFound, err.Error())
		}
		return err
	}
	return c.Status(http.StatusOK).JSON(toResponse(result))
}

func toResponse(req Request) fiber.Map {
	return fiber.Map{
		"id":                  req.ID,
		"worker_id":           req.WorkerID,
		"chain":               req.Chain,
		"amount":              req.Amount,
		"destination_address": req.DestinationAddress,
		"status":              req.Status,
		"risk_score":          req.RiskScore,
		"risk_reasons":        req.RiskReasons,
		"tx_hash":             req.TxHash,
		"created_at":          req.CreatedAt,
	}
}
