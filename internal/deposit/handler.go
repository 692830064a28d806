package deposit

import (
	"errors"
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/agentpay/agent_pay/internal/derivation"
	"github.com/agentpay/agent_pay/internal/ledger"
)

// Handler exposes deposit address issuance and crediting over HTTP.
type Handler struct {
	service *Service
}

// NewHandler constructs a deposit handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// CreditRequest carries an observed on-chain deposit.
type CreditRequest struct {
	WorkerID string `json:"worker_id"`
	Chain    string `json:"chain"`
	Amount   string `json:"amount"`
	TxHash   string `json:"tx_hash"`
}

// IssueAddress returns the worker's deposit address, deriving on first use.
func (h *Handler) IssueAddress(c *fiber.Ctx) error {
	chain := ledger.Chain(c.Query("chain"))
	a, err := h.service.IssueAddress(c.UserContext(), c.Params("workerId"), chain)
	if err != nil {
		return mapError(err)
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{
		"worker_id": a.WorkerID,
		"chain":     a.Chain,
		"address":   a.Address,
	})
}

// Credit applies a confirmed deposit to the worker's available balance.
func (h *Handler) Credit(c *fiber.Ctx) error {
	var req CreditRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	result, err := h.service.Credit(c.UserContext(), CreditInput{
		WorkerID: req.WorkerID,
		Chain:    ledger.Chain(req.Chain),
		Amount:   req.Amount,
		TxHash:   req.TxHash,
	})
	if err != nil {
		return mapError(err)
	}
	status := http.StatusCreated
	if result.AlreadyCredited {
		status = http.StatusOK
	}
	return c.Status(status).JSON(fiber.Map{
		"worker_id":        result.WorkerID,
		"chain":            result.Chain,
		"amount":           result.Amount,
		"already_credited": result.AlreadyCredited,
	})
}

func mapError(err error) error {
	switch {
	case errors.Is(err, ledger.ErrUnknownChain), errors.Is(err, ledger.ErrInvalidAmount), errors.Is(err, ErrMissingTxHash):
		return fiber.NewError(http.StatusBadRequest, err.Error())
	case errors.Is(err, derivation.ErrContention):
		return fiber.NewError(http.StatusServiceUnavailable, err.Error())
	default:
		return err
	}
}
