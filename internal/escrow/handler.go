package escrow

import (
	"errors"
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/agentpay/agent_pay/internal/ledger"
	"github.com/agentpay/agent_pay/internal/task"
)

// Handler exposes the escrow state machine over HTTP.
type Handler struct {
	service *Service
}

// NewHandler constructs an escrow handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// SettleRequest carries the accepted submission being settled.
type SettleRequest struct {
	SubmissionID string `json:"submission_id"`
	WorkerID     string `json:"worker_id"`
}

// RefundRequest carries the reason a task is being refunded.
type RefundRequest struct {
	Reason string `json:"reason"`
}

// Lock locks a task's escrow.
func (h *Handler) Lock(c *fiber.Ctx) error {
	result, err := h.service.Lock(c.UserContext(), c.Params("taskId"))
	if err != nil {
		return mapError(err)
	}
	status := http.StatusCreated
	if result.AlreadyLocked {
		status = http.StatusOK
	}
	return c.Status(status).JSON(fiber.Map{
		"task_id":        result.TaskID,
		"amount":         result.Amount,
		"already_locked": result.AlreadyLocked,
	})
}

// Settle settles a task's escrow toward the claiming worker.
func (h *Handler) Settle(c *fiber.Ctx) error {
	var req SettleRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	result, err := h.service.Settle(c.UserContext(), c.Params("taskId"), req.SubmissionID, req.WorkerID)
	if err != nil {
		return mapError(err)
	}
	if result.Refunded {
		return c.Status(http.StatusConflict).JSON(fiber.Map{
			"task_id": result.TaskID,
			"outcome": "refunded",
		})
	}
	status := http.StatusCreated
	if result.AlreadySettled {
		status = http.StatusOK
	}
	return c.Status(status).JSON(fiber.Map{
		"task_id":         result.TaskID,
		"worker_id":       result.WorkerID,
		"fee":             result.Fee,
		"payout":          result.Payout,
		"fee_venue":       result.FeeVenue,
		"release_at":      result.ReleaseAt,
		"already_settled": result.AlreadySettled,
	})
}

// Refund refunds a task's escrow to its creator.
func (h *Handler) Refund(c *fiber.Ctx) error {
	var req RefundRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	result, err := h.service.Refund(c.UserContext(), c.Params("taskId"), req.Reason)
	if err != nil {
		return mapError(err)
	}
	if result.Settled {
		return c.Status(http.StatusConflict).JSON(fiber.Map{
			"task_id": result.TaskID,
			"outcome": "settled",
		})
	}
	status := http.StatusCreated
	if result.AlreadyRefunded {
		status = http.StatusOK
	}
	return c.Status(status).JSON(fiber.Map{
		"task_id":          result.TaskID,
		"amount":           result.Amount,
		"already_refunded": result.AlreadyRefunded,
	})
}

func mapError(err error) error {
	switch {
	case errors.Is(err, task.ErrNotFound):
		return fiber.NewError(http.StatusNotFound, err.Error())
	case errors.Is(err, ledger.ErrInsufficientFunds):
		return fiber.NewError(http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, ErrNoEscrow), errors.Is(err, ErrEscrowNotLocked), errors.Is(err, ledger.ErrInvalidAmount):
		return fiber.NewError(http.StatusBadRequest, err.Error())
	default:
		return err
	}
}
