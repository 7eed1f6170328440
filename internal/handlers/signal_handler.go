package handlers

import (
	"strconv"

	"autopilot/internal/services"

	"github.com/gofiber/fiber/v2"
)

// SignalHandler handles signal intake endpoints
type SignalHandler struct {
	intake *services.IntakeService
}

// NewSignalHandler creates a new signal handler
func NewSignalHandler(intake *services.IntakeService) *SignalHandler {
	return &SignalHandler{intake: intake}
}

// Ingest handles POST /api/signals
func (h *SignalHandler) Ingest(c *fiber.Ctx) error {
	var req services.IngestRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}

	res, err := h.intake.Ingest(c.UserContext(), userID(c), req)
	if err != nil {
		return respondError(c, "SIGNALS", err)
	}

	resp := fiber.Map{"signal": res.Signal}
	switch {
	case res.Result == nil:
	case res.Result.Workflow != nil:
		resp["workflow"] = res.Result.Workflow
		if len(res.Result.Errors) > 0 {
			resp["errors"] = res.Result.Errors
		}
	default:
		resp["result"] = res.Result
	}
	return c.Status(fiber.StatusCreated).JSON(resp)
}

// List handles GET /api/signals
func (h *SignalHandler) List(c *fiber.Ctx) error {
	limit, offset, err := pagination(c)
	if err != nil {
		return respondError(c, "SIGNALS", err)
	}

	var processed *bool
	if v := c.Query("processed"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "processed must be true or false"})
		}
		processed = &b
	}

	signals, total, err := h.intake.ListSignals(c.UserContext(), userID(c), processed, limit, offset)
	if err != nil {
		return respondError(c, "SIGNALS", err)
	}
	return c.JSON(fiber.Map{
		"signals": signals,
		"total":   total,
		"limit":   limit,
		"offset":  offset,
	})
}

// Get handles GET /api/signals/:id
func (h *SignalHandler) Get(c *fiber.Ctx) error {
	signal, err := h.intake.GetSignal(c.UserContext(), userID(c), c.Params("id"))
	if err != nil {
		return respondError(c, "SIGNALS", err)
	}
	return c.JSON(signal)
}
