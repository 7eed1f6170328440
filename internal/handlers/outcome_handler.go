package handlers

import (
	"autopilot/internal/services"

	"github.com/gofiber/fiber/v2"
)

// OutcomeHandler handles outcome reporting
type OutcomeHandler struct {
	learning *services.LearningService
}

// NewOutcomeHandler creates a new outcome handler
func NewOutcomeHandler(learning *services.LearningService) *OutcomeHandler {
	return &OutcomeHandler{learning: learning}
}

// Record handles POST /api/outcomes
func (h *OutcomeHandler) Record(c *fiber.Ctx) error {
	var req services.RecordOutcomeRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}

	res, err := h.learning.RecordOutcome(c.UserContext(), userID(c), req)
	if err != nil {
		return respondError(c, "OUTCOMES", err)
	}
	return c.Status(fiber.StatusCreated).JSON(res)
}

// List handles GET /api/outcomes
func (h *OutcomeHandler) List(c *fiber.Ctx) error {
	limit, offset, err := pagination(c)
	if err != nil {
		return respondError(c, "OUTCOMES", err)
	}

	outcomes, total, err := h.learning.ListOutcomes(c.UserContext(), userID(c), c.Query("outcomeType"), limit, offset)
	if err != nil {
		return respondError(c, "OUTCOMES", err)
	}
	return c.JSON(fiber.Map{
		"outcomes": outcomes,
		"total":    total,
		"limit":    limit,
		"offset":   offset,
	})
}
