package handlers

import (
	"context"

	"autopilot/internal/models"
	"autopilot/internal/services"

	"github.com/gofiber/fiber/v2"
)

// DraftHandler handles draft review endpoints
type DraftHandler struct {
	drafts *services.DraftService
}

// NewDraftHandler creates a new draft handler
func NewDraftHandler(drafts *services.DraftService) *DraftHandler {
	return &DraftHandler{drafts: drafts}
}

// List handles GET /api/drafts
func (h *DraftHandler) List(c *fiber.Ctx) error {
	limit, offset, err := pagination(c)
	if err != nil {
		return respondError(c, "DRAFTS", err)
	}

	drafts, total, err := h.drafts.List(c.UserContext(), userID(c), c.Query("status"), limit, offset)
	if err != nil {
		return respondError(c, "DRAFTS", err)
	}
	return c.JSON(fiber.Map{
		"drafts": drafts,
		"total":  total,
		"limit":  limit,
		"offset": offset,
	})
}

// Get handles GET /api/drafts/:id
func (h *DraftHandler) Get(c *fiber.Ctx) error {
	draft, err := h.drafts.Get(c.UserContext(), userID(c), c.Params("id"))
	if err != nil {
		return respondError(c, "DRAFTS", err)
	}
	return c.JSON(draft)
}

// Approve handles POST /api/drafts/:id/approve
func (h *DraftHandler) Approve(c *fiber.Ctx) error {
	return h.transition(c, h.drafts.Approve)
}

// Deny handles POST /api/drafts/:id/deny
func (h *DraftHandler) Deny(c *fiber.Ctx) error {
	return h.transition(c, h.drafts.Deny)
}

// MarkExecuted handles POST /api/drafts/:id/executed
func (h *DraftHandler) MarkExecuted(c *fiber.Ctx) error {
	return h.transition(c, h.drafts.MarkExecuted)
}

func (h *DraftHandler) transition(c *fiber.Ctx, fn func(ctx context.Context, userID, id string) (*models.Draft, error)) error {
	draft, err := fn(c.UserContext(), userID(c), c.Params("id"))
	if err != nil {
		return respondError(c, "DRAFTS", err)
	}
	return c.JSON(draft)
}
