package handlers

import (
	"autopilot/internal/allowlist"

	"github.com/gofiber/fiber/v2"
)

// CapabilityHandler exposes the allowlist read-only
type CapabilityHandler struct {
	registry *allowlist.Registry
}

// NewCapabilityHandler creates a new capability handler
func NewCapabilityHandler(registry *allowlist.Registry) *CapabilityHandler {
	return &CapabilityHandler{registry: registry}
}

// List handles GET /api/capabilities
func (h *CapabilityHandler) List(c *fiber.Ctx) error {
	caps := h.registry.List()
	return c.JSON(fiber.Map{
		"capabilities": caps,
		"count":        len(caps),
	})
}
