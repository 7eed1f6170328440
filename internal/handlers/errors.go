package handlers

import (
	"errors"
	"log"
	"strconv"

	"autopilot/internal/models"
	"autopilot/internal/services"
	"autopilot/internal/store"

	"github.com/gofiber/fiber/v2"
)

const (
	defaultPageSize = 50
	maxPageSize     = 200
)

// respondError maps service errors to HTTP responses
func respondError(c *fiber.Ctx, tag string, err error) error {
	var verr *services.ValidationError
	switch {
	case errors.As(err, &verr):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": verr.Error(), "field": verr.Field})
	case errors.Is(err, store.ErrNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not found"})
	case errors.Is(err, services.ErrSignalAlreadyProcessed):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": err.Error()})
	case errors.Is(err, models.ErrInvalidTransition):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": err.Error()})
	}

	log.Printf("❌ [%s] %v", tag, err)
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal server error"})
}

// pagination reads limit/offset. limit defaults to 50 and is capped at 200.
func pagination(c *fiber.Ctx) (int, int, error) {
	limit := defaultPageSize
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return 0, 0, &services.ValidationError{Field: "limit", Message: "must be a positive integer"}
		}
		limit = n
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}

	offset := 0
	if v := c.Query("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return 0, 0, &services.ValidationError{Field: "offset", Message: "must be a non-negative integer"}
		}
		offset = n
	}
	return limit, offset, nil
}

func userID(c *fiber.Ctx) string {
	id, _ := c.Locals("user_id").(string)
	return id
}
