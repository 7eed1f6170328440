package handlers

import (
	"context"
	"time"

	"autopilot/internal/jobs"

	"github.com/gofiber/fiber/v2"
)

// HealthCheck reports whether a dependency is reachable
type HealthCheck func(ctx context.Context) error

// HealthHandler handles health check requests
type HealthHandler struct {
	checks map[string]HealthCheck
	jobs   func() map[string]jobs.JobStatus
}

// NewHealthHandler creates a new health handler. checks maps a dependency
// name (mongodb, redis, ...) to its check.
func NewHealthHandler(checks map[string]HealthCheck) *HealthHandler {
	return &HealthHandler{checks: checks}
}

// WithJobs adds background job status (last run, next run) to the response
func (h *HealthHandler) WithJobs(status func() map[string]jobs.JobStatus) *HealthHandler {
	h.jobs = status
	return h
}

// Handle responds with server health status
func (h *HealthHandler) Handle(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), 2*time.Second)
	defer cancel()

	status := "healthy"
	deps := fiber.Map{}
	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			status = "degraded"
			deps[name] = err.Error()
			continue
		}
		deps[name] = "ok"
	}

	code := fiber.StatusOK
	if status != "healthy" {
		code = fiber.StatusServiceUnavailable
	}
	body := fiber.Map{
		"status":       status,
		"dependencies": deps,
		"timestamp":    time.Now().Format(time.RFC3339),
	}
	if h.jobs != nil {
		body["jobs"] = h.jobs()
	}
	return c.Status(code).JSON(body)
}
