package health

import (
	"fmt"
	"net/http"
	"strings"
	"time"
)

const (
	rateLimitCooldown = 5 * time.Minute
	exhaustedCooldown = 24 * time.Hour
)

// Failure is one failed reasoning call as the tracker sees it. Backends build
// it from whatever their client reports.
type Failure struct {
	// HTTPStatus is 0 for transport errors
	HTTPStatus int
	// Code is the provider's machine-readable reason: error.code or error.type
	// from an OpenAI-compatible body, or the RPC status from Gemini
	// (RESOURCE_EXHAUSTED, UNAVAILABLE, ...)
	Code    string
	Message string
}

// Cooldown is how long the provider should be left alone after f. Zero means
// f only counts toward the failure threshold.
func (f Failure) Cooldown() time.Duration {
	code := strings.ToLower(f.Code)
	msg := strings.ToLower(f.Message)

	switch {
	case code == "insufficient_quota" || code == "billing_hard_limit_reached",
		strings.Contains(msg, "per day"), strings.Contains(msg, "daily limit"):
		return exhaustedCooldown
	case f.HTTPStatus == http.StatusTooManyRequests,
		code == "rate_limit_exceeded", code == "resource_exhausted",
		strings.Contains(msg, "per minute"):
		return rateLimitCooldown
	}
	return 0
}

// Counts reports whether f says anything about the provider. Rejected
// requests (bad prompt, bad key) are the caller's problem.
func (f Failure) Counts() bool {
	return f.HTTPStatus == 0 || f.HTTPStatus >= 500 || f.Cooldown() > 0
}

func (f Failure) String() string {
	switch {
	case f.HTTPStatus != 0 && f.Code != "":
		return fmt.Sprintf("%d %s: %s", f.HTTPStatus, f.Code, f.Message)
	case f.HTTPStatus != 0:
		return fmt.Sprintf("%d: %s", f.HTTPStatus, f.Message)
	}
	return f.Message
}
