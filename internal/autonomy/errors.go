package autonomy

import (
	"fmt"

	"autopilot/internal/allowlist"
)

// UnknownCapabilityError is returned for tool names absent from the allowlist
type UnknownCapabilityError struct {
	ToolName string
}

func (e *UnknownCapabilityError) Error() string {
	return fmt.Sprintf("unknown capability: %q", e.ToolName)
}

// ScopeViolationError is returned when a capability lacks the scope its effect needs
type ScopeViolationError struct {
	ToolName      string
	Effect        allowlist.Effect
	RequiredScope allowlist.Scope
}

func (e *ScopeViolationError) Error() string {
	if e.RequiredScope == "" {
		return fmt.Sprintf("scope violation: %s cannot perform unknown effect %q", e.ToolName, e.Effect)
	}
	return fmt.Sprintf("scope violation: %s requires scope %q for effect %s", e.ToolName, e.RequiredScope, e.Effect)
}
