// Package autonomy decides whether a proposed action runs on its own or waits
// for a human. Hard gates (capability existence, scope) are always evaluated
// before the confidence gate.
package autonomy

import (
	"context"
	"log"

	"autopilot/internal/allowlist"
	"autopilot/internal/models"
)

// Reasons reported on decisions
const (
	ReasonUnknownCapability = "unknown capability"
	ReasonScopeViolation    = "scope violation"
	ReasonBelowThreshold    = "confidence below threshold"
	ReasonReviewRequired    = "effect requires human review"
	ReasonAutoExecute       = "allowed for autonomous execution"
)

// DecisionCode is a stable machine-readable tag for a decision
type DecisionCode string

const (
	CodeUnknownCapability DecisionCode = "unknown_capability"
	CodeScopeViolation    DecisionCode = "scope_violation"
	CodeBelowThreshold    DecisionCode = "below_threshold"
	CodeReviewRequired    DecisionCode = "review_required"
	CodeAutoExecute       DecisionCode = "auto_execute"
)

// Request is the input to a gate decision
type Request struct {
	Draft    *models.Draft
	Intent   *models.Intent
	ToolName string
}

// Decision is the disposition the gate assigns to a draft
type Decision struct {
	Status models.DraftStatus `json:"status"`
	Reason string             `json:"reason"`
	Code   DecisionCode       `json:"code"`

	ToolName      string           `json:"tool_name"`
	Effect        allowlist.Effect `json:"effect,omitempty"`
	RequiredScope allowlist.Scope  `json:"required_scope,omitempty"`
	Confidence    float64          `json:"confidence"`
}

// AutoExecute reports whether the draft may run without review
func (d Decision) AutoExecute() bool {
	return d.Status == models.DraftStatusAutoExecuted
}

// Err returns a typed error for rejections and nil otherwise
func (d Decision) Err() error {
	switch d.Code {
	case CodeUnknownCapability:
		return &UnknownCapabilityError{ToolName: d.ToolName}
	case CodeScopeViolation:
		return &ScopeViolationError{ToolName: d.ToolName, Effect: d.Effect, RequiredScope: d.RequiredScope}
	}
	return nil
}

// AuditSink receives every decision. Implementations must not block for long.
type AuditSink interface {
	RecordDecision(ctx context.Context, userID string, d Decision) error
}

// Observer is notified of every decision (metrics)
type Observer interface {
	ObserveGateDecision(status string, code string)
}

// Gate evaluates drafts against the allowlist
type Gate struct {
	registry *allowlist.Registry
	audit    AuditSink
	observer Observer
}

// Option configures a Gate
type Option func(*Gate)

// WithAuditSink appends every decision to an audit log
func WithAuditSink(sink AuditSink) Option {
	return func(g *Gate) { g.audit = sink }
}

// WithObserver reports every decision to o
func WithObserver(o Observer) Option {
	return func(g *Gate) { g.observer = o }
}

// NewGate creates a gate bound to a registry
func NewGate(registry *allowlist.Registry, opts ...Option) *Gate {
	g := &Gate{registry: registry}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Decide computes the disposition of a draft. It has no side effects.
func (g *Gate) Decide(req Request) Decision {
	confidence := requestConfidence(req)
	d := Decision{ToolName: req.ToolName, Confidence: confidence}

	// 1. capability must exist
	entry, ok := g.registry.Get(req.ToolName)
	if !ok {
		d.Status = models.DraftStatusRejected
		d.Reason = ReasonUnknownCapability
		d.Code = CodeUnknownCapability
		return d
	}
	d.Effect = entry.Effect

	// 2. the entry must hold the scope for the intended effect
	intended := entry.Effect
	if req.Draft != nil && req.Draft.RequestedEffect != "" {
		intended = allowlist.Effect(req.Draft.RequestedEffect)
	}
	scope, known := allowlist.RequiredScope(intended)
	d.RequiredScope = scope
	if !known || !entry.HasScope(scope) {
		d.Status = models.DraftStatusRejected
		d.Reason = ReasonScopeViolation
		d.Code = CodeScopeViolation
		d.Effect = intended
		return d
	}

	// 3. confidence gate for writes
	if entry.Effect == allowlist.EffectWritesRequired && entry.ConfidenceMin != nil && confidence < *entry.ConfidenceMin {
		d.Status = models.DraftStatusPendingReview
		d.Reason = ReasonBelowThreshold
		d.Code = CodeBelowThreshold
		return d
	}

	// 4. anything short of a declared write only ever produces something for a human
	if entry.Effect != allowlist.EffectWritesRequired || intended != allowlist.EffectWritesRequired {
		d.Status = models.DraftStatusPendingReview
		d.Reason = ReasonReviewRequired
		d.Code = CodeReviewRequired
		return d
	}

	// 5. declared write with enough confidence
	d.Status = models.DraftStatusAutoExecuted
	d.Reason = ReasonAutoExecute
	d.Code = CodeAutoExecute
	return d
}

// Evaluate decides, then logs, counts and audits the decision.
// Audit failures are logged and never change the decision.
func (g *Gate) Evaluate(ctx context.Context, req Request) Decision {
	d := g.Decide(req)

	userID := ""
	if req.Draft != nil {
		userID = req.Draft.UserID
	} else if req.Intent != nil {
		userID = req.Intent.UserID
	}

	switch d.Code {
	case CodeUnknownCapability:
		log.Printf("🚨 [GATE] Unknown capability %q requested for user %s (possible probing)", req.ToolName, userID)
	case CodeScopeViolation:
		log.Printf("🚫 [GATE] Scope violation: %s lacks %q for effect %s (user %s)", req.ToolName, d.RequiredScope, d.Effect, userID)
	case CodeBelowThreshold:
		log.Printf("⏸️ [GATE] %s held for review: confidence %.2f below threshold (user %s)", req.ToolName, d.Confidence, userID)
	default:
		log.Printf("🛡️ [GATE] %s -> %s (%s)", req.ToolName, d.Status, d.Reason)
	}

	if g.observer != nil {
		g.observer.ObserveGateDecision(string(d.Status), string(d.Code))
	}

	if g.audit != nil {
		if err := g.audit.RecordDecision(ctx, userID, d); err != nil {
			log.Printf("⚠️ [GATE] Failed to audit decision for %s: %v", req.ToolName, err)
		}
	}

	return d
}

// requestConfidence prefers the intent's score and falls back to the draft's.
// Non-finite values count as zero.
func requestConfidence(req Request) float64 {
	switch {
	case req.Intent != nil:
		return models.ClampConfidence(req.Intent.Confidence)
	case req.Draft != nil:
		return models.ClampConfidence(req.Draft.Confidence)
	}
	return 0
}
