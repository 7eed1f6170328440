package autonomy

import (
	"context"
	"errors"
	"math"
	"testing"

	"autopilot/internal/allowlist"
	"autopilot/internal/models"
)

func testRegistry(t *testing.T) *allowlist.Registry {
	t.Helper()
	threshold := 0.85
	r, err := allowlist.NewRegistry(
		allowlist.Capability{Name: "plan", Scopes: []allowlist.Scope{allowlist.ScopePlan}, Effect: allowlist.EffectNone},
		allowlist.Capability{Name: "read", Scopes: []allowlist.Scope{allowlist.ScopeRead}, Effect: allowlist.EffectReadOnly},
		allowlist.Capability{Name: "simulate", Scopes: []allowlist.Scope{allowlist.ScopeSimulate}, Effect: allowlist.EffectEphemeral},
		allowlist.Capability{Name: "draft", Scopes: []allowlist.Scope{allowlist.ScopePropose}, Effect: allowlist.EffectDraft},
		allowlist.Capability{Name: "draft_mislabeled", Scopes: []allowlist.Scope{allowlist.ScopePropose, allowlist.ScopeExecute}, Effect: allowlist.EffectDraft},
		allowlist.Capability{Name: "write", Scopes: []allowlist.Scope{allowlist.ScopePropose, allowlist.ScopeExecute}, Effect: allowlist.EffectWritesRequired, ConfidenceMin: &threshold},
		allowlist.Capability{Name: "write_nomin", Scopes: []allowlist.Scope{allowlist.ScopeExecute}, Effect: allowlist.EffectWritesRequired},
		allowlist.Capability{Name: "write_noscope", Scopes: []allowlist.Scope{allowlist.ScopePropose}, Effect: allowlist.EffectWritesRequired, ConfidenceMin: &threshold},
	)
	if err != nil {
		t.Fatalf("Failed to build registry: %v", err)
	}
	return r
}

func request(tool string, confidence float64, requested string) Request {
	return Request{
		ToolName: tool,
		Intent:   &models.Intent{Confidence: confidence, UserID: "user-1"},
		Draft:    &models.Draft{UserID: "user-1", ToolName: tool, Confidence: confidence, RequestedEffect: requested},
	}
}

var confidenceGrid = []float64{0, 0.1, 0.5, 0.84, 0.85, 0.9, 0.99, 1}

func TestGate_UnknownToolAlwaysRejected(t *testing.T) {
	g := NewGate(testRegistry(t))

	for _, tool := range []string{"", "delete_everything", "WRITE", "write ", "*"} {
		for _, c := range confidenceGrid {
			for _, eff := range []string{"", "writes_required", "none", "bogus"} {
				d := g.Decide(request(tool, c, eff))
				if d.Status != models.DraftStatusRejected || d.Reason != ReasonUnknownCapability {
					t.Fatalf("tool=%q conf=%v effect=%q: expected rejected/unknown capability, got %s/%s", tool, c, eff, d.Status, d.Reason)
				}
				var uce *UnknownCapabilityError
				if !errors.As(d.Err(), &uce) {
					t.Fatalf("Expected UnknownCapabilityError, got %v", d.Err())
				}
			}
		}
	}
}

func TestGate_NonWriteEffectsNeverAutoExecute(t *testing.T) {
	g := NewGate(testRegistry(t))

	for _, tool := range []string{"plan", "read", "simulate", "draft", "draft_mislabeled"} {
		for _, c := range confidenceGrid {
			for _, eff := range []string{"", "writes_required"} {
				d := g.Decide(request(tool, c, eff))
				if d.Status == models.DraftStatusAutoExecuted {
					t.Fatalf("tool=%s conf=%v effect=%q auto-executed", tool, c, eff)
				}
			}
		}
	}
}

func TestGate_BelowThresholdIsPendingReview(t *testing.T) {
	g := NewGate(testRegistry(t))

	for _, c := range []float64{0, 0.3, 0.6, 0.849} {
		d := g.Decide(request("write", c, ""))
		if d.Status != models.DraftStatusPendingReview {
			t.Errorf("conf=%v: expected pending_review, got %s", c, d.Status)
		}
		if d.Reason != ReasonBelowThreshold {
			t.Errorf("conf=%v: expected reason %q, got %q", c, ReasonBelowThreshold, d.Reason)
		}
		if d.Err() != nil {
			t.Errorf("conf=%v: expected no error, got %v", c, d.Err())
		}
	}
}

func TestGate_Scenarios(t *testing.T) {
	g := NewGate(testRegistry(t))

	tests := []struct {
		name       string
		tool       string
		confidence float64
		requested  string
		wantStatus models.DraftStatus
		wantReason string
	}{
		{"draft effect at high confidence", "draft", 0.99, "", models.DraftStatusPendingReview, ReasonReviewRequired},
		{"write below min", "write", 0.6, "", models.DraftStatusPendingReview, ReasonBelowThreshold},
		{"write above min", "write", 0.9, "", models.DraftStatusAutoExecuted, ReasonAutoExecute},
		{"write exactly at min", "write", 0.85, "", models.DraftStatusAutoExecuted, ReasonAutoExecute},
		{"write with no min", "write_nomin", 0.01, "", models.DraftStatusAutoExecuted, ReasonAutoExecute},
		{"write without execute scope", "write_noscope", 0.99, "", models.DraftStatusRejected, ReasonScopeViolation},
		{"write requested as draft", "write", 0.99, "draft", models.DraftStatusPendingReview, ReasonReviewRequired},
		{"draft asking to write", "draft", 0.99, "writes_required", models.DraftStatusRejected, ReasonScopeViolation},
		{"read asking to simulate", "read", 0.99, "ephemeral", models.DraftStatusRejected, ReasonScopeViolation},
		{"unknown requested effect", "write", 0.99, "teleport", models.DraftStatusRejected, ReasonScopeViolation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := g.Decide(request(tt.tool, tt.confidence, tt.requested))
			if d.Status != tt.wantStatus {
				t.Errorf("Expected status %s, got %s", tt.wantStatus, d.Status)
			}
			if d.Reason != tt.wantReason {
				t.Errorf("Expected reason %q, got %q", tt.wantReason, d.Reason)
			}
		})
	}
}

func TestGate_ScopeCheckedBeforeConfidence(t *testing.T) {
	g := NewGate(testRegistry(t))

	// Low confidence on a capability without the scope is still a hard rejection
	d := g.Decide(request("write_noscope", 0.1, ""))
	if d.Status != models.DraftStatusRejected {
		t.Fatalf("Expected rejected, got %s", d.Status)
	}
	var sve *ScopeViolationError
	if !errors.As(d.Err(), &sve) {
		t.Fatalf("Expected ScopeViolationError, got %v", d.Err())
	}
	if sve.RequiredScope != allowlist.ScopeExecute {
		t.Errorf("Expected required scope execute, got %s", sve.RequiredScope)
	}
}

func TestGate_NonFiniteConfidenceIsHeld(t *testing.T) {
	g := NewGate(testRegistry(t))

	d := g.Decide(request("write", math.NaN(), ""))
	if d.Status != models.DraftStatusPendingReview {
		t.Errorf("Expected NaN confidence to be held for review, got %s", d.Status)
	}
}

func TestGate_FallsBackToDraftConfidence(t *testing.T) {
	g := NewGate(testRegistry(t))

	d := g.Decide(Request{ToolName: "write", Draft: &models.Draft{Confidence: 0.95}})
	if d.Status != models.DraftStatusAutoExecuted {
		t.Errorf("Expected auto_executed, got %s", d.Status)
	}

	d = g.Decide(Request{ToolName: "write"})
	if d.Status != models.DraftStatusPendingReview {
		t.Errorf("Expected pending_review with no confidence at all, got %s", d.Status)
	}
}

type recordingSink struct {
	users     []string
	decisions []Decision
	err       error
}

func (s *recordingSink) RecordDecision(_ context.Context, userID string, d Decision) error {
	s.users = append(s.users, userID)
	s.decisions = append(s.decisions, d)
	return s.err
}

type countingObserver struct {
	counts map[string]int
}

func (o *countingObserver) ObserveGateDecision(status string, code string) {
	o.counts[status+"/"+code]++
}

func TestGate_EvaluateAuditsAndObserves(t *testing.T) {
	sink := &recordingSink{}
	obs := &countingObserver{counts: map[string]int{}}
	g := NewGate(testRegistry(t), WithAuditSink(sink), WithObserver(obs))

	g.Evaluate(context.Background(), request("write", 0.9, ""))
	g.Evaluate(context.Background(), request("nope", 0.9, ""))

	if len(sink.decisions) != 2 {
		t.Fatalf("Expected 2 audited decisions, got %d", len(sink.decisions))
	}
	if sink.users[0] != "user-1" {
		t.Errorf("Expected user-1, got %s", sink.users[0])
	}
	if obs.counts["auto_executed/auto_execute"] != 1 {
		t.Errorf("Expected one auto_execute observation, got %v", obs.counts)
	}
	if obs.counts["rejected/unknown_capability"] != 1 {
		t.Errorf("Expected one unknown_capability observation, got %v", obs.counts)
	}
}

func TestGate_AuditFailureDoesNotChangeDecision(t *testing.T) {
	sink := &recordingSink{err: errors.New("disk full")}
	g := NewGate(testRegistry(t), WithAuditSink(sink))

	d := g.Evaluate(context.Background(), request("write", 0.9, ""))
	if d.Status != models.DraftStatusAutoExecuted {
		t.Errorf("Expected auto_executed, got %s", d.Status)
	}
}

func TestGate_DefaultCatalogScenarios(t *testing.T) {
	g := NewGate(allowlist.DefaultRegistry())

	d := g.Decide(request("reminders.draft_followup", 0.99, ""))
	if d.Status != models.DraftStatusPendingReview {
		t.Errorf("Expected draft capability to be held at 0.99, got %s", d.Status)
	}

	d = g.Decide(request("calendar.create_event", 0.6, ""))
	if d.Status != models.DraftStatusPendingReview || d.Reason != ReasonBelowThreshold {
		t.Errorf("Expected pending_review/below threshold, got %s/%s", d.Status, d.Reason)
	}

	d = g.Decide(request("calendar.create_event", 0.9, ""))
	if d.Status != models.DraftStatusAutoExecuted {
		t.Errorf("Expected auto_executed, got %s", d.Status)
	}
}
