package config

import (
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	for _, key := range []string{"PORT", "ENVIRONMENT", "WORKFLOW_LEASE", "CONTEXT_STRATEGY_LIMIT", "REASONING_RPS"} {
		t.Setenv(key, "")
	}

	cfg := Load()
	if cfg.Port != "3001" {
		t.Errorf("Port = %q, want 3001", cfg.Port)
	}
	if cfg.IsProduction() {
		t.Error("default environment should not be production")
	}
	if cfg.WorkflowLease != time.Minute {
		t.Errorf("WorkflowLease = %v, want 1m", cfg.WorkflowLease)
	}
	if cfg.ContextStrategyLimit != 20 || cfg.ContextOutcomeLimit != 10 {
		t.Errorf("context limits = %d/%d, want 20/10", cfg.ContextStrategyLimit, cfg.ContextOutcomeLimit)
	}
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("ENVIRONMENT", "Production")
	t.Setenv("WORKFLOW_LEASE", "90s")
	t.Setenv("REASONING_RPS", "0.5")
	t.Setenv("WORKFLOW_WORKERS", "not-a-number")

	cfg := Load()
	if !cfg.IsProduction() {
		t.Error("expected production")
	}
	if cfg.WorkflowLease != 90*time.Second {
		t.Errorf("WorkflowLease = %v, want 90s", cfg.WorkflowLease)
	}
	if cfg.ReasoningRPS != 0.5 {
		t.Errorf("ReasoningRPS = %v, want 0.5", cfg.ReasoningRPS)
	}
	if cfg.WorkflowWorkers != 4 {
		t.Errorf("invalid int should fall back to default, got %d", cfg.WorkflowWorkers)
	}
}
