package allowlist

import (
	"testing"
)

func TestDefaultRegistry_CoversEveryEffect(t *testing.T) {
	r := DefaultRegistry()

	seen := map[Effect]bool{}
	for _, c := range r.List() {
		seen[c.Effect] = true
	}

	for _, e := range []Effect{EffectNone, EffectReadOnly, EffectEphemeral, EffectDraft, EffectWritesRequired} {
		if !seen[e] {
			t.Errorf("Expected built-in catalog to contain a %s capability", e)
		}
	}
}

func TestRegistry_UnknownNameIsNotFound(t *testing.T) {
	r := DefaultRegistry()

	for _, name := range []string{"", "*", "calendar.*", "CALENDAR.CREATE_EVENT", "shell.exec"} {
		if r.IsAllowed(name) {
			t.Errorf("Expected %q to be unknown", name)
		}
		if _, ok := r.Get(name); ok {
			t.Errorf("Expected Get(%q) to report not found", name)
		}
		if r.RequiresScope(name, ScopeRead) {
			t.Errorf("Expected RequiresScope(%q) to be false", name)
		}
		if r.IsProposeOnly(name) {
			t.Errorf("Expected IsProposeOnly(%q) to be false", name)
		}
	}
}

func TestRegistry_GetReturnsCopy(t *testing.T) {
	r := DefaultRegistry()

	c, ok := r.Get("calendar.create_event")
	if !ok {
		t.Fatal("Expected calendar.create_event to exist")
	}
	c.Scopes[0] = ScopeExecute
	*c.ConfidenceMin = 0
	c.Input.Fields[0].ServerInjected = false

	again, _ := r.Get("calendar.create_event")
	if again.Scopes[0] != ScopeRead {
		t.Errorf("Expected scopes to be unaffected by caller mutation, got %v", again.Scopes)
	}
	if *again.ConfidenceMin != 0.85 {
		t.Errorf("Expected confidence_min 0.85, got %v", *again.ConfidenceMin)
	}
	if !again.Input.Fields[0].ServerInjected {
		t.Error("Expected input schema to be unaffected by caller mutation")
	}
}

func TestRegistry_IsProposeOnly(t *testing.T) {
	r := DefaultRegistry()

	tests := []struct {
		name string
		want bool
	}{
		{"email.draft_reply", true},
		{"reminders.draft_followup", true},
		{"email.send", false},
		{"calendar.list_events", false},
		{"journal.append", false},
	}

	for _, tt := range tests {
		if got := r.IsProposeOnly(tt.name); got != tt.want {
			t.Errorf("IsProposeOnly(%s) = %v, expected %v", tt.name, got, tt.want)
		}
	}
}

func TestNewRegistry_Validation(t *testing.T) {
	bad := 1.5

	tests := []struct {
		name string
		caps []Capability
	}{
		{"empty name", []Capability{{Scopes: []Scope{ScopeRead}, Effect: EffectReadOnly}}},
		{"duplicate", []Capability{
			{Name: "a", Scopes: []Scope{ScopeRead}, Effect: EffectReadOnly},
			{Name: "a", Scopes: []Scope{ScopeRead}, Effect: EffectReadOnly},
		}},
		{"unknown effect", []Capability{{Name: "a", Scopes: []Scope{ScopeRead}, Effect: "destroy"}}},
		{"unknown scope", []Capability{{Name: "a", Scopes: []Scope{"admin"}, Effect: EffectReadOnly}}},
		{"no scopes", []Capability{{Name: "a", Effect: EffectReadOnly}}},
		{"confidence out of range", []Capability{{Name: "a", Scopes: []Scope{ScopeExecute}, Effect: EffectWritesRequired, ConfidenceMin: &bad}}},
		{"required injected field", []Capability{{
			Name: "a", Scopes: []Scope{ScopeRead}, Effect: EffectReadOnly,
			Input: InputSchema{Fields: []Field{{Name: "userId", Required: true, ServerInjected: true}}},
		}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewRegistry(tt.caps...); err == nil {
				t.Error("Expected error, got nil")
			}
		})
	}
}

func TestRequiredScope(t *testing.T) {
	tests := []struct {
		effect Effect
		scope  Scope
	}{
		{EffectNone, ScopePlan},
		{EffectReadOnly, ScopeRead},
		{EffectEphemeral, ScopeSimulate},
		{EffectDraft, ScopePropose},
		{EffectWritesRequired, ScopeExecute},
	}

	for _, tt := range tests {
		got, ok := RequiredScope(tt.effect)
		if !ok || got != tt.scope {
			t.Errorf("RequiredScope(%s) = %s, expected %s", tt.effect, got, tt.scope)
		}
	}

	if _, ok := RequiredScope("unknown"); ok {
		t.Error("Expected unknown effect to have no required scope")
	}
}

func TestInputSchema_Sanitize(t *testing.T) {
	r := DefaultRegistry()
	c, _ := r.Get("email.draft_reply")

	args := map[string]interface{}{
		"threadId":    "t-1",
		"body":        "Sounds good",
		"userId":      "someone-else",
		"recipientId": "attacker",
		"bcc":         "leak@example.com",
	}

	out, err := c.Input.Sanitize(args, "user-1")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	if out["userId"] != "user-1" {
		t.Errorf("Expected userId to be server-injected, got %v", out["userId"])
	}
	if out["recipientId"] != "user-1" {
		t.Errorf("Expected recipientId to be server-injected, got %v", out["recipientId"])
	}
	if _, ok := out["bcc"]; ok {
		t.Error("Expected unknown argument to be dropped")
	}
	if args["userId"] != "someone-else" {
		t.Error("Expected input map to be left untouched")
	}

	if _, err := c.Input.Sanitize(map[string]interface{}{"threadId": "t-1"}, "user-1"); err == nil {
		t.Error("Expected missing body to fail")
	}
	if _, err := c.Input.Sanitize(map[string]interface{}{"threadId": 7, "body": "x"}, "user-1"); err == nil {
		t.Error("Expected wrong type to fail")
	}
}
