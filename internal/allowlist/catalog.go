package allowlist

func confidenceMin(v float64) *float64 {
	return &v
}

// subject is the server-injected identity field carried by every capability
var subject = Field{
	Name:           "userId",
	Type:           "string",
	Description:    "Owner of the action. Always set by the server.",
	ServerInjected: true,
}

// builtinCapabilities is the catalog shipped with the service
func builtinCapabilities() []Capability {
	return []Capability{
		{
			Name:        "assistant.plan_day",
			Description: "Outline a plan for the user's day without touching any system",
			Scopes:      []Scope{ScopePlan},
			Effect:      EffectNone,
			Input: InputSchema{Fields: []Field{
				subject,
				{Name: "date", Type: "string", Required: true},
			}},
		},
		{
			Name:        "calendar.list_events",
			Description: "Read events from the user's calendar",
			Scopes:      []Scope{ScopeRead},
			Effect:      EffectReadOnly,
			Input: InputSchema{Fields: []Field{
				subject,
				{Name: "from", Type: "string", Required: true},
				{Name: "to", Type: "string", Required: true},
			}},
		},
		{
			Name:        "calendar.simulate_reschedule",
			Description: "Compute what moving an event would conflict with, without saving",
			Scopes:      []Scope{ScopeRead, ScopeSimulate},
			Effect:      EffectEphemeral,
			Input: InputSchema{Fields: []Field{
				subject,
				{Name: "eventId", Type: "string", Required: true},
				{Name: "newStart", Type: "string", Required: true},
			}},
		},
		{
			Name:        "reminders.draft_followup",
			Description: "Draft a follow-up for a missed reminder for the user to review",
			Scopes:      []Scope{ScopeRead, ScopePropose},
			Effect:      EffectDraft,
			Input: InputSchema{Fields: []Field{
				subject,
				{Name: "eventId", Type: "string"},
				{Name: "message", Type: "string", Required: true},
			}},
		},
		{
			Name:        "email.draft_reply",
			Description: "Compose a reply to an email thread and leave it in drafts",
			Scopes:      []Scope{ScopeRead, ScopePropose},
			Effect:      EffectDraft,
			Input: InputSchema{Fields: []Field{
				subject,
				{Name: "threadId", Type: "string", Required: true},
				{Name: "body", Type: "string", Required: true},
				{Name: "recipientId", Type: "string", ServerInjected: true},
			}},
		},
		{
			Name:          "calendar.create_event",
			Description:   "Create an event on the user's calendar",
			Scopes:        []Scope{ScopeRead, ScopePropose, ScopeExecute},
			Effect:        EffectWritesRequired,
			ConfidenceMin: confidenceMin(0.85),
			Input: InputSchema{Fields: []Field{
				subject,
				{Name: "title", Type: "string", Required: true},
				{Name: "start", Type: "string", Required: true},
				{Name: "end", Type: "string", Required: true},
				{Name: "location", Type: "string"},
			}},
		},
		{
			Name:          "reminders.create",
			Description:   "Schedule a reminder for the user",
			Scopes:        []Scope{ScopePropose, ScopeExecute},
			Effect:        EffectWritesRequired,
			ConfidenceMin: confidenceMin(0.8),
			Input: InputSchema{Fields: []Field{
				subject,
				{Name: "text", Type: "string", Required: true},
				{Name: "remindAt", Type: "string", Required: true},
			}},
		},
		{
			Name:          "email.send",
			Description:   "Send an email on the user's behalf",
			Scopes:        []Scope{ScopeRead, ScopePropose, ScopeExecute},
			Effect:        EffectWritesRequired,
			ConfidenceMin: confidenceMin(0.95),
			Input: InputSchema{Fields: []Field{
				subject,
				{Name: "to", Type: "string", Required: true},
				{Name: "subject", Type: "string", Required: true},
				{Name: "body", Type: "string", Required: true},
			}},
		},
		{
			Name:        "journal.append",
			Description: "Append a line to the user's private assistant journal",
			Scopes:      []Scope{ScopeExecute},
			Effect:      EffectWritesRequired,
			Input: InputSchema{Fields: []Field{
				subject,
				{Name: "entry", Type: "string", Required: true},
			}},
		},
	}
}

// DefaultRegistry returns the built-in catalog. It panics if the catalog is
// malformed, which can only happen through a code change.
func DefaultRegistry() *Registry {
	r, err := NewRegistry(builtinCapabilities()...)
	if err != nil {
		panic("allowlist: invalid built-in catalog: " + err.Error())
	}
	return r
}
