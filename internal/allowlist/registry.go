// Package allowlist holds the static catalog of capabilities the assistant may
// invoke. The catalog is a security boundary: it is built once at startup and
// has no mutation API. Lookups for unknown names report "not found" and never
// fall back to a permissive default.
package allowlist

import (
	"fmt"
	"sort"
)

// Scope is a named permission bucket a capability requires
type Scope string

const (
	ScopeRead     Scope = "read"
	ScopePlan     Scope = "plan"
	ScopeSimulate Scope = "simulate"
	ScopePropose  Scope = "propose"
	ScopeExecute  Scope = "execute"
)

// Effect is the declared blast radius of a capability
type Effect string

const (
	EffectNone           Effect = "none"
	EffectReadOnly       Effect = "read_only"
	EffectEphemeral      Effect = "ephemeral"
	EffectDraft          Effect = "draft"
	EffectWritesRequired Effect = "writes_required"
)

var validScopes = map[Scope]bool{
	ScopeRead: true, ScopePlan: true, ScopeSimulate: true, ScopePropose: true, ScopeExecute: true,
}

// requiredScopes maps an intended effect to the scope a capability must hold
var requiredScopes = map[Effect]Scope{
	EffectNone:           ScopePlan,
	EffectReadOnly:       ScopeRead,
	EffectEphemeral:      ScopeSimulate,
	EffectDraft:          ScopePropose,
	EffectWritesRequired: ScopeExecute,
}

// IsValid reports whether e is a known effect class
func (e Effect) IsValid() bool {
	_, ok := requiredScopes[e]
	return ok
}

// RequiredScope returns the scope needed to carry out an effect
func RequiredScope(effect Effect) (Scope, bool) {
	s, ok := requiredScopes[effect]
	return s, ok
}

// Capability describes one allowlisted tool
type Capability struct {
	Name          string      `json:"name"`
	Description   string      `json:"description"`
	Scopes        []Scope     `json:"scopes"`
	Effect        Effect      `json:"effect"`
	ConfidenceMin *float64    `json:"confidence_min,omitempty"`
	Input         InputSchema `json:"input_schema"`
}

// HasScope reports whether the capability declares scope
func (c Capability) HasScope(scope Scope) bool {
	for _, s := range c.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

func (c Capability) clone() Capability {
	out := c
	out.Scopes = append([]Scope(nil), c.Scopes...)
	if c.ConfidenceMin != nil {
		v := *c.ConfidenceMin
		out.ConfidenceMin = &v
	}
	out.Input = InputSchema{Fields: append([]Field(nil), c.Input.Fields...)}
	return out
}

// Registry is an immutable name -> capability map
type Registry struct {
	entries map[string]Capability
	names   []string
}

// NewRegistry validates and freezes a set of capabilities
func NewRegistry(caps ...Capability) (*Registry, error) {
	r := &Registry{entries: make(map[string]Capability, len(caps))}

	for _, c := range caps {
		if c.Name == "" {
			return nil, fmt.Errorf("capability name is required")
		}
		if _, dup := r.entries[c.Name]; dup {
			return nil, fmt.Errorf("duplicate capability %q", c.Name)
		}
		if !c.Effect.IsValid() {
			return nil, fmt.Errorf("capability %q: unknown effect %q", c.Name, c.Effect)
		}
		if len(c.Scopes) == 0 {
			return nil, fmt.Errorf("capability %q: at least one scope is required", c.Name)
		}
		for _, s := range c.Scopes {
			if !validScopes[s] {
				return nil, fmt.Errorf("capability %q: unknown scope %q", c.Name, s)
			}
		}
		if c.ConfidenceMin != nil && (*c.ConfidenceMin < 0 || *c.ConfidenceMin > 1) {
			return nil, fmt.Errorf("capability %q: confidence_min %.2f outside [0,1]", c.Name, *c.ConfidenceMin)
		}
		for _, f := range c.Input.Fields {
			if f.ServerInjected && f.Required {
				return nil, fmt.Errorf("capability %q: server-injected field %q must be optional", c.Name, f.Name)
			}
		}

		r.entries[c.Name] = c.clone()
		r.names = append(r.names, c.Name)
	}

	sort.Strings(r.names)
	return r, nil
}

// IsAllowed reports whether name is in the catalog
func (r *Registry) IsAllowed(name string) bool {
	_, ok := r.entries[name]
	return ok
}

// Get returns a copy of the entry for name
func (r *Registry) Get(name string) (Capability, bool) {
	c, ok := r.entries[name]
	if !ok {
		return Capability{}, false
	}
	return c.clone(), true
}

// RequiresScope reports whether the named capability declares scope.
// Unknown names always return false.
func (r *Registry) RequiresScope(name string, scope Scope) bool {
	c, ok := r.entries[name]
	return ok && c.HasScope(scope)
}

// IsProposeOnly reports whether the capability can propose but never execute
func (r *Registry) IsProposeOnly(name string) bool {
	c, ok := r.entries[name]
	return ok && c.HasScope(ScopePropose) && !c.HasScope(ScopeExecute)
}

// Names returns the sorted capability names
func (r *Registry) Names() []string {
	return append([]string(nil), r.names...)
}

// List returns copies of every capability, sorted by name
func (r *Registry) List() []Capability {
	out := make([]Capability, 0, len(r.names))
	for _, n := range r.names {
		out = append(out, r.entries[n].clone())
	}
	return out
}

// Len returns the number of capabilities
func (r *Registry) Len() int {
	return len(r.entries)
}
