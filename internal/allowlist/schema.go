package allowlist

import "fmt"

// Field is one argument of a capability's input
type Field struct {
	Name        string `json:"name"`
	Type        string `json:"type"` // "string", "number", "boolean", "object", "array"
	Required    bool   `json:"required"`
	Description string `json:"description,omitempty"`

	// ServerInjected fields identify a subject (user, recipient owner, ...).
	// They are always optional in the schema and filled in by the server; any
	// client-supplied value is discarded.
	ServerInjected bool `json:"server_injected,omitempty"`
}

// InputSchema lists the accepted arguments of a capability
type InputSchema struct {
	Fields []Field `json:"fields"`
}

// Sanitize returns a copy of args with server-injected fields overwritten by
// userID, unknown fields dropped, and required fields checked.
func (s InputSchema) Sanitize(args map[string]interface{}, userID string) (map[string]interface{}, error) {
	out := make(map[string]interface{}, len(s.Fields))

	for _, f := range s.Fields {
		if f.ServerInjected {
			out[f.Name] = userID
			continue
		}

		v, ok := args[f.Name]
		if !ok || v == nil {
			if f.Required {
				return nil, fmt.Errorf("missing required argument %q", f.Name)
			}
			continue
		}
		if !matchesType(f.Type, v) {
			return nil, fmt.Errorf("argument %q must be of type %s", f.Name, f.Type)
		}
		out[f.Name] = v
	}

	return out, nil
}

func matchesType(typ string, v interface{}) bool {
	switch typ {
	case "", "any":
		return true
	case "string":
		_, ok := v.(string)
		return ok
	case "number":
		switch v.(type) {
		case float64, float32, int, int32, int64:
			return true
		}
		return false
	case "boolean":
		_, ok := v.(bool)
		return ok
	case "object":
		_, ok := v.(map[string]interface{})
		return ok
	case "array":
		_, ok := v.([]interface{})
		return ok
	}
	return false
}
