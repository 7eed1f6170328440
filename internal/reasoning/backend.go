// Package reasoning talks to the model that turns signals into intents,
// intents into drafts, and outcomes into learnings. Callers treat it as an
// opaque function from (prompt id, input) to a JSON document.
package reasoning

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Prompt ids
const (
	PromptIntentPredict   = "intent.predict"
	PromptDraftGenerate   = "draft.generate"
	PromptLearningAnalyze = "learning.analyze"
)

// ErrDisabled is returned by the backend used when no provider is configured
var ErrDisabled = errors.New("reasoning backend is not configured")

// Backend executes a catalogued prompt against some input
type Backend interface {
	ExecutePrompt(ctx context.Context, promptID string, input interface{}) (json.RawMessage, error)
}

// BackendFunc adapts a function to Backend
type BackendFunc func(ctx context.Context, promptID string, input interface{}) (json.RawMessage, error)

func (f BackendFunc) ExecutePrompt(ctx context.Context, promptID string, input interface{}) (json.RawMessage, error) {
	return f(ctx, promptID, input)
}

// Disabled returns a backend that always fails with ErrDisabled
func Disabled() Backend {
	return BackendFunc(func(context.Context, string, interface{}) (json.RawMessage, error) {
		return nil, ErrDisabled
	})
}

// Decode unmarshals a backend result into T
func Decode[T any](raw json.RawMessage) (*T, error) {
	var out T
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("failed to decode reasoning result: %w", err)
	}
	return &out, nil
}

// stripMarkdownCodeBlock removes ```json ... ``` wrapping that some models add
// even when structured output is requested.
func stripMarkdownCodeBlock(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		if idx := strings.Index(s, "\n"); idx != -1 {
			s = s[idx+1:]
		}
		if idx := strings.LastIndex(s, "```"); idx != -1 {
			s = s[:idx]
		}
		s = strings.TrimSpace(s)
	}
	return s
}

// toJSON normalises model text into a JSON document
func toJSON(text string) (json.RawMessage, error) {
	text = stripMarkdownCodeBlock(text)
	if text == "" {
		return nil, fmt.Errorf("empty response from model")
	}
	if !json.Valid([]byte(text)) {
		return nil, fmt.Errorf("model returned invalid JSON")
	}
	return json.RawMessage(text), nil
}
