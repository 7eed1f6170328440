package services

import (
	"context"
	"fmt"

	"autopilot/internal/allowlist"
	"autopilot/internal/models"
	"autopilot/internal/reasoning"
)

// Suggested action types produced by intent.predict
const (
	ActionDraftMessage   = "draft_message"
	ActionScheduleEvent  = "schedule_event"
	ActionCreateReminder = "create_reminder"
	ActionJournalNote    = "journal_note"
)

// ActionInput is what a handler sees when turning an intent into a draft
type ActionInput struct {
	Signal      *models.Signal
	Intent      *models.Intent
	UserContext *models.UserContext
}

// ActionHandler builds the draft for one kind of suggested action. A nil
// draft with a nil error means the action needs nothing from the user.
type ActionHandler func(ctx context.Context, in ActionInput) (*models.Draft, error)

// ActionHandlers maps suggested action types to handlers
type ActionHandlers map[string]ActionHandler

// NewActionHandlers returns the built-in dispatch table
func NewActionHandlers(registry *allowlist.Registry, backend reasoning.Backend) ActionHandlers {
	b := &draftBuilder{registry: registry, reasoning: backend}

	return ActionHandlers{
		ActionDraftMessage:   b.handler("message", "email.draft_reply", true),
		ActionScheduleEvent:  b.handler("event", "calendar.create_event", true),
		ActionCreateReminder: b.handler("reminder", "reminders.create", true),
		ActionJournalNote:    b.handler("journal", "journal.append", false),
		models.ActionTypeNone: func(context.Context, ActionInput) (*models.Draft, error) {
			return nil, nil
		},
	}
}

// Build dispatches on the intent's suggested action
func (h ActionHandlers) Build(ctx context.Context, in ActionInput) (*models.Draft, error) {
	action := in.Intent.SuggestedAction
	if action == nil || action.Type == "" {
		return nil, nil
	}
	handler, ok := h[action.Type]
	if !ok {
		return nil, fmt.Errorf("no handler for action type %q", action.Type)
	}
	return handler(ctx, in)
}

type draftBuilder struct {
	registry  *allowlist.Registry
	reasoning reasoning.Backend
}

// handler builds drafts of one type. When the intent carries no content and
// generate is set, draft.generate fills it in.
func (b *draftBuilder) handler(draftType, defaultTool string, generate bool) ActionHandler {
	return func(ctx context.Context, in ActionInput) (*models.Draft, error) {
		action := in.Intent.SuggestedAction

		draft := &models.Draft{
			SignalID:        in.Signal.ID,
			UserID:          in.Signal.UserID,
			DraftType:       draftType,
			Title:           action.Title,
			Content:         action.Content,
			ToolName:        action.ToolName,
			RequestedEffect: action.Effect,
			Confidence:      in.Intent.Confidence,
		}
		if draft.ToolName == "" {
			draft.ToolName = defaultTool
		}

		args := make(map[string]interface{}, len(action.Parameters))
		for k, v := range action.Parameters {
			args[k] = v
		}

		if generate && draft.Content == "" {
			gen, err := b.generate(ctx, in, draft.ToolName)
			if err != nil {
				return nil, err
			}
			if gen.DraftType != "" {
				draft.DraftType = gen.DraftType
			}
			if gen.Title != "" {
				draft.Title = gen.Title
			}
			draft.Content = gen.Content
			for k, v := range gen.Arguments {
				args[k] = v
			}
		}

		// Unknown tools keep no arguments: the gate rejects them anyway
		capability, ok := b.registry.Get(draft.ToolName)
		if !ok {
			return draft, nil
		}
		sanitized, err := capability.Input.Sanitize(args, in.Signal.UserID)
		if err != nil {
			return nil, fmt.Errorf("invalid arguments for %s: %w", draft.ToolName, err)
		}
		draft.Arguments = sanitized
		return draft, nil
	}
}

func (b *draftBuilder) generate(ctx context.Context, in ActionInput, toolName string) (*reasoning.DraftGeneration, error) {
	input := map[string]interface{}{
		"signal":       in.Signal,
		"intent":       in.Intent,
		"tool_name":    toolName,
		"user_context": in.UserContext,
	}
	if capability, ok := b.registry.Get(toolName); ok {
		input["tool_input"] = capability.Input
	}

	raw, err := b.reasoning.ExecutePrompt(ctx, reasoning.PromptDraftGenerate, input)
	if err != nil {
		return nil, &ReasoningError{PromptID: reasoning.PromptDraftGenerate, Cause: err}
	}
	gen, err := reasoning.Decode[reasoning.DraftGeneration](raw)
	if err != nil {
		return nil, &ReasoningError{PromptID: reasoning.PromptDraftGenerate, Cause: err}
	}
	return gen, nil
}
