package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"autopilot/internal/autonomy"
	"autopilot/internal/models"
	"autopilot/internal/reasoning"
	"autopilot/internal/store"
	"autopilot/internal/workflow"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var reminderPayload = map[string]interface{}{
	"title":     "Dentist",
	"missed_at": "2026-10-18T09:00:00Z",
}

func TestIngest_Validation(t *testing.T) {
	env := newTestEnv(t, newFakeReasoning(nil), envOptions{})
	ctx := context.Background()

	tests := []struct {
		name  string
		req   IngestRequest
		field string
	}{
		{"missing source", IngestRequest{SignalType: "reminder_missed", Payload: reminderPayload}, "source"},
		{"blank source", IngestRequest{Source: "  ", SignalType: "reminder_missed", Payload: reminderPayload}, "source"},
		{"missing type", IngestRequest{Source: "calendar", Payload: reminderPayload}, "signalType"},
		{"missing payload", IngestRequest{Source: "calendar", SignalType: "reminder_missed"}, "payload"},
		{"array payload", IngestRequest{Source: "calendar", SignalType: "reminder_missed", Payload: []interface{}{"a"}}, "payload"},
		{"string payload", IngestRequest{Source: "calendar", SignalType: "reminder_missed", Payload: "dentist"}, "payload"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.intake.Ingest(ctx, "user-1", tt.req)
			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.field, verr.Field)
		})
	}

	_, total, err := env.stores.Signals.List(ctx, store.SignalFilter{UserID: "user-1"})
	require.NoError(t, err)
	assert.Zero(t, total, "invalid signals must not be stored")
}

func TestIngest_WithoutProcessing(t *testing.T) {
	backend := newFakeReasoning(nil)
	env := newTestEnv(t, backend, envOptions{})

	res, err := env.intake.Ingest(context.Background(), "user-1", IngestRequest{
		Source: "calendar", SignalType: "reminder_missed", Payload: reminderPayload, Process: boolPtr(false),
	})
	require.NoError(t, err)
	assert.Nil(t, res.Result)
	assert.False(t, res.Signal.Processed)
	assert.Empty(t, backend.calls(reasoning.PromptIntentPredict))
}

func TestIngest_MissedReminderDraftWaitsForReview(t *testing.T) {
	backend := newFakeReasoning(map[string]interface{}{
		reasoning.PromptIntentPredict: intentResponse(0.99, map[string]interface{}{
			"type":       "draft_message",
			"tool_name":  "reminders.draft_followup",
			"title":      "Reschedule dentist",
			"content":    "You missed your dentist appointment. Want me to find a new slot?",
			"parameters": map[string]interface{}{"message": "Reschedule dentist"},
		}),
	})
	env := newTestEnv(t, backend, envOptions{})
	ctx := context.Background()

	res, err := env.intake.Ingest(ctx, "user-1", IngestRequest{Source: "calendar", SignalType: "reminder_missed", Payload: reminderPayload})
	require.NoError(t, err)
	require.NotNil(t, res.Result)
	require.NotNil(t, res.Result.Draft)

	assert.Equal(t, models.DraftStatusPendingReview, res.Result.Draft.Status)
	assert.False(t, res.Result.ShouldAutoExecute)
	assert.Empty(t, res.Result.Errors)
	assert.True(t, res.Signal.Processed)
	assert.Equal(t, models.SignalStatusProcessed, res.Signal.Status)

	intent, err := env.stores.Intents.GetBySignal(ctx, res.Signal.ID)
	require.NoError(t, err)
	assert.Equal(t, intent.ID, res.Result.Draft.IntentID)
	assert.Equal(t, 0.99, intent.Confidence)

	stored, err := env.stores.Drafts.Get(ctx, res.Result.Draft.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DraftStatusPendingReview, stored.Status)
	assert.Equal(t, "user-1", stored.Arguments["userId"])

	// reasoning saw the user context
	calls := backend.calls(reasoning.PromptIntentPredict)
	require.Len(t, calls, 1)
	input := calls[0].(map[string]interface{})
	assert.NotNil(t, input["user_context"])
}

func TestProcess_WritesRequiredThreshold(t *testing.T) {
	tests := []struct {
		name       string
		confidence float64
		wantStatus models.DraftStatus
		wantReason string
		wantAuto   bool
	}{
		{"below threshold", 0.6, models.DraftStatusPendingReview, autonomy.ReasonBelowThreshold, false},
		{"above threshold", 0.9, models.DraftStatusAutoExecuted, autonomy.ReasonAutoExecute, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			backend := newFakeReasoning(map[string]interface{}{
				reasoning.PromptIntentPredict: intentResponse(tt.confidence, map[string]interface{}{
					"type":      "schedule_event",
					"tool_name": "calendar.create_event",
					"title":     "Team sync",
					"content":   "Weekly team sync",
					"parameters": map[string]interface{}{
						"title":  "Team sync",
						"start":  "2026-10-19T10:00:00Z",
						"end":    "2026-10-19T10:30:00Z",
						"userId": "someone-else",
					},
				}),
			})
			env := newTestEnv(t, backend, envOptions{})

			res, err := env.intake.Ingest(context.Background(), "user-1", IngestRequest{Source: "calendar", SignalType: "meeting_request", Payload: map[string]interface{}{"from": "boss"}})
			require.NoError(t, err)
			require.NotNil(t, res.Result.Draft)

			assert.Equal(t, tt.wantStatus, res.Result.Draft.Status)
			assert.Equal(t, tt.wantReason, res.Result.Draft.GateReason)
			assert.Equal(t, tt.wantAuto, res.Result.ShouldAutoExecute)
			assert.Equal(t, "user-1", res.Result.Draft.Arguments["userId"], "identity fields are server-injected")

			assert.Equal(t, 1.0, testutil.ToFloat64(env.metrics.GateDecisions.WithLabelValues(string(tt.wantStatus), string(res.Result.Decision.Code))))
		})
	}
}

func TestProcess_UnknownToolRejected(t *testing.T) {
	backend := newFakeReasoning(map[string]interface{}{
		reasoning.PromptIntentPredict: intentResponse(1.0, map[string]interface{}{
			"type":      "draft_message",
			"tool_name": "shell.exec",
			"content":   "rm -rf /",
		}),
	})
	env := newTestEnv(t, backend, envOptions{})

	res, err := env.intake.Ingest(context.Background(), "user-1", IngestRequest{Source: "email", SignalType: "inbound", Payload: map[string]interface{}{}})
	require.NoError(t, err)
	require.NotNil(t, res.Result.Draft)

	assert.Equal(t, models.DraftStatusRejected, res.Result.Draft.Status)
	assert.Equal(t, autonomy.ReasonUnknownCapability, res.Result.Draft.GateReason)
	assert.False(t, res.Result.ShouldAutoExecute)
	assert.Nil(t, res.Result.Draft.Arguments)
}

func TestProcess_NoActionMeansNoDraft(t *testing.T) {
	backend := newFakeReasoning(map[string]interface{}{
		reasoning.PromptIntentPredict: intentResponse(0.7, map[string]interface{}{"type": "none"}),
	})
	env := newTestEnv(t, backend, envOptions{})

	res, err := env.intake.Ingest(context.Background(), "user-1", IngestRequest{Source: "calendar", SignalType: "reminder_missed", Payload: reminderPayload})
	require.NoError(t, err)
	assert.NotNil(t, res.Result.Intent)
	assert.Nil(t, res.Result.Draft)
	assert.True(t, res.Signal.Processed)
}

func TestProcess_GeneratesMissingContent(t *testing.T) {
	backend := newFakeReasoning(map[string]interface{}{
		reasoning.PromptIntentPredict: intentResponse(0.95, map[string]interface{}{
			"type":      "create_reminder",
			"tool_name": "reminders.create",
		}),
		reasoning.PromptDraftGenerate: map[string]interface{}{
			"draft_type": "reminder",
			"title":      "Call the dentist",
			"content":    "Reminder to call the dentist tomorrow at 9",
			"arguments":  map[string]interface{}{"text": "Call the dentist", "remindAt": "2026-10-19T09:00:00Z"},
		},
	})
	env := newTestEnv(t, backend, envOptions{})

	res, err := env.intake.Ingest(context.Background(), "user-1", IngestRequest{Source: "calendar", SignalType: "reminder_missed", Payload: reminderPayload})
	require.NoError(t, err)
	require.NotNil(t, res.Result.Draft)

	assert.Equal(t, "Call the dentist", res.Result.Draft.Title)
	assert.Equal(t, "Call the dentist", res.Result.Draft.Arguments["text"])
	assert.Equal(t, models.DraftStatusAutoExecuted, res.Result.Draft.Status)
	assert.Len(t, backend.calls(reasoning.PromptDraftGenerate), 1)
}

func TestProcess_ReasoningFailureIsReported(t *testing.T) {
	backend := newFakeReasoning(map[string]interface{}{
		reasoning.PromptIntentPredict: errors.New("model overloaded"),
	})
	env := newTestEnv(t, backend, envOptions{})
	ctx := context.Background()

	res, err := env.intake.Ingest(ctx, "user-1", IngestRequest{Source: "calendar", SignalType: "reminder_missed", Payload: reminderPayload})
	require.NoError(t, err)
	require.NotEmpty(t, res.Result.Errors)
	assert.Contains(t, res.Result.Errors[0], "model overloaded")
	assert.Nil(t, res.Result.Intent)

	stored, err := env.stores.Signals.Get(ctx, "user-1", res.Signal.ID)
	require.NoError(t, err)
	assert.True(t, stored.Processed)
	assert.Equal(t, models.SignalStatusFailed, stored.Status)
	assert.Contains(t, stored.Error, "model overloaded")
}

func TestProcess_AlreadyProcessed(t *testing.T) {
	backend := newFakeReasoning(map[string]interface{}{
		reasoning.PromptIntentPredict: intentResponse(0.5, nil),
	})
	env := newTestEnv(t, backend, envOptions{})
	ctx := context.Background()

	res, err := env.intake.Ingest(ctx, "user-1", IngestRequest{Source: "calendar", SignalType: "reminder_missed", Payload: reminderPayload})
	require.NoError(t, err)

	_, err = env.orchestrator.Process(ctx, res.Signal, nil, ProcessOptions{})
	assert.ErrorIs(t, err, ErrSignalAlreadyProcessed)

	// A stale copy loses the compare-and-set instead
	stale := *res.Signal
	stale.Processed = false
	_, err = env.orchestrator.Process(ctx, &stale, nil, ProcessOptions{})
	assert.ErrorIs(t, err, ErrSignalAlreadyProcessed)
}

func TestProcess_DurableFallsBackWithoutEngine(t *testing.T) {
	backend := newFakeReasoning(map[string]interface{}{
		reasoning.PromptIntentPredict: intentResponse(0.5, nil),
	})
	env := newTestEnv(t, backend, envOptions{})

	res, err := env.intake.Ingest(context.Background(), "user-1", IngestRequest{
		Source: "calendar", SignalType: "reminder_missed", Payload: reminderPayload, Durable: true,
	})
	require.NoError(t, err)
	assert.Nil(t, res.Result.Workflow)
	assert.NotNil(t, res.Result.Intent)
	require.NotEmpty(t, res.Result.Errors)
	assert.Contains(t, res.Result.Errors[0], "processed synchronously")
	assert.Equal(t, 1.0, testutil.ToFloat64(env.metrics.DurableFallbacks))
}

func TestProcess_DurableFallsBackWhenSubmissionFails(t *testing.T) {
	tests := []struct {
		name      string
		engine    *stubEngine
		wantCause string
	}{
		{"engine unreachable", &stubEngine{err: workflow.Transient(errors.New("dial tcp: connection refused"))}, "connection refused"},
		{"engine draining", &stubEngine{err: workflow.ErrDraining}, "shutting down"},
		{"already started without a handle", &stubEngine{err: workflow.ErrAlreadyStarted}, "already started"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			backend := newFakeReasoning(map[string]interface{}{
				reasoning.PromptIntentPredict: intentResponse(0.5, nil),
			})
			env := newTestEnv(t, backend, envOptions{engine: tt.engine})
			ctx := context.Background()

			res, err := env.intake.Ingest(ctx, "user-1", IngestRequest{
				Source: "calendar", SignalType: "reminder_missed", Payload: reminderPayload, Durable: true,
			})
			require.NoError(t, err)
			assert.Equal(t, 1, tt.engine.starts)
			assert.Nil(t, res.Result.Workflow)
			assert.NotNil(t, res.Result.Intent)
			require.NotEmpty(t, res.Result.Errors)
			assert.Contains(t, res.Result.Errors[0], "processed synchronously")
			assert.Contains(t, res.Result.Errors[0], tt.wantCause)
			assert.Equal(t, 1.0, testutil.ToFloat64(env.metrics.DurableFallbacks))

			stored, err := env.stores.Signals.Get(ctx, "user-1", res.Signal.ID)
			require.NoError(t, err)
			assert.True(t, stored.Processed)
			assert.Equal(t, models.SignalStatusProcessed, stored.Status)
		})
	}
}

func TestProcess_DurableAlreadyActiveReturnsExistingRun(t *testing.T) {
	backend := newFakeReasoning(map[string]interface{}{
		reasoning.PromptIntentPredict: intentResponse(0.5, nil),
	})
	existing := &workflow.Handle{WorkflowID: "process-signal-x", RunID: "run-1", Status: workflow.StatusRunning}
	env := newTestEnv(t, backend, envOptions{engine: &stubEngine{handle: existing, err: workflow.ErrAlreadyStarted}})

	res, err := env.intake.Ingest(context.Background(), "user-1", IngestRequest{
		Source: "calendar", SignalType: "reminder_missed", Payload: reminderPayload, Durable: true,
	})
	require.NoError(t, err)
	assert.Equal(t, existing, res.Result.Workflow)
	assert.Empty(t, res.Result.Errors)
	assert.Equal(t, models.SignalStatusProcessing, res.Signal.Status)
	assert.Empty(t, backend.calls(reasoning.PromptIntentPredict))
	assert.Zero(t, testutil.ToFloat64(env.metrics.DurableFallbacks))
}

func TestProcess_DurableStartsOneWorkflowPerSignal(t *testing.T) {
	release := make(chan struct{})
	backend := newFakeReasoning(map[string]interface{}{
		reasoning.PromptIntentPredict: intentResponse(0.5, nil),
	})
	backend.hook = func(promptID string) {
		if promptID == reasoning.PromptIntentPredict {
			<-release
		}
	}
	env := newTestEnv(t, backend, envOptions{durable: true})
	ctx := context.Background()

	res, err := env.intake.Ingest(ctx, "user-1", IngestRequest{
		Source: "calendar", SignalType: "reminder_missed", Payload: reminderPayload, Durable: true,
	})
	require.NoError(t, err)
	require.NotNil(t, res.Result.Workflow)
	assert.Equal(t, ProcessSignalWorkflowID(res.Signal.ID), res.Result.Workflow.WorkflowID)
	assert.Equal(t, models.SignalStatusProcessing, res.Signal.Status)

	again, err := env.orchestrator.Process(ctx, res.Signal, nil, ProcessOptions{Durable: true})
	require.NoError(t, err)
	require.NotNil(t, again.Workflow)
	assert.Equal(t, res.Result.Workflow.RunID, again.Workflow.RunID)

	close(release)

	require.Eventually(t, func() bool {
		s, err := env.stores.Signals.Get(ctx, "user-1", res.Signal.ID)
		return err == nil && s.Processed
	}, 2*time.Second, 10*time.Millisecond)

	assert.Len(t, backend.calls(reasoning.PromptIntentPredict), 1)
	intent, err := env.stores.Intents.GetBySignal(ctx, res.Signal.ID)
	require.NoError(t, err)
	assert.Equal(t, "user-1", intent.UserID)
}

func TestBuildUserContext_DegradesOnLookupFailure(t *testing.T) {
	env := newTestEnv(t, newFakeReasoning(nil), envOptions{})
	ctx := context.Background()

	require.NoError(t, env.stores.Strategies.Create(ctx, &models.Strategy{UserID: "user-1", StrategyType: "timing", Confidence: 0.7, Active: true}))
	env.stores.Goals = failingGoals{}

	uc, errs := NewContextBuilder(env.stores, 0, 0).Build(ctx, "user-1")
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0], "goals unavailable")
	assert.Empty(t, uc.Goals)
	assert.NotNil(t, uc.Goals)
	assert.Len(t, uc.Strategies, 1)
	assert.NotNil(t, uc.Preferences)
}
