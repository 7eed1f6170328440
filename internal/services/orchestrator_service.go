package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"autopilot/internal/autonomy"
	"autopilot/internal/logging"
	"autopilot/internal/models"
	"autopilot/internal/reasoning"
	"autopilot/internal/store"
	"autopilot/internal/workflow"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// WorkflowProcessSignal is the durable workflow that runs the synchronous path
const WorkflowProcessSignal = "process_signal"

// ProcessOptions selects how a signal is processed
type ProcessOptions struct {
	Durable bool
}

// ProcessResult is what processing a signal produced
type ProcessResult struct {
	Intent            *models.Intent     `json:"intent,omitempty"`
	Draft             *models.Draft      `json:"draft,omitempty"`
	Decision          *autonomy.Decision `json:"decision,omitempty"`
	ShouldAutoExecute bool               `json:"autoExecuted"`
	Errors            []string           `json:"errors"`
	Workflow          *workflow.Handle   `json:"workflow,omitempty"`
}

// processSignalArgs are the arguments of the process_signal workflow
type processSignalArgs struct {
	SignalID string `json:"signalId"`
	UserID   string `json:"userId"`
}

// OrchestratorService turns a signal into an intent and, optionally, a gated draft
type OrchestratorService struct {
	stores    *store.Stores
	reasoning reasoning.Backend
	gate      *autonomy.Gate
	actions   ActionHandlers
	contexts  *ContextBuilder
	engine    workflow.Engine
	taskQueue string
	events    *PubSubService
	metrics   *Metrics
}

// OrchestratorConfig wires the orchestrator. Engine, Events and Metrics are optional.
type OrchestratorConfig struct {
	Stores    *store.Stores
	Reasoning reasoning.Backend
	Gate      *autonomy.Gate
	Actions   ActionHandlers
	Contexts  *ContextBuilder
	Engine    workflow.Engine
	TaskQueue string
	Events    *PubSubService
	Metrics   *Metrics
}

// NewOrchestratorService creates a new orchestrator
func NewOrchestratorService(cfg OrchestratorConfig) *OrchestratorService {
	backend := cfg.Reasoning
	if backend == nil {
		backend = reasoning.Disabled()
	}
	return &OrchestratorService{
		stores:    cfg.Stores,
		reasoning: backend,
		gate:      cfg.Gate,
		actions:   cfg.Actions,
		contexts:  cfg.Contexts,
		engine:    cfg.Engine,
		taskQueue: cfg.TaskQueue,
		events:    cfg.Events,
		metrics:   cfg.Metrics,
	}
}

// RegisterWorkflows adds the orchestrator's workflows to reg
func (s *OrchestratorService) RegisterWorkflows(reg *workflow.Registry) {
	reg.Register(WorkflowProcessSignal, s.ProcessSignalWorkflow)
}

// ProcessSignalWorkflowID is the deterministic workflow id for a signal
func ProcessSignalWorkflowID(signalID primitive.ObjectID) string {
	return "process-signal-" + signalID.Hex()
}

// Process runs a signal through reasoning and the gate. With Durable set it
// starts (or finds) the signal's workflow instead, falling back to the
// synchronous path when the engine is unavailable.
func (s *OrchestratorService) Process(ctx context.Context, signal *models.Signal, userCtx *models.UserContext, opts ProcessOptions) (*ProcessResult, error) {
	if signal.Processed {
		return nil, ErrSignalAlreadyProcessed
	}

	result := &ProcessResult{Errors: []string{}}

	if opts.Durable {
		handle, err := s.startDurable(ctx, signal)
		if err == nil {
			result.Workflow = handle
			return result, nil
		}

		var unavailable *EngineUnavailableError
		if !errors.As(err, &unavailable) {
			return nil, err
		}
		log.Printf("⚠️ [ORCHESTRATOR] %v; processing signal %s synchronously", err, signal.ID.Hex())
		s.metrics.RecordDurableFallback()
		result.Errors = append(result.Errors, fmt.Sprintf("durable processing unavailable, processed synchronously: %v", unavailable.Cause))
	}

	if userCtx == nil {
		var ctxErrs []string
		userCtx, ctxErrs = s.contexts.Build(ctx, signal.UserID)
		result.Errors = append(result.Errors, ctxErrs...)
	}

	if err := s.processSync(ctx, signal, userCtx, result); err != nil {
		return nil, err
	}
	return result, nil
}

// startDurable starts the signal's workflow. An already-active workflow is
// not an error: its handle is returned.
func (s *OrchestratorService) startDurable(ctx context.Context, signal *models.Signal) (*workflow.Handle, error) {
	if s.engine == nil {
		return nil, &EngineUnavailableError{Cause: errors.New("no workflow engine configured")}
	}

	workflowID := ProcessSignalWorkflowID(signal.ID)

	// Recorded before starting so the stuck sweep can see it even if we crash
	if err := s.stores.Signals.SetWorkflow(ctx, signal.ID, workflowID); err != nil {
		return nil, &EngineUnavailableError{Cause: fmt.Errorf("failed to record workflow id: %w", err)}
	}

	handle, err := s.engine.Start(ctx, workflow.StartOptions{
		TaskQueue:  s.taskQueue,
		WorkflowID: workflowID,
		Workflow:   WorkflowProcessSignal,
		Args:       processSignalArgs{SignalID: signal.ID.Hex(), UserID: signal.UserID},
	})
	switch {
	case err == nil:
		log.Printf("🚀 [ORCHESTRATOR] Signal %s handed to workflow %s (run %s)", signal.ID.Hex(), handle.WorkflowID, handle.RunID)
	case errors.Is(err, workflow.ErrAlreadyStarted) && handle != nil:
		log.Printf("ℹ️ [ORCHESTRATOR] Workflow %s already active (run %s)", handle.WorkflowID, handle.RunID)
	default:
		return nil, &EngineUnavailableError{Cause: err}
	}

	signal.WorkflowID = workflowID
	signal.Status = models.SignalStatusProcessing
	return handle, nil
}

// ProcessSignalWorkflow is the body of the process_signal workflow
func (s *OrchestratorService) ProcessSignalWorkflow(ctx context.Context, raw json.RawMessage) error {
	var args processSignalArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return workflow.Permanent(fmt.Errorf("invalid workflow args: %w", err))
	}
	id, err := primitive.ObjectIDFromHex(args.SignalID)
	if err != nil {
		return workflow.Permanent(fmt.Errorf("invalid signal id %q: %w", args.SignalID, err))
	}

	logger := logging.WithWorkflow(logging.WithSignal(args.SignalID, args.UserID), ProcessSignalWorkflowID(id), "")

	signal, err := s.stores.Signals.Get(ctx, args.UserID, id)
	if err != nil {
		if isNotFound(err) {
			return workflow.Permanent(fmt.Errorf("signal %s not found", args.SignalID))
		}
		return fmt.Errorf("failed to load signal: %w", err)
	}
	if signal.Processed {
		logger.Info("signal already processed, nothing to do")
		return nil
	}

	userCtx, ctxErrs := s.contexts.Build(ctx, signal.UserID)
	result := &ProcessResult{Errors: ctxErrs}

	if err := s.processSync(ctx, signal, userCtx, result); err != nil {
		if errors.Is(err, ErrSignalAlreadyProcessed) {
			logger.Info("signal processed concurrently, dropping run")
			return nil
		}
		return err
	}

	logger.Info("signal processed",
		"auto_executed", result.ShouldAutoExecute,
		"has_draft", result.Draft != nil,
		"errors", len(result.Errors),
	)
	return nil
}

// processSync is the synchronous path. Only losing the processed race and
// failing to persist the signal's state are returned as errors; everything
// else lands in result.Errors.
func (s *OrchestratorService) processSync(ctx context.Context, signal *models.Signal, userCtx *models.UserContext, result *ProcessResult) error {
	start := time.Now()
	defer func() { s.metrics.RecordOrchestrationLatency(time.Since(start)) }()

	prediction, err := s.predictIntent(ctx, signal, userCtx)
	if err != nil {
		result.Errors = append(result.Errors, err.Error())
		if markErr := s.markProcessed(ctx, signal, models.SignalStatusFailed, err.Error()); markErr != nil {
			return markErr
		}
		return nil
	}

	intent := &models.Intent{
		SignalID:        signal.ID,
		UserID:          signal.UserID,
		PredictedNeed:   prediction.PredictedNeed,
		Confidence:      models.ClampConfidence(prediction.Confidence),
		Reasoning:       prediction.Reasoning,
		SuggestedAction: prediction.SuggestedAction,
	}

	draft, err := s.actions.Build(ctx, ActionInput{Signal: signal, Intent: intent, UserContext: userCtx})
	if err != nil {
		log.Printf("⚠️ [ORCHESTRATOR] No draft for signal %s: %v", signal.ID.Hex(), err)
		result.Errors = append(result.Errors, err.Error())
		draft = nil
	}

	if err := s.markProcessed(ctx, signal, models.SignalStatusProcessed, ""); err != nil {
		return err
	}

	if err := s.stores.Intents.Create(ctx, intent); err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("failed to persist intent: %v", err))
		return nil
	}
	result.Intent = intent

	if draft == nil {
		log.Printf("✅ [ORCHESTRATOR] Signal %s processed: %q (no draft)", signal.ID.Hex(), intent.PredictedNeed)
		return nil
	}

	draft.IntentID = intent.ID
	decision := s.gate.Evaluate(ctx, autonomy.Request{Draft: draft, Intent: intent, ToolName: draft.ToolName})
	draft.Status = decision.Status
	draft.GateReason = decision.Reason
	result.Decision = &decision

	if err := s.stores.Drafts.Create(ctx, draft); err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("failed to persist draft: %v", err))
		return nil
	}
	result.Draft = draft
	result.ShouldAutoExecute = decision.AutoExecute()

	if s.events != nil {
		s.events.PublishDraft(ctx, EventDraftCreated, draft)
	}

	log.Printf("✅ [ORCHESTRATOR] Signal %s processed: draft %s via %s -> %s", signal.ID.Hex(), draft.ID.Hex(), draft.ToolName, draft.Status)
	return nil
}

func (s *OrchestratorService) predictIntent(ctx context.Context, signal *models.Signal, userCtx *models.UserContext) (*reasoning.IntentPrediction, error) {
	raw, err := s.reasoning.ExecutePrompt(ctx, reasoning.PromptIntentPredict, map[string]interface{}{
		"signal":       signal,
		"user_context": userCtx,
	})
	if err != nil {
		return nil, &ReasoningError{PromptID: reasoning.PromptIntentPredict, Cause: err}
	}
	prediction, err := reasoning.Decode[reasoning.IntentPrediction](raw)
	if err != nil {
		return nil, &ReasoningError{PromptID: reasoning.PromptIntentPredict, Cause: err}
	}
	return prediction, nil
}

// markProcessed flips the signal's processed flag. Losing the race means
// another path owns this signal.
func (s *OrchestratorService) markProcessed(ctx context.Context, signal *models.Signal, status models.SignalStatus, errMsg string) error {
	err := s.stores.Signals.MarkProcessed(ctx, signal.ID, status, errMsg)
	if errors.Is(err, store.ErrConflict) {
		return ErrSignalAlreadyProcessed
	}
	if err != nil {
		return fmt.Errorf("failed to mark signal processed: %w", err)
	}

	now := time.Now()
	signal.Processed = true
	signal.Status = status
	signal.Error = errMsg
	signal.ProcessedAt = &now
	return nil
}
