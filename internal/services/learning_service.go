package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"autopilot/internal/crypto"
	"autopilot/internal/models"
	"autopilot/internal/reasoning"
	"autopilot/internal/store"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// strategyUpdateAttempts bounds optimistic-concurrency retries per update
const strategyUpdateAttempts = 3

// RecordOutcomeRequest reports what happened after a draft
type RecordOutcomeRequest struct {
	DraftID       string `json:"draftId"`
	OutcomeType   string `json:"outcomeType"`
	OutcomeSignal string `json:"outcomeSignal,omitempty"`
	UserRating    *int   `json:"userRating,omitempty"`
	UserNotes     string `json:"userNotes,omitempty"`
	// TriggerLearning defaults to true
	TriggerLearning *bool `json:"triggerLearning,omitempty"`
}

// LearningSummary describes what a learning pass changed
type LearningSummary struct {
	StrategiesUpdated   int      `json:"strategiesUpdated"`
	PreferencesInferred int      `json:"preferencesInferred"`
	KeyLearnings        []string `json:"keyLearnings"`
}

// RecordOutcomeResult is the stored outcome and, when learning ran and
// succeeded, its summary
type RecordOutcomeResult struct {
	Outcome  *models.Outcome  `json:"outcome"`
	Learning *LearningSummary `json:"learning"`
}

// LearningService records outcomes and updates strategies and preferences
type LearningService struct {
	stores        *store.Stores
	reasoning     reasoning.Backend
	locker        UserLocker
	encryption    *crypto.EncryptionService
	metrics       *Metrics
	strategyLimit int
}

// NewLearningService creates a new learning service. encryption may be nil
// (notes stored in clear); locker nil means an in-process lock.
func NewLearningService(stores *store.Stores, backend reasoning.Backend, locker UserLocker, encryption *crypto.EncryptionService, metrics *Metrics, strategyLimit int) *LearningService {
	if backend == nil {
		backend = reasoning.Disabled()
	}
	if locker == nil {
		locker = NewLocalUserLocker()
	}
	if strategyLimit <= 0 {
		strategyLimit = 20
	}
	return &LearningService{
		stores:        stores,
		reasoning:     backend,
		locker:        locker,
		encryption:    encryption,
		metrics:       metrics,
		strategyLimit: strategyLimit,
	}
}

// RecordOutcome stores an outcome for one of the user's drafts and, unless
// disabled, learns from it. Learning failures never fail the call.
func (s *LearningService) RecordOutcome(ctx context.Context, userID string, req RecordOutcomeRequest) (*RecordOutcomeResult, error) {
	if strings.TrimSpace(req.DraftID) == "" {
		return nil, invalid("draftId", "is required")
	}
	draftID, err := primitive.ObjectIDFromHex(req.DraftID)
	if err != nil {
		return nil, invalid("draftId", "is not a valid draft id")
	}
	outcomeType := models.OutcomeType(req.OutcomeType)
	if !outcomeType.IsValid() {
		return nil, invalid("outcomeType", "must be one of success, partial, failure")
	}
	if req.UserRating != nil && (*req.UserRating < 1 || *req.UserRating > 5) {
		return nil, invalid("userRating", "must be between 1 and 5")
	}

	draft, err := s.stores.Drafts.Get(ctx, draftID)
	if err != nil {
		if isNotFound(err) {
			return nil, invalid("draftId", "draft not found")
		}
		return nil, fmt.Errorf("failed to load draft: %w", err)
	}
	if draft.UserID != userID {
		return nil, invalid("draftId", "draft not found")
	}

	outcome := &models.Outcome{
		DraftID:       draft.ID,
		UserID:        draft.UserID,
		OutcomeType:   outcomeType,
		OutcomeSignal: req.OutcomeSignal,
		UserRating:    req.UserRating,
		UserNotes:     req.UserNotes,
	}

	stored := *outcome
	if s.encryption != nil && req.UserNotes != "" {
		ct, err := s.encryption.EncryptString(userID, req.UserNotes)
		if err != nil {
			return nil, fmt.Errorf("failed to encrypt notes: %w", err)
		}
		stored.UserNotes = ct
		stored.NotesEncrypted = true
	}
	if err := s.stores.Outcomes.Create(ctx, &stored); err != nil {
		return nil, fmt.Errorf("failed to persist outcome: %w", err)
	}
	outcome.ID = stored.ID
	outcome.CreatedAt = stored.CreatedAt
	s.metrics.RecordOutcome(string(outcomeType))

	log.Printf("📝 [LEARNING] Outcome %s recorded for draft %s (%s)", outcome.ID.Hex(), draft.ID.Hex(), outcomeType)

	result := &RecordOutcomeResult{Outcome: outcome}
	if req.TriggerLearning != nil && !*req.TriggerLearning {
		return result, nil
	}

	summary, err := s.learn(ctx, draft, outcome)
	if err != nil {
		var lerr *LearningError
		stage := "unknown"
		if errors.As(err, &lerr) {
			stage = lerr.Stage
		}
		s.metrics.RecordLearningFailure(stage)
		log.Printf("⚠️ [LEARNING] Learning from outcome %s failed: %v", outcome.ID.Hex(), err)
		return result, nil
	}
	result.Learning = summary
	return result, nil
}

// ListOutcomes lists the user's outcomes, newest first, with notes decrypted
func (s *LearningService) ListOutcomes(ctx context.Context, userID string, outcomeType string, limit, offset int) ([]models.Outcome, int64, error) {
	if outcomeType != "" && !models.OutcomeType(outcomeType).IsValid() {
		return nil, 0, invalid("outcomeType", "must be one of success, partial, failure")
	}

	outcomes, total, err := s.stores.Outcomes.List(ctx, store.OutcomeFilter{
		UserID:      userID,
		OutcomeType: models.OutcomeType(outcomeType),
		Limit:       limit,
		Offset:      offset,
	})
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list outcomes: %w", err)
	}

	for i := range outcomes {
		s.decryptNotes(&outcomes[i])
	}
	return outcomes, total, nil
}

func (s *LearningService) decryptNotes(o *models.Outcome) {
	if !o.NotesEncrypted {
		return
	}
	if s.encryption == nil {
		o.UserNotes = ""
		return
	}
	pt, err := s.encryption.DecryptString(o.UserID, o.UserNotes)
	if err != nil {
		log.Printf("⚠️ [LEARNING] Failed to decrypt notes of outcome %s: %v", o.ID.Hex(), err)
		o.UserNotes = ""
		return
	}
	o.UserNotes = pt
	o.NotesEncrypted = false
}

// learn runs one learning pass, serialised per user
func (s *LearningService) learn(ctx context.Context, draft *models.Draft, outcome *models.Outcome) (*LearningSummary, error) {
	unlock, err := s.locker.Lock(ctx, outcome.UserID)
	if err != nil {
		return nil, &LearningError{Stage: "lock", Cause: err}
	}
	defer unlock()

	strategies, err := s.stores.Strategies.ListActive(ctx, outcome.UserID, s.strategyLimit)
	if err != nil {
		return nil, &LearningError{Stage: "load_strategies", Cause: err}
	}

	raw, err := s.reasoning.ExecutePrompt(ctx, reasoning.PromptLearningAnalyze, map[string]interface{}{
		"draft":   draft,
		"outcome": outcome,
		"feedback": map[string]interface{}{
			"outcome_type":   outcome.OutcomeType,
			"outcome_signal": outcome.OutcomeSignal,
			"user_rating":    outcome.UserRating,
			"user_notes":     outcome.UserNotes,
		},
		"strategies": strategies,
	})
	if err != nil {
		return nil, &LearningError{Stage: "analyze", Cause: &ReasoningError{PromptID: reasoning.PromptLearningAnalyze, Cause: err}}
	}
	analysis, err := reasoning.Decode[reasoning.LearningAnalysis](raw)
	if err != nil {
		return nil, &LearningError{Stage: "analyze", Cause: err}
	}

	summary := &LearningSummary{KeyLearnings: analysis.KeyLearnings}
	if summary.KeyLearnings == nil {
		summary.KeyLearnings = []string{}
	}

	for _, update := range analysis.StrategyUpdates {
		if err := s.applyStrategyUpdate(ctx, outcome, update); err != nil {
			log.Printf("⚠️ [LEARNING] Skipping strategy update (%s %s): %v", update.Action, update.StrategyID, err)
			continue
		}
		summary.StrategiesUpdated++
	}

	for _, inf := range analysis.PreferenceInferences {
		if strings.TrimSpace(inf.PreferenceType) == "" {
			continue
		}
		if _, err := s.stores.Preferences.Upsert(ctx, outcome.UserID, inf.PreferenceType, inf.Value, models.ClampConfidence(inf.Confidence)); err != nil {
			log.Printf("⚠️ [LEARNING] Failed to store preference %q: %v", inf.PreferenceType, err)
			continue
		}
		summary.PreferencesInferred++
	}

	log.Printf("🧠 [LEARNING] User %s: %d strategies updated, %d preferences inferred", outcome.UserID, summary.StrategiesUpdated, summary.PreferencesInferred)
	return summary, nil
}

func (s *LearningService) applyStrategyUpdate(ctx context.Context, outcome *models.Outcome, update reasoning.StrategyUpdate) error {
	switch update.Action {
	case reasoning.StrategyActionCreate:
		if strings.TrimSpace(update.StrategyType) == "" {
			return errors.New("strategy_type is required to create a strategy")
		}
		strategy := &models.Strategy{
			UserID:       outcome.UserID,
			StrategyType: update.StrategyType,
			Pattern:      update.Pattern,
			Confidence:   models.ClampConfidence(models.StrategyBaseConfidence + update.ConfidenceDelta),
			Active:       true,
			LearnedFrom:  []primitive.ObjectID{outcome.ID},
		}
		if err := s.stores.Strategies.Create(ctx, strategy); err != nil {
			return fmt.Errorf("failed to create strategy: %w", err)
		}
		return nil

	case reasoning.StrategyActionUpdate:
		id, err := primitive.ObjectIDFromHex(update.StrategyID)
		if err != nil {
			return fmt.Errorf("invalid strategy id %q", update.StrategyID)
		}

		for attempt := 0; attempt < strategyUpdateAttempts; attempt++ {
			strategy, err := s.stores.Strategies.Get(ctx, outcome.UserID, id)
			if err != nil {
				return fmt.Errorf("failed to load strategy: %w", err)
			}
			strategy.ApplyOutcome(outcome.ID, outcome.OutcomeType, update.ConfidenceDelta)

			err = s.stores.Strategies.Update(ctx, strategy)
			if err == nil {
				return nil
			}
			if !errors.Is(err, store.ErrConflict) {
				return fmt.Errorf("failed to update strategy: %w", err)
			}
		}
		return fmt.Errorf("strategy %s kept changing, gave up after %d attempts", update.StrategyID, strategyUpdateAttempts)
	}

	return fmt.Errorf("unknown strategy action %q", update.Action)
}
