package reasoning

import "autopilot/internal/models"

// IntentPrediction is the result of intent.predict
type IntentPrediction struct {
	PredictedNeed   string                  `json:"predicted_need"`
	Confidence      float64                 `json:"confidence"`
	Reasoning       string                  `json:"reasoning"`
	SuggestedAction *models.SuggestedAction `json:"suggested_action,omitempty"`
}

// DraftGeneration is the result of draft.generate
type DraftGeneration struct {
	DraftType string                 `json:"draft_type"`
	Title     string                 `json:"title"`
	Content   string                 `json:"content"`
	Arguments map[string]interface{} `json:"arguments,omitempty"`
}

// StrategyUpdate is one entry of learning.analyze strategy_updates
type StrategyUpdate struct {
	Action          string  `json:"action"` // "create" or "update"
	StrategyID      string  `json:"strategy_id,omitempty"`
	StrategyType    string  `json:"strategy_type,omitempty"`
	Pattern         string  `json:"pattern,omitempty"`
	ConfidenceDelta float64 `json:"confidence_delta"`
}

// PreferenceInference is one entry of learning.analyze preference_inferences
type PreferenceInference struct {
	PreferenceType string      `json:"preference_type"`
	Value          interface{} `json:"value"`
	Confidence     float64     `json:"confidence"`
}

// LearningAnalysis is the result of learning.analyze
type LearningAnalysis struct {
	StrategyUpdates      []StrategyUpdate      `json:"strategy_updates"`
	PreferenceInferences []PreferenceInference `json:"preference_inferences"`
	KeyLearnings         []string              `json:"key_learnings"`
}

// Strategy update actions
const (
	StrategyActionCreate = "create"
	StrategyActionUpdate = "update"
)
