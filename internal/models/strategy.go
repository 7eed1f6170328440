package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Strategy is a learned behavioral pattern, reinforced or weakened by outcomes.
// Only the learner mutates strategies.
type Strategy struct {
	ID           primitive.ObjectID   `bson:"_id,omitempty" json:"id"`
	UserID       string               `bson:"userId" json:"user_id"`
	StrategyType string               `bson:"strategyType" json:"strategy_type"`
	Pattern      string               `bson:"pattern" json:"pattern"`
	Confidence   float64              `bson:"confidence" json:"confidence"`
	SuccessCount int64                `bson:"successCount" json:"success_count"`
	FailureCount int64                `bson:"failureCount" json:"failure_count"`
	Active       bool                 `bson:"active" json:"active"`
	LearnedFrom  []primitive.ObjectID `bson:"learnedFrom" json:"learned_from"`

	// Version guards concurrent learning passes (optimistic concurrency)
	Version int64 `bson:"version" json:"version"`

	CreatedAt time.Time `bson:"createdAt" json:"created_at"`
	UpdatedAt time.Time `bson:"updatedAt" json:"updated_at"`
}

// StrategyBaseConfidence is where a freshly created strategy starts before its delta
const StrategyBaseConfidence = 0.5

// ClampConfidence bounds a confidence score to [0, 1]
func ClampConfidence(v float64) float64 {
	if v != v { // NaN
		return 0
	}
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// ApplyOutcome folds a confidence delta and an outcome into the strategy.
// Counters only ever grow; confidence stays in [0, 1].
func (s *Strategy) ApplyOutcome(outcomeID primitive.ObjectID, outcomeType OutcomeType, delta float64) {
	s.Confidence = ClampConfidence(s.Confidence + delta)
	switch outcomeType {
	case OutcomeSuccess:
		s.SuccessCount++
	case OutcomeFailure:
		s.FailureCount++
	}
	s.LearnedFrom = append(s.LearnedFrom, outcomeID)
}
