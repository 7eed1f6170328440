package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Intent is a structured prediction of user need. Written once per signal.
type Intent struct {
	ID              primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	SignalID        primitive.ObjectID `bson:"signalId" json:"signal_id"`
	UserID          string             `bson:"userId" json:"user_id"`
	PredictedNeed   string             `bson:"predictedNeed" json:"predicted_need"`
	Confidence      float64            `bson:"confidence" json:"confidence"`
	Reasoning       string             `bson:"reasoning" json:"reasoning"`
	SuggestedAction *SuggestedAction   `bson:"suggestedAction,omitempty" json:"suggested_action,omitempty"`
	CreatedAt       time.Time          `bson:"createdAt" json:"created_at"`
}

// SuggestedAction is what the reasoning backend proposes doing about an intent
type SuggestedAction struct {
	Type       string                 `bson:"type" json:"type"`                                 // dispatch key, e.g. "draft_message"
	ToolName   string                 `bson:"toolName,omitempty" json:"tool_name,omitempty"`    // target capability
	Title      string                 `bson:"title,omitempty" json:"title,omitempty"`
	Content    string                 `bson:"content,omitempty" json:"content,omitempty"`
	Effect     string                 `bson:"effect,omitempty" json:"effect,omitempty"`         // requested effect class
	Parameters map[string]interface{} `bson:"parameters,omitempty" json:"parameters,omitempty"`
}

// ActionTypeNone means the backend saw nothing worth acting on
const ActionTypeNone = "none"
