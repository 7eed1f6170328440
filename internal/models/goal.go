package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Goal is a user objective. Owned by an upstream collaborator; read-only here.
type Goal struct {
	ID          primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	UserID      string             `bson:"userId" json:"user_id"`
	Title       string             `bson:"title" json:"title"`
	Description string             `bson:"description,omitempty" json:"description,omitempty"`
	Status      string             `bson:"status" json:"status"` // "active", "completed", "abandoned"
	Priority    int                `bson:"priority" json:"priority"`
	CreatedAt   time.Time          `bson:"createdAt" json:"created_at"`
	UpdatedAt   time.Time          `bson:"updatedAt" json:"updated_at"`
}

// GoalStatus constants
const (
	GoalStatusActive    = "active"
	GoalStatusCompleted = "completed"
	GoalStatusAbandoned = "abandoned"
)

// UserContext is the read snapshot handed to the reasoning backend with a signal.
// Built per signal, never persisted.
type UserContext struct {
	UserID         string                `json:"user_id"`
	Goals          []Goal                `json:"goals"`
	Strategies     []Strategy            `json:"strategies"`
	Preferences    map[string]Preference `json:"preferences"`
	RecentOutcomes []Outcome             `json:"recent_outcomes"`
}
