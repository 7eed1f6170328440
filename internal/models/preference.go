package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Preference is an inferred user preference, unique per (userId, preferenceType)
type Preference struct {
	ID             primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	UserID         string             `bson:"userId" json:"user_id"`
	PreferenceType string             `bson:"preferenceType" json:"preference_type"`
	Value          interface{}        `bson:"value" json:"value"`
	Confidence     float64            `bson:"confidence" json:"confidence"`
	EvidenceCount  int64              `bson:"evidenceCount" json:"evidence_count"`
	CreatedAt      time.Time          `bson:"createdAt" json:"created_at"`
	UpdatedAt      time.Time          `bson:"updatedAt" json:"updated_at"`
}
