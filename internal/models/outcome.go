package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Outcome records the real-world effect of a draft. Append-only.
type Outcome struct {
	ID            primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	DraftID       primitive.ObjectID `bson:"draftId" json:"draft_id"`
	UserID        string             `bson:"userId" json:"user_id"`
	OutcomeType   OutcomeType        `bson:"outcomeType" json:"outcome_type"`
	OutcomeSignal string             `bson:"outcomeSignal,omitempty" json:"outcome_signal,omitempty"`
	UserRating    *int               `bson:"userRating,omitempty" json:"user_rating,omitempty"`

	// UserNotes holds ciphertext when an encryption key is configured
	UserNotes      string `bson:"userNotes,omitempty" json:"user_notes,omitempty"`
	NotesEncrypted bool   `bson:"notesEncrypted,omitempty" json:"-"`

	CreatedAt time.Time `bson:"createdAt" json:"created_at"`
}

// OutcomeType classifies how a draft turned out
type OutcomeType string

const (
	OutcomeSuccess OutcomeType = "success"
	OutcomePartial OutcomeType = "partial"
	OutcomeFailure OutcomeType = "failure"
)

// IsValid reports whether t is one of success, partial, failure
func (t OutcomeType) IsValid() bool {
	return t == OutcomeSuccess || t == OutcomePartial || t == OutcomeFailure
}
