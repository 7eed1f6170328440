package models

import (
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Draft is a proposed artifact or action awaiting auto-execution or human review
type Draft struct {
	ID              primitive.ObjectID     `bson:"_id,omitempty" json:"id"`
	IntentID        primitive.ObjectID     `bson:"intentId" json:"intent_id"`
	SignalID        primitive.ObjectID     `bson:"signalId" json:"signal_id"`
	UserID          string                 `bson:"userId" json:"user_id"`
	DraftType       string                 `bson:"draftType" json:"draft_type"`
	Title           string                 `bson:"title" json:"title"`
	Content         string                 `bson:"content" json:"content"`
	ToolName        string                 `bson:"toolName" json:"tool_name"`
	RequestedEffect string                 `bson:"requestedEffect,omitempty" json:"requested_effect,omitempty"`
	Arguments       map[string]interface{} `bson:"arguments,omitempty" json:"arguments,omitempty"`
	Confidence      float64                `bson:"confidence" json:"confidence"`

	Status     DraftStatus `bson:"status" json:"status"`
	GateReason string      `bson:"gateReason" json:"gate_reason"`

	ReviewedBy string     `bson:"reviewedBy,omitempty" json:"reviewed_by,omitempty"`
	ReviewedAt *time.Time `bson:"reviewedAt,omitempty" json:"reviewed_at,omitempty"`
	ExecutedAt *time.Time `bson:"executedAt,omitempty" json:"executed_at,omitempty"`

	CreatedAt time.Time `bson:"createdAt" json:"created_at"`
	UpdatedAt time.Time `bson:"updatedAt" json:"updated_at"`
}

// DraftStatus is the disposition of a draft
type DraftStatus string

const (
	DraftStatusPendingReview DraftStatus = "pending_review"
	DraftStatusAutoExecuted  DraftStatus = "auto_executed"
	DraftStatusApproved      DraftStatus = "approved"
	DraftStatusRejected      DraftStatus = "rejected"
	DraftStatusExecuted      DraftStatus = "executed"
)

// ErrInvalidTransition is returned when a draft status change would regress
var ErrInvalidTransition = errors.New("invalid draft status transition")

// draftTransitions lists every legal edge. auto_executed is only ever set at
// creation by the gate, so it has no inbound edge here.
var draftTransitions = map[DraftStatus][]DraftStatus{
	DraftStatusPendingReview: {DraftStatusApproved, DraftStatusRejected},
	DraftStatusApproved:      {DraftStatusExecuted},
}

// IsValid reports whether s is a known status
func (s DraftStatus) IsValid() bool {
	switch s {
	case DraftStatusPendingReview, DraftStatusAutoExecuted, DraftStatusApproved, DraftStatusRejected, DraftStatusExecuted:
		return true
	}
	return false
}

// IsTerminal reports whether no further transition is possible
func (s DraftStatus) IsTerminal() bool {
	return s == DraftStatusExecuted || s == DraftStatusRejected || s == DraftStatusAutoExecuted
}

// CanTransitionDraft reports whether a draft may move from one status to another
func CanTransitionDraft(from, to DraftStatus) bool {
	for _, next := range draftTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
