package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Signal is a unit of observed event data ingested for reasoning
type Signal struct {
	ID       primitive.ObjectID     `bson:"_id,omitempty" json:"id"`
	UserID   string                 `bson:"userId" json:"user_id"`
	Source   string                 `bson:"source" json:"source"`         // e.g. "calendar", "email"
	Type     string                 `bson:"signalType" json:"signal_type"` // e.g. "reminder_missed"
	Payload  map[string]interface{} `bson:"payload" json:"payload"`
	Metadata map[string]interface{} `bson:"metadata,omitempty" json:"metadata,omitempty"`

	// Processed flips false -> true exactly once
	Processed   bool         `bson:"processed" json:"processed"`
	Status      SignalStatus `bson:"status" json:"status"`
	WorkflowID  string       `bson:"workflowId,omitempty" json:"workflow_id,omitempty"`
	Error       string       `bson:"error,omitempty" json:"error,omitempty"`
	ProcessedAt *time.Time   `bson:"processedAt,omitempty" json:"processed_at,omitempty"`

	CreatedAt time.Time `bson:"createdAt" json:"created_at"`
	UpdatedAt time.Time `bson:"updatedAt" json:"updated_at"`
}

// SignalStatus tracks where a signal is in the pipeline
type SignalStatus string

const (
	SignalStatusPending    SignalStatus = "pending"
	SignalStatusProcessing SignalStatus = "processing" // handed to a durable workflow
	SignalStatusProcessed  SignalStatus = "processed"
	SignalStatusFailed     SignalStatus = "failed"
)
