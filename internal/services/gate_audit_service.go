package services

import (
	"context"
	"fmt"
	"time"

	"autopilot/internal/autonomy"
	"autopilot/internal/database"
)

// GateAuditService appends gate decisions to the gate_decisions table
type GateAuditService struct {
	db *database.DB
}

// NewGateAuditService creates an audit sink over an initialized database
func NewGateAuditService(db *database.DB) *GateAuditService {
	return &GateAuditService{db: db}
}

// RecordDecision implements autonomy.AuditSink
func (s *GateAuditService) RecordDecision(ctx context.Context, userID string, d autonomy.Decision) error {
	unknown := d.Code == autonomy.CodeUnknownCapability

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO gate_decisions
			(user_id, tool_name, effect, required_scope, status, code, reason, confidence, unknown_capability, decided_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, userID, d.ToolName, string(d.Effect), string(d.RequiredScope), string(d.Status), string(d.Code),
		d.Reason, d.Confidence, unknown, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to insert gate decision: %w", err)
	}
	return nil
}

// GateDecisionRecord is a row of the audit log
type GateDecisionRecord struct {
	ID                int64     `json:"id"`
	UserID            string    `json:"user_id"`
	ToolName          string    `json:"tool_name"`
	Effect            string    `json:"effect"`
	RequiredScope     string    `json:"required_scope"`
	Status            string    `json:"status"`
	Code              string    `json:"code"`
	Reason            string    `json:"reason"`
	Confidence        float64   `json:"confidence"`
	UnknownCapability bool      `json:"unknown_capability"`
	DecidedAt         time.Time `json:"decided_at"`
}

// ListForUser returns a user's most recent decisions, newest first
func (s *GateAuditService) ListForUser(ctx context.Context, userID string, limit int) ([]GateDecisionRecord, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, tool_name, effect, required_scope, status, code, reason, confidence, unknown_capability, decided_at
		FROM gate_decisions
		WHERE user_id = ?
		ORDER BY decided_at DESC, id DESC
		LIMIT ?
	`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query gate decisions: %w", err)
	}
	defer rows.Close()

	records := []GateDecisionRecord{}
	for rows.Next() {
		var r GateDecisionRecord
		if err := rows.Scan(&r.ID, &r.UserID, &r.ToolName, &r.Effect, &r.RequiredScope, &r.Status,
			&r.Code, &r.Reason, &r.Confidence, &r.UnknownCapability, &r.DecidedAt); err != nil {
			return nil, fmt.Errorf("failed to scan gate decision: %w", err)
		}
		records = append(records, r)
	}
	return records, rows.Err()
}
