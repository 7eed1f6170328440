package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"autopilot/internal/models"
	"autopilot/internal/store"

	"go.mongodb.org/mongo-driver/bson/primitive"
	"golang.org/x/sync/errgroup"
)

// IngestRequest is an incoming event signal
type IngestRequest struct {
	Source     string                 `json:"source"`
	SignalType string                 `json:"signalType"`
	// Payload is opaque to intake but must be a JSON object
	Payload    interface{}            `json:"payload"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
	// Process defaults to true
	Process *bool `json:"process,omitempty"`
	Durable bool  `json:"durable,omitempty"`
}

// IngestResult is the persisted signal plus the processing result, if any
type IngestResult struct {
	Signal *models.Signal `json:"signal"`
	Result *ProcessResult `json:"result,omitempty"`
}

// IntakeService persists signals and hands them to the orchestrator
type IntakeService struct {
	signals      store.SignalStore
	contexts     *ContextBuilder
	orchestrator *OrchestratorService
	metrics      *Metrics
}

// NewIntakeService creates a new intake service
func NewIntakeService(signals store.SignalStore, contexts *ContextBuilder, orchestrator *OrchestratorService, metrics *Metrics) *IntakeService {
	return &IntakeService{
		signals:      signals,
		contexts:     contexts,
		orchestrator: orchestrator,
		metrics:      metrics,
	}
}

// Ingest validates and stores a signal, then processes it unless asked not to
func (s *IntakeService) Ingest(ctx context.Context, userID string, req IngestRequest) (*IngestResult, error) {
	req.Source = strings.TrimSpace(req.Source)
	req.SignalType = strings.TrimSpace(req.SignalType)

	switch {
	case userID == "":
		return nil, invalid("userId", "is required")
	case req.Source == "":
		return nil, invalid("source", "is required")
	case req.SignalType == "":
		return nil, invalid("signalType", "is required")
	case req.Payload == nil:
		return nil, invalid("payload", "is required")
	}
	payload, ok := req.Payload.(map[string]interface{})
	if !ok {
		return nil, invalid("payload", "must be a JSON object")
	}

	signal := &models.Signal{
		UserID:   userID,
		Source:   req.Source,
		Type:     req.SignalType,
		Payload:  payload,
		Metadata: req.Metadata,
		Status:   models.SignalStatusPending,
	}
	if err := s.signals.Create(ctx, signal); err != nil {
		return nil, fmt.Errorf("failed to persist signal: %w", err)
	}
	s.metrics.RecordSignal(signal.Source)

	log.Printf("📥 [INTAKE] Signal %s stored (%s/%s, user %s)", signal.ID.Hex(), signal.Source, signal.Type, userID)

	if req.Process != nil && !*req.Process {
		log.Printf("⏭️ [INTAKE] Signal %s stored without processing", signal.ID.Hex())
		return &IngestResult{Signal: signal}, nil
	}

	// The durable path rebuilds context inside the workflow
	var userCtx *models.UserContext
	var ctxErrs []string
	if !req.Durable {
		userCtx, ctxErrs = s.contexts.Build(ctx, userID)
	}

	result, err := s.orchestrator.Process(ctx, signal, userCtx, ProcessOptions{Durable: req.Durable})
	if err != nil {
		return nil, err
	}
	if len(ctxErrs) > 0 {
		result.Errors = append(ctxErrs, result.Errors...)
	}

	return &IngestResult{Signal: signal, Result: result}, nil
}

// GetSignal loads one of the user's signals
func (s *IntakeService) GetSignal(ctx context.Context, userID, id string) (*models.Signal, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, invalid("id", "is not a valid signal id")
	}
	signal, err := s.signals.Get(ctx, userID, oid)
	if err != nil {
		return nil, err
	}
	return signal, nil
}

// ListSignals lists the user's signals, newest first
func (s *IntakeService) ListSignals(ctx context.Context, userID string, processed *bool, limit, offset int) ([]models.Signal, int64, error) {
	signals, total, err := s.signals.List(ctx, store.SignalFilter{
		UserID:    userID,
		Processed: processed,
		Limit:     limit,
		Offset:    offset,
	})
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list signals: %w", err)
	}
	return signals, total, nil
}

// ContextBuilder assembles the UserContext the reasoning backend sees
type ContextBuilder struct {
	stores        *store.Stores
	strategyLimit int
	outcomeLimit  int
}

// NewContextBuilder creates a builder. Non-positive limits use 20 strategies
// and 10 outcomes.
func NewContextBuilder(stores *store.Stores, strategyLimit, outcomeLimit int) *ContextBuilder {
	if strategyLimit <= 0 {
		strategyLimit = 20
	}
	if outcomeLimit <= 0 {
		outcomeLimit = 10
	}
	return &ContextBuilder{stores: stores, strategyLimit: strategyLimit, outcomeLimit: outcomeLimit}
}

// Build runs the four lookups concurrently. A failed lookup leaves its part
// empty and is reported in the returned messages.
func (b *ContextBuilder) Build(ctx context.Context, userID string) (*models.UserContext, []string) {
	uc := &models.UserContext{
		UserID:         userID,
		Goals:          []models.Goal{},
		Strategies:     []models.Strategy{},
		Preferences:    map[string]models.Preference{},
		RecentOutcomes: []models.Outcome{},
	}

	var failures [4]error
	var g errgroup.Group

	g.Go(func() error {
		goals, err := b.stores.Goals.ListActive(ctx, userID)
		if err != nil {
			failures[0] = fmt.Errorf("failed to load goals: %w", err)
		} else if goals != nil {
			uc.Goals = goals
		}
		return nil
	})
	g.Go(func() error {
		strategies, err := b.stores.Strategies.ListActive(ctx, userID, b.strategyLimit)
		if err != nil {
			failures[1] = fmt.Errorf("failed to load strategies: %w", err)
		} else if strategies != nil {
			uc.Strategies = strategies
		}
		return nil
	})
	g.Go(func() error {
		prefs, err := b.stores.Preferences.Map(ctx, userID)
		if err != nil {
			failures[2] = fmt.Errorf("failed to load preferences: %w", err)
		} else if prefs != nil {
			uc.Preferences = prefs
		}
		return nil
	})
	g.Go(func() error {
		outcomes, err := b.stores.Outcomes.Recent(ctx, userID, b.outcomeLimit)
		if err != nil {
			failures[3] = fmt.Errorf("failed to load recent outcomes: %w", err)
		} else if outcomes != nil {
			uc.RecentOutcomes = outcomes
		}
		return nil
	})
	_ = g.Wait()

	var errs []string
	for _, err := range failures {
		if err != nil {
			log.Printf("⚠️ [INTAKE] Context degraded for user %s: %v", userID, err)
			errs = append(errs, err.Error())
		}
	}
	return uc, errs
}

// isNotFound reports whether err means the entity does not exist (or is not
// visible to the caller)
func isNotFound(err error) bool {
	return errors.Is(err, store.ErrNotFound)
}
