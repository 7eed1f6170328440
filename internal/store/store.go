// Package store defines persistence for every entity the gate works with.
// Each interface has a MongoDB implementation for production and an
// in-memory one for development and tests.
package store

import (
	"context"
	"errors"
	"time"

	"autopilot/internal/models"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

var (
	// ErrNotFound is returned when no document matches
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when a compare-and-set loses (version or state moved)
	ErrConflict = errors.New("conflict")
)

// SignalFilter selects signals for listing
type SignalFilter struct {
	UserID    string
	Processed *bool
	Limit     int
	Offset    int
}

// SignalStore persists signals
type SignalStore interface {
	Create(ctx context.Context, s *models.Signal) error
	// Get loads a signal. An empty userID skips the ownership check.
	Get(ctx context.Context, userID string, id primitive.ObjectID) (*models.Signal, error)
	// SetWorkflow records the durable workflow driving the signal
	SetWorkflow(ctx context.Context, id primitive.ObjectID, workflowID string) error
	// MarkProcessed flips processed false -> true. Returns ErrConflict if the
	// signal was already processed.
	MarkProcessed(ctx context.Context, id primitive.ObjectID, status models.SignalStatus, errMsg string) error
	List(ctx context.Context, f SignalFilter) ([]models.Signal, int64, error)
	// FailStale marks unprocessed signals owned by a workflow and created
	// before cutoff as failed. Returns the number of signals updated.
	FailStale(ctx context.Context, cutoff time.Time, reason string) (int64, error)
}

// IntentStore persists intents, one per signal
type IntentStore interface {
	Create(ctx context.Context, i *models.Intent) error
	GetBySignal(ctx context.Context, signalID primitive.ObjectID) (*models.Intent, error)
}

// DraftFilter selects drafts for listing
type DraftFilter struct {
	UserID string
	Status models.DraftStatus
	Limit  int
	Offset int
}

// DraftStore persists drafts
type DraftStore interface {
	Create(ctx context.Context, d *models.Draft) error
	Get(ctx context.Context, id primitive.ObjectID) (*models.Draft, error)
	List(ctx context.Context, f DraftFilter) ([]models.Draft, int64, error)
	// Transition moves a draft from one status to another. Returns ErrConflict
	// if the stored status is no longer from.
	Transition(ctx context.Context, id primitive.ObjectID, from, to models.DraftStatus, reviewedBy string) (*models.Draft, error)
}

// OutcomeFilter selects outcomes for listing
type OutcomeFilter struct {
	UserID      string
	OutcomeType models.OutcomeType
	Limit       int
	Offset      int
}

// OutcomeStore persists outcomes. Append-only.
type OutcomeStore interface {
	Create(ctx context.Context, o *models.Outcome) error
	List(ctx context.Context, f OutcomeFilter) ([]models.Outcome, int64, error)
	Recent(ctx context.Context, userID string, limit int) ([]models.Outcome, error)
}

// StrategyStore persists strategies
type StrategyStore interface {
	Create(ctx context.Context, s *models.Strategy) error
	Get(ctx context.Context, userID string, id primitive.ObjectID) (*models.Strategy, error)
	ListActive(ctx context.Context, userID string, limit int) ([]models.Strategy, error)
	// Update saves s if the stored version still equals s.Version, then bumps
	// s.Version. Returns ErrConflict otherwise.
	Update(ctx context.Context, s *models.Strategy) error
}

// PreferenceStore persists preferences keyed by (user, type)
type PreferenceStore interface {
	// Upsert overwrites value and confidence and increments evidence count
	Upsert(ctx context.Context, userID, preferenceType string, value interface{}, confidence float64) (*models.Preference, error)
	Map(ctx context.Context, userID string) (map[string]models.Preference, error)
}

// GoalStore reads user goals
type GoalStore interface {
	Create(ctx context.Context, g *models.Goal) error
	ListActive(ctx context.Context, userID string) ([]models.Goal, error)
}

// Stores bundles every entity store
type Stores struct {
	Signals     SignalStore
	Intents     IntentStore
	Drafts      DraftStore
	Outcomes    OutcomeStore
	Strategies  StrategyStore
	Preferences PreferenceStore
	Goals       GoalStore
}
