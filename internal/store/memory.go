package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"autopilot/internal/models"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// NewMemoryStores returns stores backed by process memory. Data is lost on restart.
func NewMemoryStores() *Stores {
	return &Stores{
		Signals:     &memorySignals{byID: map[primitive.ObjectID]*models.Signal{}},
		Intents:     &memoryIntents{bySignal: map[primitive.ObjectID]*models.Intent{}},
		Drafts:      &memoryDrafts{byID: map[primitive.ObjectID]*models.Draft{}},
		Outcomes:    &memoryOutcomes{},
		Strategies:  &memoryStrategies{byID: map[primitive.ObjectID]*models.Strategy{}},
		Preferences: &memoryPreferences{byKey: map[string]*models.Preference{}},
		Goals:       &memoryGoals{},
	}
}

func page[T any](items []T, limit, offset int) []T {
	if offset >= len(items) {
		return []T{}
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}

// ---- signals ----

type memorySignals struct {
	mu    sync.RWMutex
	byID  map[primitive.ObjectID]*models.Signal
	order []primitive.ObjectID
}

func (m *memorySignals) Create(_ context.Context, s *models.Signal) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if s.ID.IsZero() {
		s.ID = primitive.NewObjectID()
	}
	now := time.Now()
	if s.CreatedAt.IsZero() {
		s.CreatedAt = now
	}
	s.UpdatedAt = now
	if s.Status == "" {
		s.Status = models.SignalStatusPending
	}

	cp := *s
	m.byID[s.ID] = &cp
	m.order = append(m.order, s.ID)
	return nil
}

func (m *memorySignals) Get(_ context.Context, userID string, id primitive.ObjectID) (*models.Signal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.byID[id]
	if !ok || (userID != "" && s.UserID != userID) {
		return nil, ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (m *memorySignals) SetWorkflow(_ context.Context, id primitive.ObjectID, workflowID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.byID[id]
	if !ok {
		return ErrNotFound
	}
	s.WorkflowID = workflowID
	if !s.Processed {
		s.Status = models.SignalStatusProcessing
	}
	s.UpdatedAt = time.Now()
	return nil
}

func (m *memorySignals) MarkProcessed(_ context.Context, id primitive.ObjectID, status models.SignalStatus, errMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.byID[id]
	if !ok {
		return ErrNotFound
	}
	if s.Processed {
		return ErrConflict
	}
	now := time.Now()
	s.Processed = true
	s.Status = status
	s.Error = errMsg
	s.ProcessedAt = &now
	s.UpdatedAt = now
	return nil
}

func (m *memorySignals) List(_ context.Context, f SignalFilter) ([]models.Signal, int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []models.Signal
	for i := len(m.order) - 1; i >= 0; i-- {
		s := m.byID[m.order[i]]
		if f.UserID != "" && s.UserID != f.UserID {
			continue
		}
		if f.Processed != nil && s.Processed != *f.Processed {
			continue
		}
		out = append(out, *s)
	}
	return page(out, f.Limit, f.Offset), int64(len(out)), nil
}

func (m *memorySignals) FailStale(_ context.Context, cutoff time.Time, reason string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var n int64
	now := time.Now()
	for _, s := range m.byID {
		if s.Processed || s.WorkflowID == "" || !s.CreatedAt.Before(cutoff) {
			continue
		}
		s.Processed = true
		s.Status = models.SignalStatusFailed
		s.Error = reason
		s.ProcessedAt = &now
		s.UpdatedAt = now
		n++
	}
	return n, nil
}

// ---- intents ----

type memoryIntents struct {
	mu       sync.RWMutex
	bySignal map[primitive.ObjectID]*models.Intent
}

func (m *memoryIntents) Create(_ context.Context, i *models.Intent) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.bySignal[i.SignalID]; exists {
		return ErrConflict
	}
	if i.ID.IsZero() {
		i.ID = primitive.NewObjectID()
	}
	if i.CreatedAt.IsZero() {
		i.CreatedAt = time.Now()
	}
	cp := *i
	m.bySignal[i.SignalID] = &cp
	return nil
}

func (m *memoryIntents) GetBySignal(_ context.Context, signalID primitive.ObjectID) (*models.Intent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	i, ok := m.bySignal[signalID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *i
	return &cp, nil
}

// ---- drafts ----

type memoryDrafts struct {
	mu    sync.RWMutex
	byID  map[primitive.ObjectID]*models.Draft
	order []primitive.ObjectID
}

func (m *memoryDrafts) Create(_ context.Context, d *models.Draft) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if d.ID.IsZero() {
		d.ID = primitive.NewObjectID()
	}
	now := time.Now()
	if d.CreatedAt.IsZero() {
		d.CreatedAt = now
	}
	d.UpdatedAt = now

	cp := *d
	m.byID[d.ID] = &cp
	m.order = append(m.order, d.ID)
	return nil
}

func (m *memoryDrafts) Get(_ context.Context, id primitive.ObjectID) (*models.Draft, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	d, ok := m.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *d
	return &cp, nil
}

func (m *memoryDrafts) List(_ context.Context, f DraftFilter) ([]models.Draft, int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []models.Draft
	for i := len(m.order) - 1; i >= 0; i-- {
		d := m.byID[m.order[i]]
		if f.UserID != "" && d.UserID != f.UserID {
			continue
		}
		if f.Status != "" && d.Status != f.Status {
			continue
		}
		out = append(out, *d)
	}
	return page(out, f.Limit, f.Offset), int64(len(out)), nil
}

func (m *memoryDrafts) Transition(_ context.Context, id primitive.ObjectID, from, to models.DraftStatus, reviewedBy string) (*models.Draft, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	d, ok := m.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	if d.Status != from {
		return nil, ErrConflict
	}

	now := time.Now()
	d.Status = to
	d.UpdatedAt = now
	switch to {
	case models.DraftStatusApproved, models.DraftStatusRejected:
		d.ReviewedBy = reviewedBy
		d.ReviewedAt = &now
	case models.DraftStatusExecuted:
		d.ExecutedAt = &now
	}

	cp := *d
	return &cp, nil
}

// ---- outcomes ----

type memoryOutcomes struct {
	mu   sync.RWMutex
	rows []models.Outcome
}

func (m *memoryOutcomes) Create(_ context.Context, o *models.Outcome) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if o.ID.IsZero() {
		o.ID = primitive.NewObjectID()
	}
	if o.CreatedAt.IsZero() {
		o.CreatedAt = time.Now()
	}
	m.rows = append(m.rows, *o)
	return nil
}

func (m *memoryOutcomes) List(_ context.Context, f OutcomeFilter) ([]models.Outcome, int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []models.Outcome
	for i := len(m.rows) - 1; i >= 0; i-- {
		o := m.rows[i]
		if f.UserID != "" && o.UserID != f.UserID {
			continue
		}
		if f.OutcomeType != "" && o.OutcomeType != f.OutcomeType {
			continue
		}
		out = append(out, o)
	}
	return page(out, f.Limit, f.Offset), int64(len(out)), nil
}

func (m *memoryOutcomes) Recent(ctx context.Context, userID string, limit int) ([]models.Outcome, error) {
	out, _, err := m.List(ctx, OutcomeFilter{UserID: userID, Limit: limit})
	return out, err
}

// ---- strategies ----

type memoryStrategies struct {
	mu   sync.RWMutex
	byID map[primitive.ObjectID]*models.Strategy
}

func cloneStrategy(s *models.Strategy) *models.Strategy {
	cp := *s
	cp.LearnedFrom = append([]primitive.ObjectID(nil), s.LearnedFrom...)
	return &cp
}

func (m *memoryStrategies) Create(_ context.Context, s *models.Strategy) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if s.ID.IsZero() {
		s.ID = primitive.NewObjectID()
	}
	now := time.Now()
	if s.CreatedAt.IsZero() {
		s.CreatedAt = now
	}
	s.UpdatedAt = now
	s.Version = 1
	m.byID[s.ID] = cloneStrategy(s)
	return nil
}

func (m *memoryStrategies) Get(_ context.Context, userID string, id primitive.ObjectID) (*models.Strategy, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.byID[id]
	if !ok || (userID != "" && s.UserID != userID) {
		return nil, ErrNotFound
	}
	return cloneStrategy(s), nil
}

func (m *memoryStrategies) ListActive(_ context.Context, userID string, limit int) ([]models.Strategy, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []models.Strategy
	for _, s := range m.byID {
		if s.UserID == userID && s.Active {
			out = append(out, *cloneStrategy(s))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Confidence != out[j].Confidence {
			return out[i].Confidence > out[j].Confidence
		}
		return out[i].ID.Hex() < out[j].ID.Hex()
	})
	return page(out, limit, 0), nil
}

func (m *memoryStrategies) Update(_ context.Context, s *models.Strategy) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cur, ok := m.byID[s.ID]
	if !ok {
		return ErrNotFound
	}
	if cur.Version != s.Version {
		return ErrConflict
	}

	s.Version++
	s.UpdatedAt = time.Now()
	m.byID[s.ID] = cloneStrategy(s)
	return nil
}

// ---- preferences ----

type memoryPreferences struct {
	mu    sync.RWMutex
	byKey map[string]*models.Preference
}

func (m *memoryPreferences) Upsert(_ context.Context, userID, preferenceType string, value interface{}, confidence float64) (*models.Preference, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := userID + "\x00" + preferenceType
	now := time.Now()

	p, ok := m.byKey[key]
	if !ok {
		p = &models.Preference{
			ID:             primitive.NewObjectID(),
			UserID:         userID,
			PreferenceType: preferenceType,
			CreatedAt:      now,
		}
		m.byKey[key] = p
	}
	p.Value = value
	p.Confidence = models.ClampConfidence(confidence)
	p.EvidenceCount++
	p.UpdatedAt = now

	cp := *p
	return &cp, nil
}

func (m *memoryPreferences) Map(_ context.Context, userID string) (map[string]models.Preference, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := map[string]models.Preference{}
	for _, p := range m.byKey {
		if p.UserID == userID {
			out[p.PreferenceType] = *p
		}
	}
	return out, nil
}

// ---- goals ----

type memoryGoals struct {
	mu   sync.RWMutex
	rows []models.Goal
}

func (m *memoryGoals) Create(_ context.Context, g *models.Goal) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if g.ID.IsZero() {
		g.ID = primitive.NewObjectID()
	}
	now := time.Now()
	if g.CreatedAt.IsZero() {
		g.CreatedAt = now
	}
	g.UpdatedAt = now
	if g.Status == "" {
		g.Status = models.GoalStatusActive
	}
	m.rows = append(m.rows, *g)
	return nil
}

func (m *memoryGoals) ListActive(_ context.Context, userID string) ([]models.Goal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []models.Goal
	for _, g := range m.rows {
		if g.UserID == userID && g.Status == models.GoalStatusActive {
			out = append(out, g)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Priority > out[j].Priority })
	return out, nil
}
