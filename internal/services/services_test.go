package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"autopilot/internal/allowlist"
	"autopilot/internal/autonomy"
	"autopilot/internal/models"
	"autopilot/internal/reasoning"
	"autopilot/internal/store"
	"autopilot/internal/workflow"

	"github.com/prometheus/client_golang/prometheus"
)

// fakeReasoning answers prompts from a script and records every input
type fakeReasoning struct {
	mu        sync.Mutex
	responses map[string]interface{} // prompt id -> value to marshal, or error
	inputs    map[string][]interface{}
	hook      func(promptID string)
}

func newFakeReasoning(responses map[string]interface{}) *fakeReasoning {
	if responses == nil {
		responses = make(map[string]interface{})
	}
	return &fakeReasoning{responses: responses, inputs: make(map[string][]interface{})}
}

func (f *fakeReasoning) ExecutePrompt(_ context.Context, promptID string, input interface{}) (json.RawMessage, error) {
	if f.hook != nil {
		f.hook(promptID)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.inputs[promptID] = append(f.inputs[promptID], input)

	resp, ok := f.responses[promptID]
	if !ok {
		return nil, fmt.Errorf("no scripted response for %s", promptID)
	}
	if err, isErr := resp.(error); isErr {
		return nil, err
	}
	return json.Marshal(resp)
}

func (f *fakeReasoning) set(promptID string, resp interface{}) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.responses[promptID] = resp
}

func (f *fakeReasoning) calls(promptID string) []interface{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]interface{}(nil), f.inputs[promptID]...)
}

func intentResponse(confidence float64, action map[string]interface{}) map[string]interface{} {
	resp := map[string]interface{}{
		"predicted_need": "follow up on a missed reminder",
		"confidence":     confidence,
		"reasoning":      "the user missed a reminder an hour ago",
	}
	if action != nil {
		resp["suggested_action"] = action
	}
	return resp
}

type testEnv struct {
	stores       *store.Stores
	backend      *fakeReasoning
	metrics      *Metrics
	events       *PubSubService
	orchestrator *OrchestratorService
	intake       *IntakeService
	learning     *LearningService
	drafts       *DraftService
	engine       *workflow.LocalEngine
}

type envOptions struct {
	durable bool
	stores  *store.Stores
	// engine replaces the in-process engine
	engine workflow.Engine
}

// stubEngine answers every Start with a fixed handle and error
type stubEngine struct {
	handle *workflow.Handle
	err    error
	starts int
}

func (s *stubEngine) Start(_ context.Context, _ workflow.StartOptions) (*workflow.Handle, error) {
	s.starts++
	return s.handle, s.err
}

func (s *stubEngine) Describe(_ context.Context, _ string) (*workflow.Handle, error) {
	return s.handle, nil
}

func newTestEnv(t *testing.T, backend *fakeReasoning, opts envOptions) *testEnv {
	t.Helper()

	stores := opts.stores
	if stores == nil {
		stores = store.NewMemoryStores()
	}
	registry := allowlist.DefaultRegistry()
	metrics := NewMetrics(prometheus.NewRegistry())
	events := NewPubSubService(nil, "test-instance")
	contexts := NewContextBuilder(stores, 20, 10)

	env := &testEnv{stores: stores, backend: backend, metrics: metrics, events: events}

	cfg := OrchestratorConfig{
		Stores:    stores,
		Reasoning: backend,
		Gate:      autonomy.NewGate(registry, autonomy.WithObserver(metrics)),
		Actions:   NewActionHandlers(registry, backend),
		Contexts:  contexts,
		TaskQueue: "signals",
		Events:    events,
		Metrics:   metrics,
	}

	var wfRegistry *workflow.Registry
	if opts.durable {
		wfRegistry = workflow.NewRegistry()
		env.engine = workflow.NewLocalEngine(wfRegistry, workflow.Config{
			Workers:     2,
			MaxAttempts: 1,
			Backoff:     workflow.NewBackoffCalculator(time.Millisecond, time.Millisecond, 1, 0),
			Observer:    metrics,
		})
		cfg.Engine = env.engine
		t.Cleanup(func() { env.engine.Shutdown(2 * time.Second) })
	} else if opts.engine != nil {
		cfg.Engine = opts.engine
	}

	env.orchestrator = NewOrchestratorService(cfg)
	if wfRegistry != nil {
		env.orchestrator.RegisterWorkflows(wfRegistry)
	}
	env.intake = NewIntakeService(stores.Signals, contexts, env.orchestrator, metrics)
	env.learning = NewLearningService(stores, backend, NewLocalUserLocker(), nil, metrics, 20)
	env.drafts = NewDraftService(stores.Drafts, events)
	return env
}

// seedDraft stores a draft directly, bypassing the pipeline
func seedDraft(t *testing.T, stores *store.Stores, userID string, status models.DraftStatus) *models.Draft {
	t.Helper()
	d := &models.Draft{
		UserID:    userID,
		DraftType: "message",
		Title:     "Follow up",
		Content:   "Want to reschedule?",
		ToolName:  "reminders.draft_followup",
		Status:    status,
	}
	if err := stores.Drafts.Create(context.Background(), d); err != nil {
		t.Fatalf("seed draft: %v", err)
	}
	return d
}

// failingGoals simulates an unavailable goals collection
type failingGoals struct{}

func (failingGoals) Create(context.Context, *models.Goal) error {
	return errors.New("goals unavailable")
}

func (failingGoals) ListActive(context.Context, string) ([]models.Goal, error) {
	return nil, errors.New("goals unavailable")
}

func boolPtr(b bool) *bool { return &b }
func intPtr(i int) *int    { return &i }

var _ reasoning.Backend = (*fakeReasoning)(nil)
