// Package workflow runs named functions as durable, at-most-one-active-per-id
// jobs. The Redis engine survives process crashes; the local engine is for
// development and tests.
package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Status of a workflow run
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Handle identifies a workflow run
type Handle struct {
	WorkflowID string `json:"workflowId"`
	RunID      string `json:"runId"`
	Status     Status `json:"status"`
}

// StartOptions describes a run to start
type StartOptions struct {
	TaskQueue  string
	WorkflowID string
	Workflow   string
	Args       interface{}
}

// Engine starts workflows. Start returns ErrAlreadyStarted together with the
// existing handle when WorkflowID is already active.
type Engine interface {
	Start(ctx context.Context, opts StartOptions) (*Handle, error)
	Describe(ctx context.Context, workflowID string) (*Handle, error)
}

// Worker is the lifecycle side of an engine
type Worker interface {
	Run(ctx context.Context) error
	Shutdown(timeout time.Duration) bool
}

// Func is a workflow body. Args are the JSON-encoded StartOptions.Args.
type Func func(ctx context.Context, args json.RawMessage) error

// Observer is notified when runs finish (metrics)
type Observer interface {
	ObserveWorkflowRun(workflow string, status string, duration time.Duration)
}

// Registry maps workflow names to functions
type Registry struct {
	mu    sync.RWMutex
	funcs map[string]Func
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{funcs: make(map[string]Func)}
}

// Register adds fn under name. Registering a name twice panics.
func (r *Registry) Register(name string, fn Func) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.funcs[name]; exists {
		panic(fmt.Sprintf("workflow %q registered twice", name))
	}
	r.funcs[name] = fn
}

// Lookup returns the function registered under name
func (r *Registry) Lookup(name string) (Func, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.funcs[name]
	return fn, ok
}

// Names returns the registered workflow names
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.funcs))
	for n := range r.funcs {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Locker guards work only one instance should do at a time
type Locker interface {
	AcquireLock(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	ReleaseLock(ctx context.Context, key, value string) (bool, error)
}

// inflight counts runs being executed by this process. Once shutdown has
// begun no new run is admitted.
type inflight struct {
	mu       sync.RWMutex
	draining bool
	wg       sync.WaitGroup
}

func (f *inflight) admit() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.draining {
		return false
	}
	f.wg.Add(1)
	return true
}

func (f *inflight) done() { f.wg.Done() }

func (f *inflight) closed() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.draining
}

// drain stops admitting runs and reports whether the admitted ones finished
// within timeout
func (f *inflight) drain(timeout time.Duration) bool {
	f.mu.Lock()
	f.draining = true
	f.mu.Unlock()

	finished := make(chan struct{})
	go func() {
		f.wg.Wait()
		close(finished)
	}()
	select {
	case <-finished:
		return true
	case <-time.After(timeout):
		return false
	}
}

// Config holds settings shared by engines
type Config struct {
	TaskQueue   string
	Workers     int
	MaxAttempts int
	// Lease is how long a claimed run may go without a heartbeat before it is
	// handed to another worker (Redis engine only)
	Lease    time.Duration
	Backoff  *BackoffCalculator
	Observer Observer
}

func (c Config) withDefaults() Config {
	if c.TaskQueue == "" {
		c.TaskQueue = "default"
	}
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.Lease <= 0 {
		c.Lease = time.Minute
	}
	if c.Backoff == nil {
		c.Backoff = NewBackoffCalculator(time.Second, 30*time.Second, 2, 20)
	}
	return c
}

func marshalArgs(args interface{}) (json.RawMessage, error) {
	if raw, ok := args.(json.RawMessage); ok {
		return raw, nil
	}
	b, err := json.Marshal(args)
	if err != nil {
		return nil, Permanent(fmt.Errorf("failed to marshal workflow args: %w", err))
	}
	return b, nil
}
