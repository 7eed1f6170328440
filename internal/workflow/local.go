package workflow

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/google/uuid"
	cache "github.com/patrickmn/go-cache"
)

// LocalEngine runs workflows on goroutines inside this process. Runs are lost
// if the process exits; use RedisEngine where that matters.
type LocalEngine struct {
	registry *Registry
	cfg      Config

	active *cache.Cache // workflowID -> Handle while queued or running
	last   *cache.Cache // workflowID -> Handle, last known state

	sem    chan struct{}
	runs   inflight
	ctx    context.Context
	cancel context.CancelFunc
}

// NewLocalEngine creates an in-process engine
func NewLocalEngine(registry *Registry, cfg Config) *LocalEngine {
	cfg = cfg.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())

	return &LocalEngine{
		registry: registry,
		cfg:      cfg,
		active:   cache.New(cache.NoExpiration, 0),
		last:     cache.New(time.Hour, 10*time.Minute),
		sem:      make(chan struct{}, cfg.Workers),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start launches the workflow unless one with the same id is still active
func (e *LocalEngine) Start(_ context.Context, opts StartOptions) (*Handle, error) {
	fn, ok := e.registry.Lookup(opts.Workflow)
	if !ok {
		return nil, ErrUnknownWorkflow
	}
	args, err := marshalArgs(opts.Args)
	if err != nil {
		return nil, err
	}

	h := Handle{WorkflowID: opts.WorkflowID, RunID: uuid.NewString(), Status: StatusQueued}
	if err := e.active.Add(opts.WorkflowID, h, cache.NoExpiration); err != nil {
		if existing, found := e.active.Get(opts.WorkflowID); found {
			cur := existing.(Handle)
			return &cur, ErrAlreadyStarted
		}
		return nil, ErrAlreadyStarted
	}

	if !e.runs.admit() {
		e.active.Delete(opts.WorkflowID)
		return nil, ErrDraining
	}
	e.last.SetDefault(opts.WorkflowID, h)

	go e.execute(opts.Workflow, fn, h, args)

	return &h, nil
}

// Describe returns the last known state of a workflow
func (e *LocalEngine) Describe(_ context.Context, workflowID string) (*Handle, error) {
	if v, ok := e.active.Get(workflowID); ok {
		h := v.(Handle)
		return &h, nil
	}
	if v, ok := e.last.Get(workflowID); ok {
		h := v.(Handle)
		return &h, nil
	}
	return nil, ErrUnknownWorkflow
}

func (e *LocalEngine) setStatus(h *Handle, status Status) {
	h.Status = status
	if status == StatusCompleted || status == StatusFailed {
		e.active.Delete(h.WorkflowID)
	} else {
		e.active.Set(h.WorkflowID, *h, cache.NoExpiration)
	}
	e.last.SetDefault(h.WorkflowID, *h)
}

func (e *LocalEngine) execute(name string, fn Func, h Handle, args json.RawMessage) {
	defer e.runs.done()

	select {
	case e.sem <- struct{}{}:
	case <-e.ctx.Done():
		e.setStatus(&h, StatusFailed)
		return
	}
	defer func() { <-e.sem }()

	start := time.Now()
	e.setStatus(&h, StatusRunning)

	err := runWithRetry(e.ctx, name, fn, h, args, e.cfg)

	status := StatusCompleted
	if err != nil {
		status = StatusFailed
	}
	e.setStatus(&h, status)
	if e.cfg.Observer != nil {
		e.cfg.Observer.ObserveWorkflowRun(name, string(status), time.Since(start))
	}
}

// runWithRetry calls fn until it succeeds, fails permanently or runs out of attempts
func runWithRetry(ctx context.Context, name string, fn Func, h Handle, args json.RawMessage, cfg Config) error {
	var err error
	for attempt := 0; attempt < cfg.MaxAttempts; attempt++ {
		err = safeCall(ctx, fn, args)
		if err == nil {
			log.Printf("✅ [WORKFLOW] %s %s completed (run %s)", name, h.WorkflowID, h.RunID)
			return nil
		}

		classified := ClassifyError(err)
		if !classified.IsRetryable() || attempt == cfg.MaxAttempts-1 {
			break
		}

		delay := cfg.Backoff.NextDelay(attempt)
		log.Printf("🔁 [WORKFLOW] %s %s attempt %d failed (%s), retrying in %v: %v",
			name, h.WorkflowID, attempt+1, classified.Category, delay, err)

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	log.Printf("❌ [WORKFLOW] %s %s failed (run %s): %v", name, h.WorkflowID, h.RunID, err)
	return err
}

// safeCall turns a panicking workflow into a permanent failure
func safeCall(ctx context.Context, fn Func, args json.RawMessage) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = Permanent(panicError{r})
		}
	}()
	return fn(ctx, args)
}

type panicError struct{ v interface{} }

func (p panicError) Error() string {
	return "workflow panicked: " + toString(p.v)
}

func toString(v interface{}) string {
	switch t := v.(type) {
	case error:
		return t.Error()
	case string:
		return t
	}
	b, _ := json.Marshal(v)
	return string(b)
}

// Run is a no-op for the local engine; runs start as soon as they are submitted
func (e *LocalEngine) Run(_ context.Context) error {
	log.Printf("⚠️ [WORKFLOW] Using in-process engine (%d workers): runs are not crash-recoverable", e.cfg.Workers)
	return nil
}

// Shutdown stops accepting runs and waits for in-flight ones
func (e *LocalEngine) Shutdown(timeout time.Duration) bool {
	log.Printf("🔄 [WORKFLOW] Draining in-process runs (timeout: %s)", timeout)
	ok := e.runs.drain(timeout)
	if !ok {
		log.Printf("⚠️ [WORKFLOW] Drain timed out, cancelling remaining runs")
	}
	e.cancel()
	return ok
}
