package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strconv"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Redis keys:
//
//	workflow:active:<id>        SETNX guard, value is the run id
//	workflow:run:<id>           hash with run state
//	workflow:queue:<queue>      list of workflow ids waiting for a worker
//	workflow:processing:<queue> list of workflow ids claimed by a worker
//	workflow:lease:<id>         claim token, expires if the worker dies
//	workflow:reclaim:<queue>    lock held by the instance running Reclaim
const (
	activeKeyPrefix  = "workflow:active:"
	runKeyPrefix     = "workflow:run:"
	queueKeyPrefix   = "workflow:queue:"
	procKeyPrefix    = "workflow:processing:"
	leaseKeyPrefix   = "workflow:lease:"
	reclaimKeyPrefix = "workflow:reclaim:"

	// activeTTL bounds how long a workflow id stays reserved if every
	// cleanup path is lost
	activeTTL = 24 * time.Hour
	// finishedTTL is how long finished run hashes are kept for Describe
	finishedTTL = 24 * time.Hour
)

// claimScript takes the lease on a run that BLMOVE put on the processing
// list. It returns 0 when Reclaim moved the run back in the meantime and -1
// when the run hash is gone.
//
// KEYS: processing, lease, run, active. ARGV: id, token, lease ms, now, worker
var claimScript = redis.NewScript(`
local claimed = false
for _, v in ipairs(redis.call("LRANGE", KEYS[1], 0, -1)) do
	if v == ARGV[1] then
		claimed = true
		break
	end
end
if not claimed then
	return 0
end
if redis.call("EXISTS", KEYS[3]) == 0 then
	redis.call("LREM", KEYS[1], 1, ARGV[1])
	redis.call("DEL", KEYS[4])
	return -1
end
redis.call("SET", KEYS[2], ARGV[2], "PX", ARGV[3])
redis.call("HSET", KEYS[3], "status", "running", "updatedAt", ARGV[4], "worker", ARGV[5])
return 1
`)

// renewScript extends the lease only while the caller still owns it
//
// KEYS: lease. ARGV: token, lease ms
var renewScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// requeueScript moves a run from the processing list back to the queue.
// With an empty token it acts only on runs whose lease has expired,
// otherwise only on runs the token owns. A run that is no longer on the
// processing list is left alone, so it is never queued twice.
//
// KEYS: processing, queue, lease, run. ARGV: id, token, now
var requeueScript = redis.NewScript(`
local owner = redis.call("GET", KEYS[3])
if ARGV[2] == "" then
	if owner then
		return 0
	end
elseif owner and owner ~= ARGV[2] then
	return 0
end
if redis.call("LREM", KEYS[1], 1, ARGV[1]) == 0 then
	return 0
end
redis.call("DEL", KEYS[3])
redis.call("HSET", KEYS[4], "status", "queued", "updatedAt", ARGV[3])
redis.call("LPUSH", KEYS[2], ARGV[1])
return 1
`)

// finishScript records a terminal status and releases the workflow id,
// unless the run was reclaimed from under the caller.
//
// KEYS: processing, lease, active, run. ARGV: id, token, status, now, ttl seconds
var finishScript = redis.NewScript(`
local owner = redis.call("GET", KEYS[2])
if owner and owner ~= ARGV[2] then
	return 0
end
if redis.call("LREM", KEYS[1], 1, ARGV[1]) == 0 then
	return 0
end
redis.call("HSET", KEYS[4], "status", ARGV[3], "updatedAt", ARGV[4])
redis.call("EXPIRE", KEYS[4], ARGV[5])
redis.call("DEL", KEYS[2], KEYS[3])
return 1
`)

// RedisEngine persists runs in Redis so they survive process restarts.
// A claimed run whose lease expires is put back on the queue by the
// reclaim job.
type RedisEngine struct {
	client     *redis.Client
	locker     Locker
	registry   *Registry
	cfg        Config
	instanceID string

	runs      inflight
	scheduler gocron.Scheduler

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewRedisEngine creates an engine on top of a Redis client. locker keeps
// Reclaim to one instance at a time.
func NewRedisEngine(client *redis.Client, locker Locker, registry *Registry, cfg Config) (*RedisEngine, error) {
	if locker == nil {
		return nil, errors.New("redis engine requires a locker")
	}
	cfg = cfg.withDefaults()

	scheduler, err := gocron.NewScheduler(gocron.WithLocation(time.UTC))
	if err != nil {
		return nil, fmt.Errorf("failed to create reclaim scheduler: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &RedisEngine{
		client:     client,
		locker:     locker,
		registry:   registry,
		cfg:        cfg,
		instanceID: uuid.NewString(),
		scheduler:  scheduler,
		ctx:        ctx,
		cancel:     cancel,
	}, nil
}

func (e *RedisEngine) queueKey() string { return queueKeyPrefix + e.cfg.TaskQueue }
func (e *RedisEngine) procKey() string  { return procKeyPrefix + e.cfg.TaskQueue }

func nowString() string { return time.Now().UTC().Format(time.RFC3339Nano) }

// Start persists the run and queues it unless the workflow id is already active
func (e *RedisEngine) Start(ctx context.Context, opts StartOptions) (*Handle, error) {
	if _, ok := e.registry.Lookup(opts.Workflow); !ok {
		return nil, ErrUnknownWorkflow
	}
	if e.runs.closed() {
		return nil, ErrDraining
	}
	if opts.TaskQueue != "" && opts.TaskQueue != e.cfg.TaskQueue {
		return nil, Permanent(fmt.Errorf("task queue %q is not served by this engine", opts.TaskQueue))
	}

	args, err := marshalArgs(opts.Args)
	if err != nil {
		return nil, err
	}

	runID := uuid.NewString()
	acquired, err := e.client.SetNX(ctx, activeKeyPrefix+opts.WorkflowID, runID, activeTTL).Result()
	if err != nil {
		return nil, Transient(fmt.Errorf("failed to reserve workflow id: %w", err))
	}
	if !acquired {
		existing, err := e.Describe(ctx, opts.WorkflowID)
		if err != nil {
			return &Handle{WorkflowID: opts.WorkflowID, Status: StatusQueued}, ErrAlreadyStarted
		}
		return existing, ErrAlreadyStarted
	}

	now := nowString()
	_, err = e.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, runKeyPrefix+opts.WorkflowID)
		pipe.HSet(ctx, runKeyPrefix+opts.WorkflowID,
			"workflow", opts.Workflow,
			"runId", runID,
			"args", string(args),
			"status", string(StatusQueued),
			"attempts", 0,
			"createdAt", now,
			"updatedAt", now,
		)
		pipe.LPush(ctx, e.queueKey(), opts.WorkflowID)
		return nil
	})
	if err != nil {
		// Release the reservation so a retry can take it
		e.client.Del(context.Background(), activeKeyPrefix+opts.WorkflowID)
		return nil, Transient(fmt.Errorf("failed to enqueue workflow: %w", err))
	}

	log.Printf("📥 [WORKFLOW] Queued %s %s (run %s)", opts.Workflow, opts.WorkflowID, runID)
	return &Handle{WorkflowID: opts.WorkflowID, RunID: runID, Status: StatusQueued}, nil
}

// Describe reads the run hash
func (e *RedisEngine) Describe(ctx context.Context, workflowID string) (*Handle, error) {
	fields, err := e.client.HGetAll(ctx, runKeyPrefix+workflowID).Result()
	if err != nil {
		return nil, Transient(fmt.Errorf("failed to read workflow: %w", err))
	}
	if len(fields) == 0 {
		return nil, ErrUnknownWorkflow
	}
	return &Handle{WorkflowID: workflowID, RunID: fields["runId"], Status: Status(fields["status"])}, nil
}

// Run starts the workers and the lease reclaim job. It returns immediately.
func (e *RedisEngine) Run(_ context.Context) error {
	_, err := e.scheduler.NewJob(
		gocron.DurationJob(e.cfg.Lease),
		gocron.NewTask(func() {
			if n, err := e.Reclaim(e.ctx); err != nil {
				log.Printf("⚠️ [WORKFLOW] Reclaim failed: %v", err)
			} else if n > 0 {
				log.Printf("♻️ [WORKFLOW] Requeued %d runs with expired leases", n)
			}
		}),
		gocron.WithName("workflow_reclaim"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return fmt.Errorf("failed to schedule reclaim job: %w", err)
	}
	e.scheduler.Start()

	for i := 0; i < e.cfg.Workers; i++ {
		e.wg.Add(1)
		go e.worker(i)
	}

	log.Printf("✅ [WORKFLOW] Redis engine started (queue: %s, workers: %d, lease: %s)", e.cfg.TaskQueue, e.cfg.Workers, e.cfg.Lease)
	return nil
}

func (e *RedisEngine) worker(n int) {
	defer e.wg.Done()

	for {
		if e.ctx.Err() != nil || e.runs.closed() {
			return
		}

		id, err := e.client.BLMove(e.ctx, e.queueKey(), e.procKey(), "RIGHT", "LEFT", 2*time.Second).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			if e.ctx.Err() != nil {
				return
			}
			log.Printf("⚠️ [WORKFLOW] Worker %d failed to claim run: %v", n, err)
			time.Sleep(time.Second)
			continue
		}

		if !e.runs.admit() {
			// Shutting down: hand the unleased run back untouched
			e.requeue(context.Background(), id, "")
			return
		}
		e.process(id)
		e.runs.done()
	}
}

// claim takes the lease on a run this worker moved to the processing list
func (e *RedisEngine) claim(ctx context.Context, workflowID, token string) (bool, error) {
	res, err := claimScript.Run(ctx, e.client,
		[]string{e.procKey(), leaseKeyPrefix + workflowID, runKeyPrefix + workflowID, activeKeyPrefix + workflowID},
		workflowID, token, e.cfg.Lease.Milliseconds(), nowString(), e.instanceID,
	).Int()
	if err != nil {
		return false, err
	}
	if res < 0 {
		log.Printf("⚠️ [WORKFLOW] Dropping %s: run state missing", workflowID)
	}
	return res == 1, nil
}

// heartbeat renews the lease until stop is closed
func (e *RedisEngine) heartbeat(workflowID, token string, stop <-chan struct{}) {
	ticker := time.NewTicker(e.cfg.Lease / 3)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			renewed, err := renewScript.Run(e.ctx, e.client, []string{leaseKeyPrefix + workflowID}, token, e.cfg.Lease.Milliseconds()).Int()
			if err == nil && renewed == 0 {
				log.Printf("⚠️ [WORKFLOW] Lost lease on %s", workflowID)
				return
			}
		case <-stop:
			return
		}
	}
}

func (e *RedisEngine) process(workflowID string) {
	ctx := e.ctx
	runKey := runKeyPrefix + workflowID
	token := uuid.NewString()

	claimed, err := e.claim(ctx, workflowID, token)
	if err != nil {
		log.Printf("⚠️ [WORKFLOW] Failed to claim %s: %v", workflowID, err)
		return
	}
	if !claimed {
		return
	}

	// The lease is held from here until the run finishes or is requeued,
	// including the backoff between attempts
	stop := make(chan struct{})
	defer close(stop)
	go e.heartbeat(workflowID, token, stop)

	fields, err := e.client.HGetAll(ctx, runKey).Result()
	if err != nil {
		log.Printf("⚠️ [WORKFLOW] Failed to read %s: %v", workflowID, err)
		e.requeue(context.Background(), workflowID, token)
		return
	}

	name := fields["workflow"]
	runID := fields["runId"]
	attempts, _ := strconv.Atoi(fields["attempts"])

	fn, ok := e.registry.Lookup(name)
	if !ok {
		log.Printf("❌ [WORKFLOW] No function registered for %q (run %s)", name, runID)
		e.finish(workflowID, name, token, StatusFailed)
		return
	}

	start := time.Now()
	err = safeCall(ctx, fn, json.RawMessage(fields["args"]))

	if err == nil {
		log.Printf("✅ [WORKFLOW] %s %s completed (run %s)", name, workflowID, runID)
		e.finish(workflowID, name, token, StatusCompleted)
		e.observe(name, StatusCompleted, start)
		return
	}

	classified := ClassifyError(err)
	attempts++
	e.client.HSet(ctx, runKey, "attempts", attempts, "lastError", truncateString(err.Error(), 500))

	if classified.IsRetryable() && attempts < e.cfg.MaxAttempts && ctx.Err() == nil {
		delay := e.cfg.Backoff.NextDelay(attempts - 1)
		log.Printf("🔁 [WORKFLOW] %s %s attempt %d failed, retrying in %v: %v", name, workflowID, attempts, delay, err)

		select {
		case <-time.After(delay):
		case <-ctx.Done():
		}
		e.requeue(context.Background(), workflowID, token)
		return
	}

	log.Printf("❌ [WORKFLOW] %s %s failed after %d attempts (run %s): %v", name, workflowID, attempts, runID, err)
	e.finish(workflowID, name, token, StatusFailed)
	e.observe(name, StatusFailed, start)
}

func (e *RedisEngine) observe(name string, status Status, start time.Time) {
	if e.cfg.Observer != nil {
		e.cfg.Observer.ObserveWorkflowRun(name, string(status), time.Since(start))
	}
}

// finish records the terminal status and releases the workflow id
func (e *RedisEngine) finish(workflowID, name, token string, status Status) {
	ctx := context.Background()
	done, err := finishScript.Run(ctx, e.client,
		[]string{e.procKey(), leaseKeyPrefix + workflowID, activeKeyPrefix + workflowID, runKeyPrefix + workflowID},
		workflowID, token, string(status), nowString(), int64(finishedTTL.Seconds()),
	).Int()
	if err != nil {
		log.Printf("⚠️ [WORKFLOW] Failed to finalize %s %s: %v", name, workflowID, err)
		return
	}
	if done == 0 {
		log.Printf("⚠️ [WORKFLOW] %s %s was reclaimed before it finished; leaving it to the new claim", name, workflowID)
	}
}

// requeue moves a claimed run back to the pending queue. An empty token
// requeues only runs whose lease has expired.
func (e *RedisEngine) requeue(ctx context.Context, workflowID, token string) bool {
	moved, err := requeueScript.Run(ctx, e.client,
		[]string{e.procKey(), e.queueKey(), leaseKeyPrefix + workflowID, runKeyPrefix + workflowID},
		workflowID, token, nowString(),
	).Int()
	if err != nil {
		log.Printf("⚠️ [WORKFLOW] Failed to requeue %s: %v", workflowID, err)
		return false
	}
	return moved == 1
}

// Reclaim requeues claimed runs whose worker stopped renewing its lease.
// Only one instance reclaims a queue at a time.
func (e *RedisEngine) Reclaim(ctx context.Context) (int, error) {
	lockKey := reclaimKeyPrefix + e.cfg.TaskQueue
	acquired, err := e.locker.AcquireLock(ctx, lockKey, e.instanceID, e.cfg.Lease)
	if err != nil {
		return 0, fmt.Errorf("failed to acquire reclaim lock: %w", err)
	}
	if !acquired {
		return 0, nil
	}
	defer func() {
		if _, err := e.locker.ReleaseLock(context.Background(), lockKey, e.instanceID); err != nil {
			log.Printf("⚠️ [WORKFLOW] Failed to release reclaim lock: %v", err)
		}
	}()

	ids, err := e.client.LRange(ctx, e.procKey(), 0, -1).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to list processing runs: %w", err)
	}

	reclaimed := 0
	for _, id := range ids {
		if e.requeue(ctx, id, "") {
			log.Printf("♻️ [WORKFLOW] Lease expired for %s, requeueing", id)
			reclaimed++
		}
	}
	return reclaimed, nil
}

// Shutdown stops claiming runs, waits for in-flight ones and stops the reclaim job
func (e *RedisEngine) Shutdown(timeout time.Duration) bool {
	log.Printf("🔄 [WORKFLOW] Draining Redis runs (timeout: %s)", timeout)
	ok := e.runs.drain(timeout)
	if !ok {
		log.Printf("⚠️ [WORKFLOW] Drain timed out; unfinished runs are reclaimed once their lease expires")
	}
	e.cancel()
	e.wg.Wait()
	if err := e.scheduler.Shutdown(); err != nil {
		log.Printf("⚠️ [WORKFLOW] Failed to stop reclaim scheduler: %v", err)
	}
	return ok
}
