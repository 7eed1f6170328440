package jobs

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// ErrJobRunning is returned by RunNow while the job is already running
var ErrJobRunning = errors.New("job is already running")

// Job is a background task run on a cron schedule
type Job interface {
	Run(ctx context.Context) error
	Schedule() cron.Schedule
}

// JobStatus is what /health reports for a job
type JobStatus struct {
	Name      string     `json:"name"`
	NextRun   time.Time  `json:"nextRun"`
	LastRun   *time.Time `json:"lastRun,omitempty"`
	LastError string     `json:"lastError,omitempty"`
	Runs      int64      `json:"runs"`
}

type scheduledJob struct {
	job   Job
	entry cron.EntryID
	// held for the length of a run, whoever triggered it
	running sync.Mutex

	lastRun time.Time
	lastErr error
	runs    int64
}

// JobScheduler runs registered jobs on their cron schedules. A job never
// overlaps itself: a tick that finds it still running is skipped.
type JobScheduler struct {
	cron   *cron.Cron
	ctx    context.Context
	cancel context.CancelFunc

	mu   sync.Mutex
	jobs map[string]*scheduledJob
}

// NewJobScheduler creates a scheduler working in UTC
func NewJobScheduler() *JobScheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &JobScheduler{
		cron:   cron.New(cron.WithLocation(time.UTC), cron.WithChain(cron.Recover(cron.PrintfLogger(log.Default())))),
		ctx:    ctx,
		cancel: cancel,
		jobs:   make(map[string]*scheduledJob),
	}
}

// Register adds a job. Jobs registered after Start are scheduled immediately.
func (s *JobScheduler) Register(name string, job Job) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sj := &scheduledJob{job: job}
	sj.entry = s.cron.Schedule(job.Schedule(), cron.FuncJob(func() {
		if err := s.run(name, sj); errors.Is(err, ErrJobRunning) {
			log.Printf("⏭️ [SCHEDULER] Skipping '%s': previous run still in progress", name)
		}
	}))
	s.jobs[name] = sj
	log.Printf("✅ [SCHEDULER] Registered job: %s", name)
}

// Start begins running jobs on their schedules
func (s *JobScheduler) Start() error {
	s.mu.Lock()
	n := len(s.jobs)
	s.mu.Unlock()

	s.cron.Start()
	log.Printf("🚀 [SCHEDULER] Started with %d jobs", n)
	return nil
}

// Stop cancels running jobs and waits for them to return
func (s *JobScheduler) Stop() {
	log.Println("🛑 [SCHEDULER] Stopping job scheduler...")
	s.cancel()
	<-s.cron.Stop().Done()
	log.Println("✅ [SCHEDULER] Job scheduler stopped")
}

// RunNow runs a job immediately, outside its schedule
func (s *JobScheduler) RunNow(name string) error {
	s.mu.Lock()
	sj, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("job %q not found", name)
	}

	log.Printf("🚀 [SCHEDULER] Running job '%s' immediately", name)
	return s.run(name, sj)
}

func (s *JobScheduler) run(name string, sj *scheduledJob) error {
	if !sj.running.TryLock() {
		return ErrJobRunning
	}
	defer sj.running.Unlock()

	start := time.Now()
	err := sj.job.Run(s.ctx)
	if err != nil {
		log.Printf("❌ [SCHEDULER] Job '%s' failed after %v: %v", name, time.Since(start), err)
	}

	s.mu.Lock()
	sj.lastRun = start
	sj.lastErr = err
	sj.runs++
	s.mu.Unlock()
	return err
}

// Check reports the job's last failure, for /health
func (s *JobScheduler) Check(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sj, ok := s.jobs[name]
	if !ok {
		return fmt.Errorf("job %q not registered", name)
	}
	if sj.lastErr != nil {
		return fmt.Errorf("last run at %s failed: %w", sj.lastRun.Format(time.RFC3339), sj.lastErr)
	}
	return nil
}

// GetStatus returns the status of every registered job
func (s *JobScheduler) GetStatus() map[string]JobStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	status := make(map[string]JobStatus, len(s.jobs))
	for name, sj := range s.jobs {
		st := JobStatus{Name: name, Runs: sj.runs}
		// Entries only get a next time once the cron is running
		if next := s.cron.Entry(sj.entry).Next; !next.IsZero() {
			st.NextRun = next
		} else {
			st.NextRun = sj.job.Schedule().Next(time.Now().UTC())
		}
		if sj.runs > 0 {
			at := sj.lastRun
			st.LastRun = &at
		}
		if sj.lastErr != nil {
			st.LastError = sj.lastErr.Error()
		}
		status[name] = st
	}
	return status
}
