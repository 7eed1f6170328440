package jobs

import (
	"context"
	"fmt"
	"log"
	"time"

	"autopilot/internal/store"

	"github.com/robfig/cron/v3"
)

// stuckSignalReason is recorded on signals the sweep gives up on
const stuckSignalReason = "workflow did not complete: abandoned by stuck-signal sweep"

// StuckSignalSweepJob marks signals that were handed to a workflow but never
// processed as failed. Once marked, a late workflow loses the processed
// compare-and-set and drops its result.
type StuckSignalSweepJob struct {
	signals  store.SignalStore
	schedule cron.Schedule
	maxAge   time.Duration
	now      func() time.Time
}

// NewStuckSignalSweepJob creates the sweep.
// cronExpr: standard 5-field cron expression (e.g. "*/5 * * * *")
// maxAge: signals older than this with an unfinished workflow are failed
func NewStuckSignalSweepJob(signals store.SignalStore, cronExpr string, maxAge time.Duration) (*StuckSignalSweepJob, error) {
	schedule, err := cron.ParseStandard(cronExpr)
	if err != nil {
		return nil, fmt.Errorf("invalid sweep schedule %q: %w", cronExpr, err)
	}
	if maxAge <= 0 {
		return nil, fmt.Errorf("sweep max age must be positive, got %v", maxAge)
	}
	return &StuckSignalSweepJob{
		signals:  signals,
		schedule: schedule,
		maxAge:   maxAge,
		now:      time.Now,
	}, nil
}

// Run fails every stuck signal older than maxAge
func (j *StuckSignalSweepJob) Run(ctx context.Context) error {
	cutoff := j.now().Add(-j.maxAge)

	n, err := j.signals.FailStale(ctx, cutoff, stuckSignalReason)
	if err != nil {
		log.Printf("❌ [SIGNAL-SWEEP] Failed to sweep stuck signals: %v", err)
		return err
	}

	if n > 0 {
		log.Printf("🧹 [SIGNAL-SWEEP] Marked %d stuck signals as failed (created before %s)",
			n, cutoff.Format(time.RFC3339))
	}
	return nil
}

// Schedule returns the sweep's cron schedule
func (j *StuckSignalSweepJob) Schedule() cron.Schedule {
	return j.schedule
}
