package health

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"
)

const (
	defaultFailureThreshold = 3
	defaultCooldownDuration = time.Minute
)

// Status represents the health state of a provider
type Status string

const (
	StatusHealthy  Status = "healthy"
	StatusDegraded Status = "degraded"
	StatusCooldown Status = "cooldown"
	StatusUnknown  Status = "unknown"
)

// Snapshot is a point-in-time copy of a provider's health
type Snapshot struct {
	Name          string    `json:"name"`
	Status        Status    `json:"status"`
	FailureCount  int       `json:"failureCount"`
	LastError     string    `json:"lastError,omitempty"`
	LastSuccessAt time.Time `json:"lastSuccessAt,omitempty"`
	CooldownUntil time.Time `json:"cooldownUntil,omitempty"`
}

// ErrCoolingDown is returned while a provider is in cooldown
type ErrCoolingDown struct {
	Name  string
	Until time.Time
}

func (e *ErrCoolingDown) Error() string {
	return fmt.Sprintf("%s is cooling down until %s", e.Name, e.Until.Format(time.RFC3339))
}

// Tracker follows one upstream provider. After failureThreshold consecutive
// failures, or any quota error, the provider is put in cooldown and callers
// should fail fast until it ends.
type Tracker struct {
	mu               sync.Mutex
	state            Snapshot
	failureThreshold int
	cooldownDuration time.Duration
	now              func() time.Time
}

// NewTracker creates a tracker. Non-positive values use 3 failures and a
// one minute cooldown.
func NewTracker(name string, failureThreshold int, cooldownDuration time.Duration) *Tracker {
	if failureThreshold <= 0 {
		failureThreshold = defaultFailureThreshold
	}
	if cooldownDuration <= 0 {
		cooldownDuration = defaultCooldownDuration
	}
	return &Tracker{
		state:            Snapshot{Name: name, Status: StatusUnknown},
		failureThreshold: failureThreshold,
		cooldownDuration: cooldownDuration,
		now:              time.Now,
	}
}

// Available returns *ErrCoolingDown while the provider is in cooldown
func (t *Tracker) Available() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state.Status == StatusCooldown && t.now().Before(t.state.CooldownUntil) {
		return &ErrCoolingDown{Name: t.state.Name, Until: t.state.CooldownUntil}
	}
	return nil
}

// Check adapts Available to a health endpoint check
func (t *Tracker) Check(context.Context) error {
	return t.Available()
}

// MarkHealthy records a successful request
func (t *Tracker) MarkHealthy() {
	t.mu.Lock()
	defer t.mu.Unlock()

	recovered := t.state.Status == StatusDegraded || t.state.Status == StatusCooldown
	t.state.Status = StatusHealthy
	t.state.FailureCount = 0
	t.state.LastError = ""
	t.state.LastSuccessAt = t.now()
	t.state.CooldownUntil = time.Time{}

	if recovered {
		log.Printf("[HEALTH] %s recovered - now healthy", t.state.Name)
	}
}

// MarkUnhealthy records a failed request
func (t *Tracker) MarkUnhealthy(f Failure) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.state.FailureCount++
	t.state.LastError = truncateStr(f.String(), 200)

	if d := f.Cooldown(); d > 0 {
		t.coolDown(d)
		return
	}
	if t.state.FailureCount >= t.failureThreshold {
		t.coolDown(t.cooldownDuration)
		return
	}
	t.state.Status = StatusDegraded
	log.Printf("[HEALTH] %s failure %d/%d: %s",
		t.state.Name, t.state.FailureCount, t.failureThreshold, t.state.LastError)
}

func (t *Tracker) coolDown(d time.Duration) {
	t.state.Status = StatusCooldown
	t.state.CooldownUntil = t.now().Add(d)
	log.Printf("[HEALTH] %s in COOLDOWN until %s (reason: %s)",
		t.state.Name, t.state.CooldownUntil.Format(time.RFC3339), truncateStr(t.state.LastError, 100))
}

// Snapshot returns the current state
func (t *Tracker) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

func truncateStr(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
