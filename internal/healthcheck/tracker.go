package healthcheck

import (
	"sort"
	"sync"
	"time"
)

// EnvironmentStatus is the last watch cycle result of one environment.
type EnvironmentStatus struct {
	LastCycleTime  time.Time `json:"last_cycle_time"`
	ActiveReleases int       `json:"active_releases"`
	FailedReleases int       `json:"failed_releases"`
	LastError      string    `json:"last_error,omitempty"`
}

// Snapshot describes the latest cycle timing details.
type Snapshot struct {
	LastCycleTime         *time.Time                   `json:"last_cycle_time"`
	CycleDurationMS       int64                        `json:"cycle_duration_ms"`
	EnvironmentsEvaluated int                          `json:"environments_evaluated"`
	Environments          map[string]EnvironmentStatus `json:"environments,omitempty"`
	Pending               []string                     `json:"pending,omitempty"`
}

// Tracker records cycle timing for health endpoints.
type Tracker struct {
	mu                    sync.RWMutex
	lastCycle             time.Time
	cycleDuration         time.Duration
	environmentsEvaluated int
	environments          map[string]EnvironmentStatus
	expected              map[string]struct{}
	ready                 bool
	now                   func() time.Time
}

// NewTracker constructs a new Tracker.
func NewTracker() *Tracker {
	return &Tracker{
		environments: make(map[string]EnvironmentStatus),
		expected:     make(map[string]struct{}),
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// Expect registers environments that must report once before the tracker is ready.
func (t *Tracker) Expect(names ...string) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, name := range names {
		t.expected[name] = struct{}{}
	}
}

// RecordEnvironment stores the outcome of one environment cycle.
// A nil err clears the last error of the environment.
func (t *Tracker) RecordEnvironment(name string, duration time.Duration, active, failed int, err error) {
	if t == nil {
		return
	}
	now := t.now()
	status := EnvironmentStatus{
		LastCycleTime:  now,
		ActiveReleases: active,
		FailedReleases: failed,
	}
	if err != nil {
		status.LastError = err.Error()
	}
	t.mu.Lock()
	t.environments[name] = status
	t.lastCycle = now
	t.cycleDuration = duration
	t.environmentsEvaluated = len(t.environments)
	t.ready = true
	t.mu.Unlock()
}

// Snapshot returns the current tracker snapshot.
func (t *Tracker) Snapshot() Snapshot {
	if t == nil {
		return Snapshot{}
	}
	t.mu.RLock()
	defer t.mu.RUnlock()

	var last *time.Time
	if !t.lastCycle.IsZero() {
		value := t.lastCycle
		last = &value
	}
	var environments map[string]EnvironmentStatus
	if len(t.environments) > 0 {
		environments = make(map[string]EnvironmentStatus, len(t.environments))
		for name, status := range t.environments {
			environments[name] = status
		}
	}
	return Snapshot{
		LastCycleTime:         last,
		CycleDurationMS:       int64(t.cycleDuration / time.Millisecond),
		EnvironmentsEvaluated: t.environmentsEvaluated,
		Environments:          environments,
		Pending:               t.pendingLocked(),
	}
}

func (t *Tracker) pendingLocked() []string {
	var pending []string
	for name := range t.expected {
		if _, ok := t.environments[name]; !ok {
			pending = append(pending, name)
		}
	}
	sort.Strings(pending)
	return pending
}

// Ready reports whether a cycle has completed and every expected environment has reported.
func (t *Tracker) Ready() bool {
	if t == nil {
		return false
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.ready && len(t.pendingLocked()) == 0
}

// Healthy reports whether the last cycle completed within 2x the poll interval.
func (t *Tracker) Healthy(now time.Time, pollInterval time.Duration) bool {
	if t == nil {
		return false
	}
	if pollInterval <= 0 {
		return false
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.lastCycle.IsZero() {
		return false
	}
	return now.Sub(t.lastCycle) <= 2*pollInterval
}
