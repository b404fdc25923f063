// Package monitor tracks per-backend call performance for the gateway.
package monitor

import (
	"sync"
	"time"
)

// BackendStats summarizes observed calls to one backend.
type BackendStats struct {
	Calls         int
	Failures      int
	TotalDuration time.Duration
	MinDuration   time.Duration
	MaxDuration   time.Duration
	LastCall      time.Time
}

// AvgDuration returns the mean call duration, zero when no calls.
func (s BackendStats) AvgDuration() time.Duration {
	if s.Calls == 0 {
		return 0
	}
	return s.TotalDuration / time.Duration(s.Calls)
}

// SuccessRate returns the fraction of calls that succeeded.
func (s BackendStats) SuccessRate() float64 {
	if s.Calls == 0 {
		return 0
	}
	return float64(s.Calls-s.Failures) / float64(s.Calls)
}

// Tracker records call outcomes per backend. Safe for concurrent use.
type Tracker struct {
	mu    sync.Mutex
	stats map[string]BackendStats
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{stats: make(map[string]BackendStats)}
}

// Record adds one call observation for a backend.
func (t *Tracker) Record(backend string, d time.Duration, success bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	s := t.stats[backend]
	s.Calls++
	if !success {
		s.Failures++
	}
	s.TotalDuration += d
	if s.MinDuration == 0 || d < s.MinDuration {
		s.MinDuration = d
	}
	if d > s.MaxDuration {
		s.MaxDuration = d
	}
	s.LastCall = time.Now()
	t.stats[backend] = s
}

// Snapshot returns a copy of all backend stats.
func (t *Tracker) Snapshot() map[string]BackendStats {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make(map[string]BackendStats, len(t.stats))
	for k, v := range t.stats {
		out[k] = v
	}
	return out
}
