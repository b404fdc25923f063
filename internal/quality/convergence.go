package quality

import (
	"math"
	"sync"
)

const (
	// ConvergenceEpsilon is the plateau threshold: a delta between
	// consecutive aggregate scores below this counts as "no movement".
	ConvergenceEpsilon = 0.01

	// convergenceWindow is how many trailing snapshots the look-back
	// reads. Fewer entries than this never converge by plateau.
	convergenceWindow = 3
)

// History is the append-only ordered sequence of round snapshots for a
// session. It is safe for concurrent reads while the controller appends.
type History struct {
	mu    sync.RWMutex
	snaps []Snapshot
}

// NewHistory creates an empty quality history.
func NewHistory() *History {
	return &History{}
}

// Append records a completed round's snapshot.
func (h *History) Append(s Snapshot) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.snaps = append(h.snaps, s)
}

// Len returns the number of recorded rounds.
func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.snaps)
}

// Last returns the most recent snapshot.
func (h *History) Last() (Snapshot, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if len(h.snaps) == 0 {
		return Snapshot{}, false
	}
	return h.snaps[len(h.snaps)-1], true
}

// All returns a copy of the full ordered history.
func (h *History) All() []Snapshot {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return append([]Snapshot(nil), h.snaps...)
}

// Converged reports whether quality has plateaued: with at least three
// recorded rounds, both most-recent consecutive deltas are below
// ConvergenceEpsilon. Shorter histories never converge by this rule and
// must stop via threshold or the round limit instead.
func (h *History) Converged() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if len(h.snaps) < convergenceWindow {
		return false
	}
	tail := h.snaps[len(h.snaps)-convergenceWindow:]
	for i := 1; i < len(tail); i++ {
		delta := math.Abs(tail[i].Aggregate - tail[i-1].Aggregate)
		if delta >= ConvergenceEpsilon {
			return false
		}
	}
	return true
}
