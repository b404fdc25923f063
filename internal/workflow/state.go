package workflow

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/planforge/planforge/internal/plan"
	"github.com/planforge/planforge/internal/quality"
)

var (
	// ErrInvalidInput is returned when session input fails validation.
	// No workflow is created.
	ErrInvalidInput = errors.New("invalid session input")

	// ErrAllModelsFailed is reported when every configured model fails
	// initial generation even after fallbacks.
	ErrAllModelsFailed = errors.New("all models failed initial generation")

	// ErrAlreadyTerminal is returned by Cancel on a finished workflow.
	ErrAlreadyTerminal = errors.New("workflow already terminal")
)

// Status is the lifecycle state of a workflow.
type Status string

const (
	StatusIdle      Status = "idle"
	StatusRunning   Status = "running"
	StatusConverged Status = "converged"
	StatusMaxRounds Status = "max_rounds_reached"
	StatusFailed    Status = "failed"
)

// Terminal reports whether no further transitions are possible.
func (s Status) Terminal() bool {
	switch s {
	case StatusConverged, StatusMaxRounds, StatusFailed:
		return true
	}
	return false
}

const (
	minRounds        = 1
	maxRoundsLimit   = 10
	defaultThreshold = 0.80
)

// SessionInput describes one refinement session.
type SessionInput struct {
	// Subject is the topic the plan covers, e.g. "photosynthesis".
	Subject string

	// GradeBand is the audience, e.g. "grades 6-8".
	GradeBand string

	// Objectives are the learning objectives the plan must address.
	Objectives []string

	// MaxRounds bounds the number of analysis/improvement rounds.
	// Must be between 1 and 10 inclusive.
	MaxRounds int

	// QualityThreshold stops the loop once the aggregate score reaches
	// it. Zero means the default of 0.80.
	QualityThreshold float64
}

// Validate checks the input before any model call is made. All
// problems are reported together.
func (in SessionInput) Validate() error {
	var problems []string
	if strings.TrimSpace(in.Subject) == "" {
		problems = append(problems, "subject is required")
	}
	if strings.TrimSpace(in.GradeBand) == "" {
		problems = append(problems, "grade band is required")
	}
	if len(in.Objectives) == 0 {
		problems = append(problems, "at least one objective is required")
	}
	for i, obj := range in.Objectives {
		if strings.TrimSpace(obj) == "" {
			problems = append(problems, fmt.Sprintf("objective %d is empty", i+1))
		}
	}
	if in.MaxRounds < minRounds || in.MaxRounds > maxRoundsLimit {
		problems = append(problems, fmt.Sprintf("max rounds must be between %d and %d, got %d",
			minRounds, maxRoundsLimit, in.MaxRounds))
	}
	if in.QualityThreshold < 0 || in.QualityThreshold > 1 {
		problems = append(problems, fmt.Sprintf("quality threshold must be within [0, 1], got %g",
			in.QualityThreshold))
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidInput, strings.Join(problems, "; "))
	}
	return nil
}

func (in SessionInput) threshold() float64 {
	if in.QualityThreshold == 0 {
		return defaultThreshold
	}
	return in.QualityThreshold
}

// State is a point-in-time view of a workflow. Status returns a deep
// copy, so callers may hold it across rounds.
type State struct {
	Status           Status
	Reason           string
	CurrentRound     int
	MaxRounds        int
	QualityThreshold float64

	// Plans holds the current plan per model.
	Plans map[string]plan.ModelPlan

	// History holds one quality snapshot per completed round.
	History []quality.Snapshot
}

// stateGuard owns the mutable lifecycle fields of a workflow. A
// terminal status is sticky: once set it never changes again.
type stateGuard struct {
	mu    sync.RWMutex
	state State
}

func (g *stateGuard) snapshot() State {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.state
}

func (g *stateGuard) terminal() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.state.Status.Terminal()
}

func (g *stateGuard) setRound(round int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.state.CurrentRound = round
}

func (g *stateGuard) setTerminal(status Status, reason string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.state.Status.Terminal() {
		return
	}
	g.state.Status = status
	g.state.Reason = reason
}
