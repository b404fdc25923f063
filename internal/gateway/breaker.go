package gateway

import (
	"errors"
	"sync"
	"time"
)

// breakerState is the current state of a backend circuit breaker.
type breakerState int

const (
	// breakerClosed allows calls through (normal operation).
	breakerClosed breakerState = iota

	// breakerOpen rejects calls immediately so a dead backend fails
	// fast to its fallback instead of burning its full retry budget.
	breakerOpen

	// breakerHalfOpen allows a single probe call through.
	breakerHalfOpen
)

func (s breakerState) String() string {
	switch s {
	case breakerClosed:
		return "closed"
	case breakerOpen:
		return "open"
	case breakerHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// errBreakerOpen is returned when the circuit rejects a call.
var errBreakerOpen = errors.New("backend circuit open")

// breakerConfig configures a backend circuit breaker.
type breakerConfig struct {
	// failureThreshold is consecutive failures before opening.
	failureThreshold int

	// recoveryTimeout is how long to stay open before probing.
	recoveryTimeout time.Duration
}

func defaultBreakerConfig() breakerConfig {
	return breakerConfig{
		failureThreshold: 3,
		recoveryTimeout:  30 * time.Second,
	}
}

// breaker implements a per-backend circuit breaker. It trips after a run
// of consecutive failures and probes recovery after a timeout.
type breaker struct {
	cfg breakerConfig

	mu          sync.Mutex
	state       breakerState
	failures    int
	lastFailure time.Time
}

func newBreaker(cfg breakerConfig) *breaker {
	if cfg.failureThreshold <= 0 {
		cfg.failureThreshold = 3
	}
	if cfg.recoveryTimeout <= 0 {
		cfg.recoveryTimeout = 30 * time.Second
	}
	return &breaker{cfg: cfg}
}

// allow reports whether a call may proceed. In the open state it flips
// to half-open once the recovery timeout has elapsed.
func (b *breaker) allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case breakerClosed, breakerHalfOpen:
		return true
	case breakerOpen:
		if time.Since(b.lastFailure) >= b.cfg.recoveryTimeout {
			b.state = breakerHalfOpen
			return true
		}
		return false
	default:
		return true
	}
}

// record updates breaker state with the outcome of a call.
func (b *breaker) record(success bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if success {
		b.state = breakerClosed
		b.failures = 0
		return
	}

	b.failures++
	b.lastFailure = time.Now()
	if b.state == breakerHalfOpen || b.failures >= b.cfg.failureThreshold {
		b.state = breakerOpen
	}
}

// currentState returns the breaker state for status reporting.
func (b *breaker) currentState() breakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}
