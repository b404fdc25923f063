// Package gateway provides a uniform call interface to N named model
// backends. Each backend carries its own endpoint, token and timeout
// limits, retry policy, and an ordered fallback sequence consulted when
// the backend is exhausted.
package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"golang.org/x/time/rate"

	"github.com/planforge/planforge/internal/monitor"
)

// ClientFactory builds the completion client for one backend. The
// default factory dials the configured endpoint; tests inject stubs.
type ClientFactory func(cfg BackendConfig) (Client, error)

// backend bundles a configured backend with its runtime guards.
type backend struct {
	cfg     BackendConfig
	client  Client
	breaker *breaker
	limiter *rate.Limiter
}

// Gateway routes generate calls to named backends, retrying within a
// backend with exponential backoff and walking the fallback sequence
// when a backend is exhausted.
type Gateway struct {
	backends map[string]*backend
	order    []string
	tracker  *monitor.Tracker
}

// Option configures a Gateway.
type Option func(*options)

type options struct {
	factory ClientFactory
	tracker *monitor.Tracker
	breaker breakerConfig
}

// WithClientFactory overrides how backend clients are constructed.
func WithClientFactory(f ClientFactory) Option {
	return func(o *options) { o.factory = f }
}

// WithTracker records per-backend call metrics.
func WithTracker(t *monitor.Tracker) Option {
	return func(o *options) { o.tracker = t }
}

// WithBreaker tunes the per-backend circuit breaker.
func WithBreaker(failureThreshold int, recoveryTimeout time.Duration) Option {
	return func(o *options) {
		o.breaker = breakerConfig{
			failureThreshold: failureThreshold,
			recoveryTimeout:  recoveryTimeout,
		}
	}
}

// New creates a gateway over the given backend configurations.
func New(cfgs []BackendConfig, opts ...Option) (*Gateway, error) {
	if len(cfgs) == 0 {
		return nil, fmt.Errorf("no backends configured")
	}

	o := options{
		factory: newFantasyClient,
		breaker: defaultBreakerConfig(),
	}
	for _, opt := range opts {
		opt(&o)
	}

	g := &Gateway{
		backends: make(map[string]*backend, len(cfgs)),
		tracker:  o.tracker,
	}

	for _, cfg := range cfgs {
		cfg = cfg.withDefaults()
		if cfg.Name == "" {
			return nil, fmt.Errorf("backend with empty name")
		}
		if _, dup := g.backends[cfg.Name]; dup {
			return nil, fmt.Errorf("duplicate backend %q", cfg.Name)
		}

		client, err := o.factory(cfg)
		if err != nil {
			return nil, err
		}

		var limiter *rate.Limiter
		if cfg.RateLimit > 0 {
			limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), 1)
		}

		g.backends[cfg.Name] = &backend{
			cfg:     cfg,
			client:  client,
			breaker: newBreaker(o.breaker),
			limiter: limiter,
		}
		g.order = append(g.order, cfg.Name)
	}
	sort.Strings(g.order)

	// Fallback sequences must reference configured backends.
	for _, b := range g.backends {
		for _, fb := range b.cfg.Fallbacks {
			if _, ok := g.backends[fb]; !ok {
				return nil, fmt.Errorf("backend %q: fallback %q not configured", b.cfg.Name, fb)
			}
		}
	}

	return g, nil
}

// Models returns the configured model IDs in lexical order.
func (g *Gateway) Models() []string {
	out := make([]string, len(g.order))
	copy(out, g.order)
	return out
}

// ResolveFallback returns the next backend in modelID's fallback
// sequence after the given position. Position -1 asks for the first
// fallback. ok is false when the sequence is exhausted.
func (g *Gateway) ResolveFallback(modelID string, after int) (string, bool) {
	b, ok := g.backends[modelID]
	if !ok {
		return "", false
	}
	next := after + 1
	if next < 0 || next >= len(b.cfg.Fallbacks) {
		return "", false
	}
	return b.cfg.Fallbacks[next], true
}

// Generate sends a prompt to the named model. The model's own backend
// is attempted first with its full retry budget; on exhaustion each
// backend in the fallback sequence gets a single attempt. When the
// whole sequence fails the call returns an UnavailableError, which the
// workflow treats as a per-model failure, never a fatal one.
func (g *Gateway) Generate(ctx context.Context, modelID, prompt string) (string, error) {
	primary, ok := g.backends[modelID]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownModel, modelID)
	}

	tried := []string{modelID}
	text, err := g.callBackend(ctx, primary, prompt, primary.cfg.RetryAttempts)
	if err == nil {
		return text, nil
	}
	lastErr := err

	for pos := -1; ; {
		name, more := g.ResolveFallback(modelID, pos)
		if !more {
			break
		}
		pos++

		if ctx.Err() != nil {
			break
		}

		fb := g.backends[name]
		slog.Warn("backend exhausted, trying fallback",
			"model", modelID, "fallback", name, "error", lastErr)

		tried = append(tried, name)
		text, err = g.callBackend(ctx, fb, prompt, 0)
		if err == nil {
			return text, nil
		}
		lastErr = err
	}

	return "", &UnavailableError{ModelID: modelID, Tried: tried, Last: lastErr}
}

// Probe issues a minimal completion against the model's primary backend
// to verify connectivity before a workflow starts.
func (g *Gateway) Probe(ctx context.Context, modelID string) error {
	b, ok := g.backends[modelID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownModel, modelID)
	}
	_, err := g.callBackend(ctx, b, "Reply with the single word: ok", 0)
	return err
}

// BreakerStates reports each backend's circuit state for status output.
func (g *Gateway) BreakerStates() map[string]string {
	out := make(map[string]string, len(g.backends))
	for name, b := range g.backends {
		out[name] = b.breaker.currentState().String()
	}
	return out
}

// callBackend runs one backend's attempt loop: rate limit, circuit
// check, per-attempt timeout, exponential backoff between retries.
func (g *Gateway) callBackend(ctx context.Context, b *backend, prompt string, retries int) (string, error) {
	var lastErr error

	for attempt := 0; attempt <= retries; attempt++ {
		if attempt > 0 {
			delay := b.cfg.RetryDelay << (attempt - 1)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}

		if !b.breaker.allow() {
			lastErr = fmt.Errorf("backend %s: %w", b.cfg.Name, errBreakerOpen)
			break
		}
		if b.limiter != nil {
			if err := b.limiter.Wait(ctx); err != nil {
				return "", err
			}
		}

		callCtx, cancel := context.WithTimeout(ctx, b.cfg.Timeout)
		start := time.Now()
		text, err := b.client.Complete(callCtx, prompt, b.cfg.MaxTokens)
		cancel()

		b.breaker.record(err == nil)
		if g.tracker != nil {
			g.tracker.Record(b.cfg.Name, time.Since(start), err == nil)
		}

		if err == nil {
			return text, nil
		}
		lastErr = fmt.Errorf("backend %s attempt %d: %w", b.cfg.Name, attempt+1, err)

		if ctx.Err() != nil {
			return "", lastErr
		}
	}

	return "", lastErr
}
