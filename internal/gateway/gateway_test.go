package gateway

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/planforge/planforge/internal/monitor"
)

// fakeClient scripts one backend's responses.
type fakeClient struct {
	mu    sync.Mutex
	calls int
	fn    func(call int) (string, error)
}

func (f *fakeClient) Complete(_ context.Context, _ string, _ int) (string, error) {
	f.mu.Lock()
	f.calls++
	call := f.calls
	f.mu.Unlock()
	return f.fn(call)
}

func (f *fakeClient) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func alwaysFail(msg string) *fakeClient {
	return &fakeClient{fn: func(int) (string, error) { return "", fmt.Errorf("%s", msg) }}
}

func alwaysOK(text string) *fakeClient {
	return &fakeClient{fn: func(int) (string, error) { return text, nil }}
}

// newTestGateway wires fake clients by backend name.
func newTestGateway(t *testing.T, cfgs []BackendConfig, clients map[string]*fakeClient, opts ...Option) *Gateway {
	t.Helper()
	factory := func(cfg BackendConfig) (Client, error) {
		c, ok := clients[cfg.Name]
		if !ok {
			return nil, fmt.Errorf("no fake client for %s", cfg.Name)
		}
		return c, nil
	}
	g, err := New(cfgs, append([]Option{WithClientFactory(factory)}, opts...)...)
	require.NoError(t, err)
	return g
}

func fastCfg(name string, fallbacks ...string) BackendConfig {
	return BackendConfig{
		Name:          name,
		Endpoint:      "http://localhost",
		APIKey:        "key",
		Model:         name + "-model",
		RetryAttempts: 2,
		RetryDelay:    time.Millisecond,
		Fallbacks:     fallbacks,
	}
}

func TestNewValidatesConfig(t *testing.T) {
	_, err := New(nil)
	assert.Error(t, err)

	factory := func(BackendConfig) (Client, error) { return alwaysOK("x"), nil }

	_, err = New([]BackendConfig{fastCfg("a"), fastCfg("a")}, WithClientFactory(factory))
	assert.Error(t, err, "duplicate names rejected")

	_, err = New([]BackendConfig{fastCfg("a", "ghost")}, WithClientFactory(factory))
	assert.Error(t, err, "fallback must be configured")
}

func TestGenerateSuccess(t *testing.T) {
	clients := map[string]*fakeClient{"a": alwaysOK("hello")}
	g := newTestGateway(t, []BackendConfig{fastCfg("a")}, clients)

	text, err := g.Generate(context.Background(), "a", "prompt")
	require.NoError(t, err)
	assert.Equal(t, "hello", text)
	assert.Equal(t, 1, clients["a"].count())
}

func TestGenerateUnknownModel(t *testing.T) {
	g := newTestGateway(t, []BackendConfig{fastCfg("a")},
		map[string]*fakeClient{"a": alwaysOK("x")})

	_, err := g.Generate(context.Background(), "nope", "prompt")
	assert.ErrorIs(t, err, ErrUnknownModel)
}

func TestGenerateRetriesPrimary(t *testing.T) {
	// Fails twice, succeeds on the third attempt (RetryAttempts: 2).
	c := &fakeClient{fn: func(call int) (string, error) {
		if call < 3 {
			return "", fmt.Errorf("transient")
		}
		return "recovered", nil
	}}
	g := newTestGateway(t, []BackendConfig{fastCfg("a")}, map[string]*fakeClient{"a": c})

	text, err := g.Generate(context.Background(), "a", "prompt")
	require.NoError(t, err)
	assert.Equal(t, "recovered", text)
	assert.Equal(t, 3, c.count())
}

func TestGenerateWalksFallbackChain(t *testing.T) {
	clients := map[string]*fakeClient{
		"primary": alwaysFail("down"),
		"first":   alwaysFail("also down"),
		"second":  alwaysOK("from second"),
	}
	cfgs := []BackendConfig{
		fastCfg("primary", "first", "second"),
		fastCfg("first"),
		fastCfg("second"),
	}
	g := newTestGateway(t, cfgs, clients)

	text, err := g.Generate(context.Background(), "primary", "prompt")
	require.NoError(t, err)
	assert.Equal(t, "from second", text)

	// Primary got its full retry budget, fallbacks one attempt each.
	assert.Equal(t, 3, clients["primary"].count())
	assert.Equal(t, 1, clients["first"].count())
	assert.Equal(t, 1, clients["second"].count())
}

func TestGenerateExhaustedChainReturnsUnavailable(t *testing.T) {
	clients := map[string]*fakeClient{
		"primary": alwaysFail("down"),
		"backup":  alwaysFail("down too"),
	}
	g := newTestGateway(t, []BackendConfig{
		fastCfg("primary", "backup"),
		fastCfg("backup"),
	}, clients)

	_, err := g.Generate(context.Background(), "primary", "prompt")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrModelUnavailable)

	var unavail *UnavailableError
	require.ErrorAs(t, err, &unavail)
	assert.Equal(t, "primary", unavail.ModelID)
	assert.Equal(t, []string{"primary", "backup"}, unavail.Tried)
}

func TestResolveFallback(t *testing.T) {
	g := newTestGateway(t, []BackendConfig{
		fastCfg("a", "b", "c"),
		fastCfg("b"),
		fastCfg("c"),
	}, map[string]*fakeClient{
		"a": alwaysOK("x"), "b": alwaysOK("x"), "c": alwaysOK("x"),
	})

	name, ok := g.ResolveFallback("a", -1)
	require.True(t, ok)
	assert.Equal(t, "b", name)

	name, ok = g.ResolveFallback("a", 0)
	require.True(t, ok)
	assert.Equal(t, "c", name)

	_, ok = g.ResolveFallback("a", 1)
	assert.False(t, ok)

	_, ok = g.ResolveFallback("b", -1)
	assert.False(t, ok, "no fallbacks configured")
}

func TestBreakerOpensAfterThreshold(t *testing.T) {
	c := alwaysFail("down")
	cfg := fastCfg("a")
	cfg.RetryAttempts = 0
	g := newTestGateway(t, []BackendConfig{cfg}, map[string]*fakeClient{"a": c},
		WithBreaker(2, time.Hour))

	for i := 0; i < 2; i++ {
		_, err := g.Generate(context.Background(), "a", "prompt")
		require.Error(t, err)
	}
	assert.Equal(t, 2, c.count())

	// Breaker is open now: the client is not called again.
	_, err := g.Generate(context.Background(), "a", "prompt")
	require.Error(t, err)
	assert.Equal(t, 2, c.count())
	assert.Equal(t, "open", g.BreakerStates()["a"])
}

func TestGenerateRespectsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	b := alwaysOK("x")
	g := newTestGateway(t, []BackendConfig{fastCfg("a", "b"), fastCfg("b")},
		map[string]*fakeClient{"a": alwaysFail("down"), "b": b})

	_, err := g.Generate(ctx, "a", "prompt")
	require.Error(t, err)
	// Cancelled context stops the walk before the fallback is dialed.
	assert.ErrorIs(t, err, ErrModelUnavailable)
	assert.Zero(t, b.count())
}

func TestTrackerRecordsCalls(t *testing.T) {
	tracker := monitor.NewTracker()
	c := &fakeClient{fn: func(call int) (string, error) {
		if call == 1 {
			return "", fmt.Errorf("transient")
		}
		return "ok", nil
	}}
	g := newTestGateway(t, []BackendConfig{fastCfg("a")},
		map[string]*fakeClient{"a": c}, WithTracker(tracker))

	_, err := g.Generate(context.Background(), "a", "prompt")
	require.NoError(t, err)

	stats := tracker.Snapshot()["a"]
	assert.Equal(t, 2, stats.Calls)
	assert.Equal(t, 1, stats.Failures)
	assert.InDelta(t, 0.5, stats.SuccessRate(), 1e-9)
}

func TestProbe(t *testing.T) {
	g := newTestGateway(t, []BackendConfig{fastCfg("a"), fastCfg("b")},
		map[string]*fakeClient{"a": alwaysOK("ok"), "b": alwaysFail("down")})

	assert.NoError(t, g.Probe(context.Background(), "a"))
	assert.Error(t, g.Probe(context.Background(), "b"))
	assert.ErrorIs(t, g.Probe(context.Background(), "c"), ErrUnknownModel)
}
